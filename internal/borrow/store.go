package borrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"SATT-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(dbc *sql.DB) *Store {
	return &Store{db: dbc}
}

// MySQL 1062 (duplicate entry)
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

const assetStateQuery = `
SELECT a.asset_id, a.asset_number, a.name, a.location, a.destroyed,
       act.status AS active_status,
       latest.status AS latest_status
FROM assets a
LEFT JOIN borrow_items act
       ON act.asset_id = a.asset_id AND act.status IN ('pending','borrowed')
LEFT JOIN borrow_items latest
       ON latest.item_id = (
            SELECT bi.item_id FROM borrow_items bi
            WHERE bi.asset_id = a.asset_id
            ORDER BY bi.item_id DESC LIMIT 1)
`

func scanAssetState(rows *sql.Rows, st *AssetState) error {
	return rows.Scan(
		&st.AssetID, &st.AssetNumber, &st.AssetName, &st.Location,
		&st.Destroyed, &st.ActiveStatus, &st.LatestStatus,
	)
}

// AssetStates は可用性判定用のスナップショットを返す。
// active_asset_id のユニーク制約により pending/borrowed のアイテムは
// 資産ごとに高々1行なので、JOIN で行が増殖することはない。
func (s *Store) AssetStates(ctx context.Context, assetNumbers []string) ([]AssetState, error) {
	if len(assetNumbers) == 0 {
		return nil, nil
	}
	query := assetStateQuery + ` WHERE a.asset_number IN (` + placeholders(len(assetNumbers)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(assetNumbers)...)
	if err != nil {
		return nil, fmt.Errorf("資産状態の取得に失敗: %w", err)
	}
	defer rows.Close()

	var states []AssetState
	for rows.Next() {
		var st AssetState
		if err := scanAssetState(rows, &st); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *Store) CheckAsset(ctx context.Context, assetNumber string) (*AssetCheck, error) {
	query := `
SELECT a.asset_id, a.asset_number, a.name, a.location, a.destroyed,
       act.status AS active_status,
       latest.status AS latest_status,
       o.borrow_date, o.return_due_date
FROM assets a
LEFT JOIN borrow_items act
       ON act.asset_id = a.asset_id AND act.status IN ('pending','borrowed')
LEFT JOIN orders o ON o.order_id = act.order_id
LEFT JOIN borrow_items latest
       ON latest.item_id = (
            SELECT bi.item_id FROM borrow_items bi
            WHERE bi.asset_id = a.asset_id
            ORDER BY bi.item_id DESC LIMIT 1)
WHERE a.asset_number = ?`

	var chk AssetCheck
	err := s.db.QueryRowContext(ctx, query, assetNumber).Scan(
		&chk.AssetID, &chk.AssetNumber, &chk.AssetName, &chk.Location,
		&chk.Destroyed, &chk.ActiveStatus, &chk.LatestStatus,
		&chk.BorrowDate, &chk.ReturnDueDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("asset not found: " + assetNumber)
	}
	if err != nil {
		return nil, err
	}
	return &chk, nil
}

// ExecCreateOrder はオーダーとアイテムを1トランザクションで登録する。
// 資産行を asset_id 昇順でロックしてから可用性を再チェックし、
// それでもすり抜けた競合は active_asset_id のユニーク違反(1062)で弾く。
func (s *Store) ExecCreateOrder(ctx context.Context, o *Order, items []*BorrowItem) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		ids := make([]int64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.AssetID)
		}
		// デッドロック回避のため常に asset_id 昇順でロックする
		lockQuery := `SELECT asset_id FROM assets WHERE asset_id IN (` +
			placeholders(len(ids)) + `) ORDER BY asset_id FOR UPDATE`
		rows, err := tx.QueryContext(ctx, lockQuery, int64sToAny(ids)...)
		if err != nil {
			return fmt.Errorf("資産行のロックに失敗: %w", err)
		}
		rows.Close()

		// ロック後の再チェック（ロック前に滑り込んだ申請を検出する）
		conflictQuery := `
SELECT a.asset_number FROM borrow_items bi
JOIN assets a ON a.asset_id = bi.asset_id
WHERE bi.asset_id IN (` + placeholders(len(ids)) + `) AND bi.status IN ('pending','borrowed')`
		rows, err = tx.QueryContext(ctx, conflictQuery, int64sToAny(ids)...)
		if err != nil {
			return err
		}
		var details []AssetUnavailableDetail
		for rows.Next() {
			var num string
			if err := rows.Scan(&num); err != nil {
				rows.Close()
				return err
			}
			details = append(details, AssetUnavailableDetail{AssetNumber: num, Reason: ReasonAlreadyBorrowed})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(details) > 0 {
			return ErrAssetUnavailable(details)
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO orders
  (order_ulid, borrower_id, borrow_date, return_due_date, status, type, notes, borrow_image)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			o.OrderULID, o.BorrowerID, o.BorrowDate, o.ReturnDueDate,
			o.Status, o.Type, o.Notes, o.BorrowImage)
		if err != nil {
			return fmt.Errorf("オーダーの登録に失敗: %w", err)
		}
		orderID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		o.OrderID = orderID

		for _, it := range items {
			it.OrderID = orderID
			res, err := tx.ExecContext(ctx, `
INSERT INTO borrow_items
  (order_id, asset_id, asset_number, asset_name, status, location_at_borrow, borrow_date)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				it.OrderID, it.AssetID, it.AssetNumber, it.AssetName,
				it.Status, it.LocationAtBorrow, it.BorrowDate)
			if isDuplicateKey(err) {
				// uq_borrow_items_active_asset 違反 = 直前に他の申請が通った
				return ErrAssetUnavailable([]AssetUnavailableDetail{
					{AssetNumber: it.AssetNumber, Reason: ReasonAlreadyBorrowed},
				})
			}
			if err != nil {
				return fmt.Errorf("貸出アイテムの登録に失敗: %w", err)
			}
			itemID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			it.ItemID = itemID
		}
		return nil
	})
}

const orderColumns = `
order_id, order_ulid, borrower_id, borrow_date, return_due_date, return_completed_at,
status, type, notes, admin_note, return_note, borrow_image, return_image, created_at`

func scanOrder(row interface{ Scan(dest ...any) error }, o *Order) error {
	return row.Scan(
		&o.OrderID, &o.OrderULID, &o.BorrowerID, &o.BorrowDate, &o.ReturnDueDate,
		&o.ReturnCompletedAt, &o.Status, &o.Type, &o.Notes, &o.AdminNote,
		&o.ReturnNote, &o.BorrowImage, &o.ReturnImage, &o.CreatedAt,
	)
}

func (s *Store) GetOrderByULID(ctx context.Context, orderULID string) (*Order, error) {
	var o Order
	err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_ulid = ?`, orderULID), &o)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("order not found: " + orderULID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ItemsByOrder(ctx context.Context, orderID int64) ([]BorrowItem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT item_id, order_id, asset_id, asset_number, asset_name, status,
       location_at_borrow, borrow_date, return_date, created_at
FROM borrow_items WHERE order_id = ? ORDER BY item_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []BorrowItem
	for rows.Next() {
		var it BorrowItem
		if err := rows.Scan(
			&it.ItemID, &it.OrderID, &it.AssetID, &it.AssetNumber, &it.AssetName,
			&it.Status, &it.LocationAtBorrow, &it.BorrowDate, &it.ReturnDate, &it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ExecDecide は承認/却下の結果を1トランザクションで書き込む。
// アイテム状態と Order 状態は必ず同時に更新する。
func (s *Store) ExecDecide(ctx context.Context, orderID int64, upd DecisionUpdate) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		// Order 行をロックして並行 Decide / StageReturn と直列化
		var cur OrderStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE order_id = ? FOR UPDATE`, orderID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound("order not found")
		}
		if err != nil {
			return err
		}
		if cur.IsTerminal() {
			return ErrConflict("order already finalized")
		}

		now := time.Now().UTC()
		for itemID, st := range upd.ItemStatuses {
			q := `UPDATE borrow_items SET status = ? WHERE item_id = ? AND order_id = ?`
			args := []any{st, itemID, orderID}
			if st == ItemReturned || st == ItemRepair {
				q = `UPDATE borrow_items SET status = ?, return_date = COALESCE(return_date, ?)
				     WHERE item_id = ? AND order_id = ?`
				args = []any{st, now, itemID, orderID}
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("アイテム状態の更新に失敗: %w", err)
			}
		}

		q := `UPDATE orders SET status = ?, type = ?, admin_note = COALESCE(?, admin_note)`
		args := []any{upd.Status, upd.Type, upd.AdminNote}
		if upd.MarkReturnCompleted {
			q += `, return_completed_at = COALESCE(return_completed_at, ?)`
			args = append(args, upd.CompletedAt)
		}
		q += ` WHERE order_id = ?`
		args = append(args, orderID)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("オーダー状態の更新に失敗: %w", err)
		}
		return nil
	})
}

// FindBorrowedItem は貸出中(borrowed)のアイテム行を資産番号から引く
func (s *Store) FindBorrowedItem(ctx context.Context, assetNumber string) (*BorrowItem, error) {
	var it BorrowItem
	err := s.db.QueryRowContext(ctx, `
SELECT item_id, order_id, asset_id, asset_number, asset_name, status,
       location_at_borrow, borrow_date, return_date, created_at
FROM borrow_items
WHERE asset_number = ? AND status = 'borrowed'
ORDER BY item_id DESC LIMIT 1`, assetNumber).Scan(
		&it.ItemID, &it.OrderID, &it.AssetID, &it.AssetNumber, &it.AssetName,
		&it.Status, &it.LocationAtBorrow, &it.BorrowDate, &it.ReturnDate, &it.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("no borrowed item for asset: " + assetNumber)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// ExecStageReturn は返却スキャンされたアイテムを検品待ち(pending)に仮置きし、
// 同一トランザクションで Order の状態を導出し直す。
// borrowed のアイテムが残らなくなった時点で return_completed_at を打つ。
func (s *Store) ExecStageReturn(ctx context.Context, itemID, orderID int64, now time.Time, image sql.NullString, note sql.NullString) (OrderStatus, error) {
	var derived OrderStatus
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var cur OrderStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE order_id = ? FOR UPDATE`, orderID).Scan(&cur)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
UPDATE borrow_items SET status = 'pending', return_date = ?
WHERE item_id = ? AND status = 'borrowed'`, now, itemID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// 並行返却とぶつかった（もう borrowed ではない）
			return ErrConflict("item is no longer borrowed")
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT status FROM borrow_items WHERE order_id = ?`, orderID)
		if err != nil {
			return err
		}
		var statuses []ItemStatus
		borrowedLeft := false
		for rows.Next() {
			var st ItemStatus
			if err := rows.Scan(&st); err != nil {
				rows.Close()
				return err
			}
			if st == ItemBorrowed {
				borrowedLeft = true
			}
			statuses = append(statuses, st)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		derived = DeriveOrderStatus(TypeReturned, statuses)
		q := `UPDATE orders SET status = ?, type = 'returned',
		      return_note = COALESCE(?, return_note),
		      return_image = COALESCE(?, return_image)`
		args := []any{derived, note, image}
		if !borrowedLeft {
			q += `, return_completed_at = COALESCE(return_completed_at, ?)`
			args = append(args, now)
		}
		q += ` WHERE order_id = ?`
		args = append(args, orderID)
		_, err = tx.ExecContext(ctx, q, args...)
		return err
	})
	return derived, err
}

// ExecExtendDueDate は返却期限の延長をロック付きで適用する。
// 事前チェックのあとに並行 Decide が確定させたオーダーへ
// 上書きしないよう、ExecDecide と同様にロック下で状態を取り直す。
func (s *Store) ExecExtendDueDate(ctx context.Context, orderID int64, due time.Time) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var cur OrderStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE order_id = ? FOR UPDATE`, orderID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound("order not found")
		}
		if err != nil {
			return err
		}
		if cur.IsTerminal() {
			return ErrExtensionNotAllowed("order already finalized")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET return_due_date = ? WHERE order_id = ?`, due, orderID); err != nil {
			return fmt.Errorf("返却期限の更新に失敗: %w", err)
		}
		return nil
	})
}

func (s *Store) ListOrders(ctx context.Context, f OrderFilter, p Page) ([]*Order, int64, error) {
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		conds = append(conds, `status IN (`+placeholders(len(f.Statuses))+`)`)
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.BorrowerID != "" {
		conds = append(conds, `borrower_id = ?`)
		args = append(args, f.BorrowerID)
	}
	where := ""
	if len(conds) > 0 {
		where = ` WHERE ` + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "DESC"
	if strings.EqualFold(p.Order, "asc") {
		dir = "ASC"
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 50
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY order_id ` + dir + ` LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, 0, err
		}
		orders = append(orders, &o)
	}
	return orders, total, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func int64sToAny(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
