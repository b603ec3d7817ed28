package overdue

import (
	"context"
	"database/sql"
	"time"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// FindOverdueOrders は未返却のまま期限を過ぎたオーダーを返す。
// borrowed / partially_returned のみ対象（pending はまだ貸し出していない）。
// today はその日の0時を渡す前提（DATE 列との比較のため）。
func (s *Store) FindOverdueOrders(ctx context.Context, today time.Time) ([]OverdueOrder, error) {
	const q = `
	SELECT o.order_id, o.order_ulid, o.borrower_id, o.return_due_date, bi.asset_number
	FROM orders o
	JOIN borrow_items bi ON bi.order_id = o.order_id AND bi.status = 'borrowed'
	WHERE o.status IN ('borrowed','partially_returned')
	  AND o.return_due_date < ?
	ORDER BY o.order_id, bi.item_id`
	rows, err := s.db.QueryContext(ctx, q, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OverdueOrder
	var cur *OverdueOrder
	for rows.Next() {
		var (
			orderID        int64
			ulid, borrower string
			due            time.Time
			assetNum       string
		)
		if err := rows.Scan(&orderID, &ulid, &borrower, &due, &assetNum); err != nil {
			return nil, err
		}
		if cur == nil || cur.OrderID != orderID {
			out = append(out, OverdueOrder{
				OrderID: orderID, OrderULID: ulid, BorrowerID: borrower, ReturnDueDate: due,
			})
			cur = &out[len(out)-1]
		}
		cur.AssetNumbers = append(cur.AssetNumbers, assetNum)
	}
	return out, rows.Err()
}

func (s *Store) InsertNotificationLog(ctx context.Context, orderID int64, kind string, ok bool, detail string) error {
	const q = `
	INSERT INTO notification_logs (order_id, kind, succeeded, detail, sent_at)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`
	var d sql.NullString
	if detail != "" {
		d = sql.NullString{String: detail, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q, orderID, kind, ok, d)
	return err
}
