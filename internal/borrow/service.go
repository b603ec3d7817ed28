package borrow

import (
	"context"
	"crypto/rand"
	"database/sql"
	"log"
	"strings"
	"time"

	ulid "github.com/oklog/ulid/v2"

	"SATT-backend/internal/platform/files"
	"SATT-backend/internal/platform/notify"
)

const dateLayout = "2006-01-02"

// 延長の上限。申請時点から90日を超える期限は受け付けない。
const maxExtension = 90 * 24 * time.Hour

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }
type ulidGen struct{}

func (ulidGen) NewULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// -------------- Store interface --------------

// DecisionUpdate は承認/却下の結果をまとめて永続化するための更新内容。
// ItemStatuses と Status は同一トランザクションで書く（片方だけ書くと
// 導出ルールが崩れる）。
type DecisionUpdate struct {
	Status              OrderStatus
	Type                OrderType
	AdminNote           sql.NullString
	ItemStatuses        map[int64]ItemStatus
	MarkReturnCompleted bool
	CompletedAt         time.Time
}

// AssetCheck は /borrow/check 用のビュー行
type AssetCheck struct {
	AssetState
	BorrowDate    sql.NullTime
	ReturnDueDate sql.NullTime
}

type OrderStore interface {
	AssetStates(ctx context.Context, assetNumbers []string) ([]AssetState, error)
	CheckAsset(ctx context.Context, assetNumber string) (*AssetCheck, error)
	ExecCreateOrder(ctx context.Context, o *Order, items []*BorrowItem) error
	GetOrderByULID(ctx context.Context, orderULID string) (*Order, error)
	ItemsByOrder(ctx context.Context, orderID int64) ([]BorrowItem, error)
	ExecDecide(ctx context.Context, orderID int64, upd DecisionUpdate) error
	FindBorrowedItem(ctx context.Context, assetNumber string) (*BorrowItem, error)
	ExecStageReturn(ctx context.Context, itemID, orderID int64, now time.Time, image sql.NullString, note sql.NullString) (OrderStatus, error)
	ExecExtendDueDate(ctx context.Context, orderID int64, due time.Time) error
	ListOrders(ctx context.Context, f OrderFilter, p Page) ([]*Order, int64, error)
}

// -------------- Service --------------

type Service struct {
	store    OrderStore
	clock    Clock
	id       IDGen
	notifier notify.Notifier
	files    files.Store
}

func NewService(dbc *sql.DB, n notify.Notifier, fs files.Store) *Service {
	return newService(NewStore(dbc), n, fs)
}

func newService(store OrderStore, n notify.Notifier, fs files.Store) *Service {
	return &Service{
		store:    store,
		clock:    realClock{},
		id:       ulidGen{},
		notifier: n,
		files:    fs,
	}
}

// CreateOrder は貸出オーダーと配下のアイテムをまとめて登録する。
// 事前条件: 全資産が貸出可能（未破棄・未貸出・修理中でない）。
// 登録はトランザクションで行い、1件でも作れなければ全体を作らない。
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderRequest) (OrderResponse, error) {
	if strings.TrimSpace(in.BorrowerID) == "" {
		return OrderResponse{}, ErrInvalid("borrower_id required")
	}
	if len(in.AssetNumbers) == 0 {
		return OrderResponse{}, ErrInvalid("assets must not be empty")
	}
	borrowDate, err := time.Parse(dateLayout, in.BorrowDate)
	if err != nil {
		return OrderResponse{}, ErrInvalid("invalid borrow_date format, expected YYYY-MM-DD")
	}
	dueDate, err := time.Parse(dateLayout, in.ReturnDate)
	if err != nil {
		return OrderResponse{}, ErrInvalid("invalid return_date format, expected YYYY-MM-DD")
	}
	if dueDate.Before(borrowDate) {
		return OrderResponse{}, ErrInvalid("return_date must not be before borrow_date")
	}

	states, err := s.store.AssetStates(ctx, in.AssetNumbers)
	if err != nil {
		return OrderResponse{}, err
	}
	byNumber := make(map[string]AssetState, len(states))
	for _, st := range states {
		byNumber[st.AssetNumber] = st
	}

	var unavailable []AssetUnavailableDetail
	for _, num := range in.AssetNumbers {
		st, ok := byNumber[num]
		if !ok {
			return OrderResponse{}, ErrNotFound("asset not found: " + num)
		}
		if reason, bad := st.Unavailable(); bad {
			unavailable = append(unavailable, AssetUnavailableDetail{AssetNumber: num, Reason: reason})
		}
	}
	if len(unavailable) > 0 {
		return OrderResponse{}, ErrAssetUnavailable(unavailable)
	}

	now := s.clock.Now()
	o := &Order{
		OrderULID:     s.id.NewULID(now),
		BorrowerID:    in.BorrowerID,
		BorrowDate:    borrowDate,
		ReturnDueDate: dueDate,
		Status:        OrderPending,
		Type:          TypeBorrowed,
		Notes:         toNullString(in.Notes),
	}
	if url, err := s.uploadImage(ctx, in.Image); err != nil {
		return OrderResponse{}, err
	} else if url != "" {
		o.BorrowImage = sql.NullString{String: url, Valid: true}
	}

	items := make([]*BorrowItem, 0, len(in.AssetNumbers))
	for _, num := range in.AssetNumbers {
		st := byNumber[num]
		items = append(items, &BorrowItem{
			AssetID:          st.AssetID,
			AssetNumber:      st.AssetNumber,
			AssetName:        st.AssetName,
			Status:           ItemPending,
			LocationAtBorrow: st.Location,
			BorrowDate:       borrowDate,
		})
	}

	if err := s.store.ExecCreateOrder(ctx, o, items); err != nil {
		return OrderResponse{}, err
	}

	s.send(ctx, notify.Event{
		OrderID: o.OrderULID,
		Kind:    notify.KindNewOrder,
		Payload: map[string]any{
			"borrower_id": o.BorrowerID,
			"asset_count": len(items),
			"due_date":    dueDate.Format(dateLayout),
		},
	})

	return s.buildOrderResponse(ctx, o)
}

// Decide は承認/却下を適用する。
// type=borrowed: approve で全アイテム borrowed、reject で全アイテム rejected。
// type=returned: CheckStatus（item_id→normal/damaged）が全アイテム分そろって
// いないと受け付けない。damaged → repair、normal → returned。
// Order.status は直接セットせず、アイテムの新状態から導出した値を保存する。
func (s *Service) Decide(ctx context.Context, orderULID string, in DecideRequest) (OrderResponse, error) {
	if !validAction(in.Action) {
		return OrderResponse{}, ErrInvalid("invalid action")
	}
	if !validOrderType(in.Type) {
		return OrderResponse{}, ErrInvalid("invalid type")
	}

	o, err := s.store.GetOrderByULID(ctx, orderULID)
	if err != nil {
		return OrderResponse{}, err
	}
	if o.Status.IsTerminal() {
		return OrderResponse{}, ErrConflict("order already finalized")
	}
	items, err := s.store.ItemsByOrder(ctx, o.OrderID)
	if err != nil {
		return OrderResponse{}, err
	}

	upd := DecisionUpdate{
		Type:         in.Type,
		AdminNote:    toNullString(in.Note),
		ItemStatuses: make(map[int64]ItemStatus, len(items)),
	}

	switch in.Type {
	case TypeBorrowed:
		if o.Status != OrderPending {
			return OrderResponse{}, ErrConflict("order is not awaiting borrow approval")
		}
		target := ItemBorrowed
		if in.Action == ActionReject {
			target = ItemRejected
		}
		for _, it := range items {
			upd.ItemStatuses[it.ItemID] = target
		}

	case TypeReturned:
		// 貸出承認を経ていないオーダーに返却の決定は適用できない。
		// 許すと pending → borrowed / returned の近道になってしまう。
		if o.Type != TypeReturned && o.Status != OrderBorrowed && o.Status != OrderPartiallyReturned {
			return OrderResponse{}, ErrConflict("order is not in the return flow")
		}
		if in.Action == ActionReject {
			// 検品却下: 仮置き(pending)のアイテムを borrowed に戻す
			for _, it := range items {
				if it.Status == ItemPending {
					upd.ItemStatuses[it.ItemID] = ItemBorrowed
				}
			}
		} else {
			var missing []int64
			for _, it := range items {
				if _, ok := in.CheckStatus[it.ItemID]; !ok {
					missing = append(missing, it.ItemID)
				}
			}
			if len(missing) > 0 {
				return OrderResponse{}, ErrIncompleteInspection(missing)
			}
			for _, it := range items {
				if it.Status.IsTerminal() {
					continue
				}
				switch in.CheckStatus[it.ItemID] {
				case DispositionDamaged:
					upd.ItemStatuses[it.ItemID] = ItemRepair
				case DispositionNormal:
					upd.ItemStatuses[it.ItemID] = ItemReturned
				default:
					return OrderResponse{}, ErrInvalid("check_status must be normal or damaged")
				}
			}
		}
	}

	// 新しいアイテム状態から Order の状態を導出
	next := make([]ItemStatus, 0, len(items))
	for _, it := range items {
		if st, ok := upd.ItemStatuses[it.ItemID]; ok {
			next = append(next, st)
		} else {
			next = append(next, it.Status)
		}
	}
	upd.Status = DeriveOrderStatus(in.Type, next)
	if upd.Status == OrderDone {
		upd.MarkReturnCompleted = true
		upd.CompletedAt = s.clock.Now()
	}

	if err := s.store.ExecDecide(ctx, o.OrderID, upd); err != nil {
		return OrderResponse{}, err
	}

	s.send(ctx, notify.Event{
		OrderID:     o.OrderULID,
		Kind:        notify.KindApproval,
		RecipientID: o.BorrowerID,
		Payload: map[string]any{
			"action": string(in.Action),
			"type":   string(in.Type),
			"status": string(upd.Status),
		},
	})

	refreshed, err := s.store.GetOrderByULID(ctx, orderULID)
	if err != nil {
		return OrderResponse{}, err
	}
	return s.buildOrderResponse(ctx, refreshed)
}

// ReturnItems はスキャン返却。資産ごとに独立して処理し、
// 1件の失敗が他の成功を巻き戻さない（結果は資産単位で返す）。
// アイテムは returned に直行させず pending（検品待ち）に仮置きする。
// 最終処分は Decide(type=returned) が行う。
func (s *Service) ReturnItems(ctx context.Context, in ReturnItemsRequest) (ReturnItemsResponse, error) {
	if len(in.AssetNumbers) == 0 {
		return ReturnItemsResponse{}, ErrInvalid("assets must not be empty")
	}

	var image sql.NullString
	if url, err := s.uploadImage(ctx, in.Image); err != nil {
		return ReturnItemsResponse{}, err
	} else if url != "" {
		image = sql.NullString{String: url, Valid: true}
	}

	now := s.clock.Now()
	results := make([]ReturnItemResult, 0, len(in.AssetNumbers))
	for _, num := range in.AssetNumbers {
		item, err := s.store.FindBorrowedItem(ctx, num)
		if err != nil {
			results = append(results, ReturnItemResult{AssetNumber: num, Status: ReturnResultNotFound})
			continue
		}
		if _, err := s.store.ExecStageReturn(ctx, item.ItemID, item.OrderID, now, image, toNullString(in.Note)); err != nil {
			log.Printf("[WARN] stage return failed: asset=%s item=%d: %v", num, item.ItemID, err)
			results = append(results, ReturnItemResult{AssetNumber: num, Status: ReturnResultUpdateFailed})
			continue
		}
		results = append(results, ReturnItemResult{AssetNumber: num, Status: ReturnResultStaged})
	}

	return ReturnItemsResponse{Results: results}, nil
}

// Extend は返却期限を延長する。申請時点から90日を超える日付、
// および確定済み（done/rejected）のオーダーは受け付けない。
func (s *Service) Extend(ctx context.Context, orderULID string, in ExtendRequest) (OrderResponse, error) {
	due, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return OrderResponse{}, ErrInvalid("invalid date format, expected YYYY-MM-DD")
	}

	o, err := s.store.GetOrderByULID(ctx, orderULID)
	if err != nil {
		return OrderResponse{}, err
	}
	if o.Status.IsTerminal() {
		return OrderResponse{}, ErrExtensionNotAllowed("order already finalized")
	}
	if due.Sub(s.clock.Now()) > maxExtension {
		return OrderResponse{}, ErrExtensionNotAllowed("due date exceeds the 90-day limit")
	}

	if err := s.store.ExecExtendDueDate(ctx, o.OrderID, due); err != nil {
		return OrderResponse{}, err
	}
	o.ReturnDueDate = due
	return s.buildOrderResponse(ctx, o)
}

func (s *Service) GetOrder(ctx context.Context, orderULID string) (OrderResponse, error) {
	o, err := s.store.GetOrderByULID(ctx, orderULID)
	if err != nil {
		return OrderResponse{}, err
	}
	return s.buildOrderResponse(ctx, o)
}

func (s *Service) ListOrders(ctx context.Context, f OrderFilter, p Page) (ListOrdersResult, error) {
	rows, total, err := s.store.ListOrders(ctx, f, p)
	if err != nil {
		return ListOrdersResult{}, err
	}
	items := make([]OrderResponse, 0, len(rows))
	for _, o := range rows {
		resp, err := s.buildOrderResponse(ctx, o)
		if err != nil {
			return ListOrdersResult{}, err
		}
		items = append(items, resp)
	}
	next := p.Offset + p.Limit
	if next >= int(total) {
		next = 0
	} // 0=終端
	return ListOrdersResult{Items: items, Total: total, NextOffset: next}, nil
}

// PendingOrders は承認画面用（承認待ち + 一部返却）の一覧
func (s *Service) PendingOrders(ctx context.Context, p Page) (ListOrdersResult, error) {
	f := OrderFilter{Statuses: []OrderStatus{OrderPending, OrderPartiallyReturned}}
	if p.Order == "" {
		p.Order = "asc"
	}
	return s.ListOrders(ctx, f, p)
}

// CheckAsset はQRスキャン時の資産状態ビュー
func (s *Service) CheckAsset(ctx context.Context, assetNumber string) (AssetCheckResponse, error) {
	if strings.TrimSpace(assetNumber) == "" {
		return AssetCheckResponse{}, ErrInvalid("asset_number required")
	}
	chk, err := s.store.CheckAsset(ctx, assetNumber)
	if err != nil {
		return AssetCheckResponse{}, err
	}

	status := "available"
	switch {
	case chk.Destroyed:
		status = "destroyed"
	case chk.ActiveStatus.Valid:
		status = chk.ActiveStatus.String // pending / borrowed
	case chk.LatestStatus.Valid && ItemStatus(chk.LatestStatus.String) == ItemRepair:
		status = "repair"
	}

	resp := AssetCheckResponse{
		AssetNumber: chk.AssetNumber,
		AssetName:   chk.AssetName,
		Location:    nullToPtr(chk.Location),
		Status:      status,
	}
	if chk.BorrowDate.Valid {
		v := chk.BorrowDate.Time
		resp.BorrowDate = &v
	}
	if chk.ReturnDueDate.Valid {
		v := chk.ReturnDueDate.Time
		resp.ReturnDueDate = &v
	}
	return resp, nil
}

// -------------- helpers --------------

func (s *Service) uploadImage(ctx context.Context, img *UploadedImage) (string, error) {
	if img == nil || len(img.Data) == 0 {
		return "", nil
	}
	url, err := s.files.Upload(ctx, img.Data, img.FileName)
	if err != nil {
		return "", ErrInternal("image upload failed: " + err.Error())
	}
	return url, nil
}

// 通知は fire-and-forget。失敗してもオーダー処理は成功扱い。
func (s *Service) send(ctx context.Context, ev notify.Event) {
	if err := s.notifier.Send(ctx, ev); err != nil {
		log.Printf("[WARN] notify %s failed for order %s: %v", ev.Kind, ev.OrderID, err)
	}
}

func (s *Service) buildOrderResponse(ctx context.Context, o *Order) (OrderResponse, error) {
	items, err := s.store.ItemsByOrder(ctx, o.OrderID)
	if err != nil {
		return OrderResponse{}, err
	}
	resp := OrderResponse{
		OrderULID:     o.OrderULID,
		BorrowerID:    o.BorrowerID,
		BorrowDate:    o.BorrowDate,
		ReturnDueDate: o.ReturnDueDate,
		Status:        o.Status,
		Type:          o.Type,
		Notes:         nullToPtr(o.Notes),
		AdminNote:     nullToPtr(o.AdminNote),
		BorrowImage:   nullToPtr(o.BorrowImage),
		ReturnImage:   nullToPtr(o.ReturnImage),
		CreatedAt:     o.CreatedAt,
	}
	if o.ReturnCompletedAt.Valid {
		v := o.ReturnCompletedAt.Time
		resp.ReturnCompletedAt = &v
	}
	for _, it := range items {
		ir := ItemResponse{
			ItemID:      it.ItemID,
			AssetNumber: it.AssetNumber,
			AssetName:   it.AssetName,
			Status:      it.Status,
		}
		if it.ReturnDate.Valid {
			v := it.ReturnDate.Time
			ir.ReturnDate = &v
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp, nil
}

func toNullString(s *string) (ns sql.NullString) {
	if s != nil && strings.TrimSpace(*s) != "" {
		ns.Valid, ns.String = true, *s
	}
	return
}

func nullToPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}
