package borrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SATT-backend/internal/platform/notify"
)

// ---------- test doubles ----------

type fakeStore struct {
	assets      map[string]AssetState // 静的な資産情報（状態は items から導出）
	orders      map[int64]*Order
	byULID      map[string]int64
	items       map[int64][]*BorrowItem
	nextOrderID int64
	nextItemID  int64
	failStage   map[string]bool // asset_number → ExecStageReturn を失敗させる
	// ExecExtendDueDate のロック取得直前に割り込む（並行 Decide の再現用）
	beforeExtend func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assets:    map[string]AssetState{},
		orders:    map[int64]*Order{},
		byULID:    map[string]int64{},
		items:     map[int64][]*BorrowItem{},
		failStage: map[string]bool{},
	}
}

func (f *fakeStore) seedAsset(num string, destroyed bool) {
	id := int64(len(f.assets) + 1)
	f.assets[num] = AssetState{
		AssetID:     id,
		AssetNumber: num,
		AssetName:   "asset " + num,
		Destroyed:   destroyed,
	}
}

func (f *fakeStore) AssetStates(_ context.Context, nums []string) ([]AssetState, error) {
	var out []AssetState
	for _, num := range nums {
		base, ok := f.assets[num]
		if !ok {
			continue
		}
		st := base
		var latest *BorrowItem
		for _, items := range f.items {
			for _, it := range items {
				if it.AssetNumber != num {
					continue
				}
				if it.Status == ItemPending || it.Status == ItemBorrowed {
					st.ActiveStatus = sql.NullString{String: string(it.Status), Valid: true}
				}
				if latest == nil || it.ItemID > latest.ItemID {
					latest = it
				}
			}
		}
		if latest != nil {
			st.LatestStatus = sql.NullString{String: string(latest.Status), Valid: true}
		}
		out = append(out, st)
	}
	return out, nil
}

func (f *fakeStore) CheckAsset(ctx context.Context, num string) (*AssetCheck, error) {
	states, _ := f.AssetStates(ctx, []string{num})
	if len(states) == 0 {
		return nil, ErrNotFound("asset not found: " + num)
	}
	return &AssetCheck{AssetState: states[0]}, nil
}

func (f *fakeStore) ExecCreateOrder(_ context.Context, o *Order, items []*BorrowItem) error {
	f.nextOrderID++
	o.OrderID = f.nextOrderID
	o.CreatedAt = time.Now()
	f.orders[o.OrderID] = o
	f.byULID[o.OrderULID] = o.OrderID
	for _, it := range items {
		f.nextItemID++
		it.ItemID = f.nextItemID
		it.OrderID = o.OrderID
		f.items[o.OrderID] = append(f.items[o.OrderID], it)
	}
	return nil
}

func (f *fakeStore) GetOrderByULID(_ context.Context, u string) (*Order, error) {
	id, ok := f.byULID[u]
	if !ok {
		return nil, ErrNotFound("order not found: " + u)
	}
	cp := *f.orders[id]
	return &cp, nil
}

func (f *fakeStore) ItemsByOrder(_ context.Context, orderID int64) ([]BorrowItem, error) {
	var out []BorrowItem
	for _, it := range f.items[orderID] {
		out = append(out, *it)
	}
	return out, nil
}

func (f *fakeStore) ExecDecide(_ context.Context, orderID int64, upd DecisionUpdate) error {
	o, ok := f.orders[orderID]
	if !ok {
		return ErrNotFound("order not found")
	}
	if o.Status.IsTerminal() {
		return ErrConflict("order already finalized")
	}
	for _, it := range f.items[orderID] {
		if st, ok := upd.ItemStatuses[it.ItemID]; ok {
			it.Status = st
			if (st == ItemReturned || st == ItemRepair) && !it.ReturnDate.Valid {
				it.ReturnDate = sql.NullTime{Time: upd.CompletedAt, Valid: true}
			}
		}
	}
	o.Status = upd.Status
	o.Type = upd.Type
	if upd.AdminNote.Valid {
		o.AdminNote = upd.AdminNote
	}
	if upd.MarkReturnCompleted && !o.ReturnCompletedAt.Valid {
		o.ReturnCompletedAt = sql.NullTime{Time: upd.CompletedAt, Valid: true}
	}
	return nil
}

func (f *fakeStore) FindBorrowedItem(_ context.Context, num string) (*BorrowItem, error) {
	var found *BorrowItem
	for _, items := range f.items {
		for _, it := range items {
			if it.AssetNumber == num && it.Status == ItemBorrowed {
				if found == nil || it.ItemID > found.ItemID {
					found = it
				}
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound("no borrowed item for asset: " + num)
	}
	cp := *found
	return &cp, nil
}

func (f *fakeStore) ExecStageReturn(_ context.Context, itemID, orderID int64, now time.Time, image, note sql.NullString) (OrderStatus, error) {
	for _, it := range f.items[orderID] {
		if it.ItemID != itemID {
			continue
		}
		if f.failStage[it.AssetNumber] {
			return "", errors.New("deadlock found when trying to get lock")
		}
		if it.Status != ItemBorrowed {
			return "", ErrConflict("item is no longer borrowed")
		}
		it.Status = ItemPending
		it.ReturnDate = sql.NullTime{Time: now, Valid: true}
	}

	var statuses []ItemStatus
	borrowedLeft := false
	for _, it := range f.items[orderID] {
		statuses = append(statuses, it.Status)
		if it.Status == ItemBorrowed {
			borrowedLeft = true
		}
	}
	o := f.orders[orderID]
	o.Status = DeriveOrderStatus(TypeReturned, statuses)
	o.Type = TypeReturned
	if note.Valid {
		o.ReturnNote = note
	}
	if image.Valid {
		o.ReturnImage = image
	}
	if !borrowedLeft && !o.ReturnCompletedAt.Valid {
		o.ReturnCompletedAt = sql.NullTime{Time: now, Valid: true}
	}
	return o.Status, nil
}

func (f *fakeStore) ExecExtendDueDate(_ context.Context, orderID int64, due time.Time) error {
	if f.beforeExtend != nil {
		f.beforeExtend()
	}
	o, ok := f.orders[orderID]
	if !ok {
		return ErrNotFound("order not found")
	}
	// 本物と同じく、書き込み直前にロック下で確定済みかを見直す
	if o.Status.IsTerminal() {
		return ErrExtensionNotAllowed("order already finalized")
	}
	o.ReturnDueDate = due
	return nil
}

func (f *fakeStore) ListOrders(_ context.Context, flt OrderFilter, _ Page) ([]*Order, int64, error) {
	var out []*Order
	for _, o := range f.orders {
		if flt.BorrowerID != "" && o.BorrowerID != flt.BorrowerID {
			continue
		}
		if len(flt.Statuses) > 0 {
			hit := false
			for _, st := range flt.Statuses {
				if o.Status == st {
					hit = true
				}
			}
			if !hit {
				continue
			}
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

type recordingNotifier struct {
	events []notify.Event
	fail   bool
}

func (n *recordingNotifier) Send(_ context.Context, ev notify.Event) error {
	if n.fail {
		return errors.New("webhook down")
	}
	n.events = append(n.events, ev)
	return nil
}

type memFiles struct{ uploads int }

func (m *memFiles) Upload(_ context.Context, _ []byte, name string) (string, error) {
	m.uploads++
	return "mem://" + name, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqID struct{ n int }

func (g *seqID) NewULID(time.Time) string {
	g.n++
	return fmt.Sprintf("01TESTULID%06d", g.n)
}

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(store *fakeStore) (*Service, *recordingNotifier) {
	n := &recordingNotifier{}
	svc := newService(store, n, &memFiles{})
	svc.clock = fixedClock{t: testNow}
	svc.id = &seqID{}
	return svc, n
}

func apiErr(t *testing.T, err error) *APIError {
	t.Helper()
	var api *APIError
	require.ErrorAs(t, err, &api)
	return api
}

// ---------- CreateOrder ----------

func TestCreateOrder_Validation(t *testing.T) {
	store := newFakeStore()
	store.seedAsset("A-001", false)
	svc, _ := newTestService(store)

	base := CreateOrderRequest{
		BorrowerID:   "u1",
		AssetNumbers: []string{"A-001"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	}

	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"missing borrower", func(r *CreateOrderRequest) { r.BorrowerID = " " }},
		{"empty assets", func(r *CreateOrderRequest) { r.AssetNumbers = nil }},
		{"bad borrow date", func(r *CreateOrderRequest) { r.BorrowDate = "06/01/2025" }},
		{"bad return date", func(r *CreateOrderRequest) { r.ReturnDate = "soon" }},
		{"return before borrow", func(r *CreateOrderRequest) { r.ReturnDate = "2025-05-01" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := svc.CreateOrder(context.Background(), req)
			assert.Equal(t, CodeInvalidArgument, apiErr(t, err).Code)
		})
	}
}

func TestCreateOrder_UnknownAsset(t *testing.T) {
	store := newFakeStore()
	store.seedAsset("A-001", false)
	svc, _ := newTestService(store)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u1",
		AssetNumbers: []string{"A-001", "GHOST"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	})
	assert.Equal(t, CodeNotFound, apiErr(t, err).Code)
}

func TestCreateOrder_UnavailableAssets(t *testing.T) {
	store := newFakeStore()
	store.seedAsset("DESTROYED", true)
	store.seedAsset("BORROWED", false)
	store.seedAsset("WAITING", false)
	store.seedAsset("BROKEN", false)
	svc, _ := newTestService(store)

	// 既存オーダーで各状態を作る
	store.items[99] = []*BorrowItem{
		{ItemID: 1, OrderID: 99, AssetNumber: "BORROWED", Status: ItemBorrowed},
		{ItemID: 2, OrderID: 99, AssetNumber: "WAITING", Status: ItemPending},
		{ItemID: 3, OrderID: 99, AssetNumber: "BROKEN", Status: ItemRepair},
	}
	store.orders[99] = &Order{OrderID: 99, Status: OrderPartiallyReturned}

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u1",
		AssetNumbers: []string{"DESTROYED", "BORROWED", "WAITING", "BROKEN"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	})
	api := apiErr(t, err)
	assert.Equal(t, CodeUnprocessable, api.Code)

	details, ok := api.Details.([]AssetUnavailableDetail)
	require.True(t, ok)
	got := map[string]UnavailableReason{}
	for _, d := range details {
		got[d.AssetNumber] = d.Reason
	}
	assert.Equal(t, map[string]UnavailableReason{
		"DESTROYED": ReasonDestroyed,
		"BORROWED":  ReasonAlreadyBorrowed,
		"WAITING":   ReasonPendingApproval,
		"BROKEN":    ReasonUnderRepair,
	}, got)
}

func TestCreateOrder_Success(t *testing.T) {
	store := newFakeStore()
	store.seedAsset("A-001", false)
	store.seedAsset("A-002", false)
	svc, n := newTestService(store)

	notes := "field trip"
	res, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u1",
		AssetNumbers: []string{"A-001", "A-002"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
		Notes:        &notes,
	})
	require.NoError(t, err)

	assert.Equal(t, "01TESTULID000001", res.OrderULID)
	assert.Equal(t, OrderPending, res.Status)
	assert.Equal(t, TypeBorrowed, res.Type)
	require.Len(t, res.Items, 2)
	for _, it := range res.Items {
		assert.Equal(t, ItemPending, it.Status)
	}

	require.Len(t, n.events, 1)
	assert.Equal(t, notify.KindNewOrder, n.events[0].Kind)

	// 同じ資産の二重申請は pending_approval で弾かれる
	_, err = svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u2",
		AssetNumbers: []string{"A-001"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	})
	api := apiErr(t, err)
	assert.Equal(t, CodeUnprocessable, api.Code)
}

func TestCreateOrder_NotifierFailureDoesNotFailOrder(t *testing.T) {
	store := newFakeStore()
	store.seedAsset("A-001", false)
	svc, n := newTestService(store)
	n.fail = true

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u1",
		AssetNumbers: []string{"A-001"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	})
	assert.NoError(t, err)
}

// ---------- Decide ----------

func createPendingOrder(t *testing.T, svc *Service, store *fakeStore, nums ...string) OrderResponse {
	t.Helper()
	for _, num := range nums {
		store.seedAsset(num, false)
	}
	res, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u1",
		AssetNumbers: nums,
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	})
	require.NoError(t, err)
	return res
}

func TestDecide_InvalidInput(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001")

	_, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: "maybe", Type: TypeBorrowed})
	assert.Equal(t, CodeInvalidArgument, apiErr(t, err).Code)

	_, err = svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: "loaned"})
	assert.Equal(t, CodeInvalidArgument, apiErr(t, err).Code)
}

func TestDecide_ApproveBorrow(t *testing.T) {
	store := newFakeStore()
	svc, n := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001", "A-002")

	res, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)
	assert.Equal(t, OrderBorrowed, res.Status)
	for _, it := range res.Items {
		assert.Equal(t, ItemBorrowed, it.Status)
	}

	require.Len(t, n.events, 2) // new-order + approval
	assert.Equal(t, notify.KindApproval, n.events[1].Kind)
	assert.Equal(t, "u1", n.events[1].RecipientID)
}

func TestDecide_RejectBorrow(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001")

	note := "no budget"
	res, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{
		Action: ActionReject, Type: TypeBorrowed, Note: &note,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderRejected, res.Status)
	assert.Equal(t, "no budget", *res.AdminNote)
	for _, it := range res.Items {
		assert.Equal(t, ItemRejected, it.Status)
	}

	// 却下済みオーダーへの再決定は CONFLICT
	_, err = svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	assert.Equal(t, CodeConflict, apiErr(t, err).Code)

	// 却下で資産は再び貸出可能になる
	_, err = svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u2",
		AssetNumbers: []string{"A-001"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	})
	assert.NoError(t, err)
}

func stageAll(t *testing.T, svc *Service, nums ...string) {
	t.Helper()
	res, err := svc.ReturnItems(context.Background(), ReturnItemsRequest{AssetNumbers: nums})
	require.NoError(t, err)
	for _, r := range res.Results {
		require.Equal(t, ReturnResultStaged, r.Status)
	}
}

func TestDecide_IncompleteInspection(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001", "A-002")
	_, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)
	stageAll(t, svc, "A-001", "A-002")

	full, err := svc.GetOrder(context.Background(), o.OrderULID)
	require.NoError(t, err)

	// 1件分しか検品結果がない
	_, err = svc.Decide(context.Background(), o.OrderULID, DecideRequest{
		Action: ActionApprove,
		Type:   TypeReturned,
		CheckStatus: map[int64]Disposition{
			full.Items[0].ItemID: DispositionNormal,
		},
	})
	api := apiErr(t, err)
	assert.Equal(t, CodeUnprocessable, api.Code)

	missing, ok := api.Details.([]int64)
	require.True(t, ok)
	assert.Equal(t, []int64{full.Items[1].ItemID}, missing)
}

func TestDecide_InspectionDispositions(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001", "A-002")
	_, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)
	stageAll(t, svc, "A-001", "A-002")

	full, err := svc.GetOrder(context.Background(), o.OrderULID)
	require.NoError(t, err)

	res, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{
		Action: ActionApprove,
		Type:   TypeReturned,
		CheckStatus: map[int64]Disposition{
			full.Items[0].ItemID: DispositionNormal,
			full.Items[1].ItemID: DispositionDamaged,
		},
	})
	require.NoError(t, err)

	byNum := map[string]ItemStatus{}
	for _, it := range res.Items {
		byNum[it.AssetNumber] = it.Status
	}
	assert.Equal(t, ItemReturned, byNum["A-001"])
	assert.Equal(t, ItemRepair, byNum["A-002"])
	// 修理中のアイテムが残る間は done にしない
	assert.Equal(t, OrderPartiallyReturned, res.Status)

	// 修理中の資産は次の貸出をブロックする
	_, err = svc.CreateOrder(context.Background(), CreateOrderRequest{
		BorrowerID:   "u2",
		AssetNumbers: []string{"A-002"},
		BorrowDate:   "2025-06-01",
		ReturnDate:   "2025-06-10",
	})
	assert.Equal(t, CodeUnprocessable, apiErr(t, err).Code)
}

func TestDecide_AllNormalCompletesOrder(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001")
	_, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)
	stageAll(t, svc, "A-001")

	full, err := svc.GetOrder(context.Background(), o.OrderULID)
	require.NoError(t, err)

	res, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{
		Action:      ActionApprove,
		Type:        TypeReturned,
		CheckStatus: map[int64]Disposition{full.Items[0].ItemID: DispositionNormal},
	})
	require.NoError(t, err)
	assert.Equal(t, OrderDone, res.Status)
	require.NotNil(t, res.ReturnCompletedAt)
}

func TestDecide_RejectReturnRevertsStagedItems(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001", "A-002")
	_, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)
	stageAll(t, svc, "A-001")

	res, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionReject, Type: TypeReturned})
	require.NoError(t, err)

	// 仮置きされていた A-001 が borrowed に戻る
	for _, it := range res.Items {
		assert.Equal(t, ItemBorrowed, it.Status)
	}
	assert.Equal(t, OrderPartiallyReturned, res.Status)
}

// 貸出承認前のオーダーに返却の決定は適用できない
func TestDecide_ReturnLegBeforeApproval(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001", "A-002")

	// 却下を許すと pending のアイテムが borrowed に化ける
	_, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionReject, Type: TypeReturned})
	assert.Equal(t, CodeConflict, apiErr(t, err).Code)

	// 検品結果を全件付けても、貸していないものは返却承認できない
	full, err := svc.GetOrder(context.Background(), o.OrderULID)
	require.NoError(t, err)
	check := map[int64]Disposition{}
	for _, it := range full.Items {
		check[it.ItemID] = DispositionNormal
	}
	_, err = svc.Decide(context.Background(), o.OrderULID, DecideRequest{
		Action: ActionApprove, Type: TypeReturned, CheckStatus: check,
	})
	assert.Equal(t, CodeConflict, apiErr(t, err).Code)

	// オーダーもアイテムも承認待ちのまま
	cur, err := svc.GetOrder(context.Background(), o.OrderULID)
	require.NoError(t, err)
	assert.Equal(t, OrderPending, cur.Status)
	assert.Equal(t, TypeBorrowed, cur.Type)
	for _, it := range cur.Items {
		assert.Equal(t, ItemPending, it.Status)
	}
}

// ---------- ReturnItems ----------

func TestReturnItems_BatchResults(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001", "A-002")
	_, err := svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)

	store.failStage["A-002"] = true

	res, err := svc.ReturnItems(context.Background(), ReturnItemsRequest{
		AssetNumbers: []string{"A-001", "A-002", "NEVER-LENT"},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	byNum := map[string]ReturnResultStatus{}
	for _, r := range res.Results {
		byNum[r.AssetNumber] = r.Status
	}
	assert.Equal(t, ReturnResultStaged, byNum["A-001"])
	assert.Equal(t, ReturnResultUpdateFailed, byNum["A-002"])
	assert.Equal(t, ReturnResultNotFound, byNum["NEVER-LENT"])

	// 成功した1件は巻き戻されない
	full, err := svc.GetOrder(context.Background(), o.OrderULID)
	require.NoError(t, err)
	got := map[string]ItemStatus{}
	for _, it := range full.Items {
		got[it.AssetNumber] = it.Status
	}
	assert.Equal(t, ItemPending, got["A-001"])
	assert.Equal(t, ItemBorrowed, got["A-002"])
	assert.Equal(t, OrderPartiallyReturned, full.Status)
}

func TestReturnItems_EmptyAssets(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	_, err := svc.ReturnItems(context.Background(), ReturnItemsRequest{})
	assert.Equal(t, CodeInvalidArgument, apiErr(t, err).Code)
}

// ---------- Extend ----------

func TestExtend(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001")

	// OK: 90日以内
	res, err := svc.Extend(context.Background(), o.OrderULID, ExtendRequest{Date: "2025-08-29"})
	require.NoError(t, err)
	assert.Equal(t, "2025-08-29", res.ReturnDueDate.Format("2006-01-02"))

	// NG: 申請時点(2025-06-01)から90日を超える
	_, err = svc.Extend(context.Background(), o.OrderULID, ExtendRequest{Date: "2025-09-15"})
	assert.Equal(t, CodeUnprocessable, apiErr(t, err).Code)

	// NG: 日付形式
	_, err = svc.Extend(context.Background(), o.OrderULID, ExtendRequest{Date: "next week"})
	assert.Equal(t, CodeInvalidArgument, apiErr(t, err).Code)

	// NG: 確定済みオーダー
	_, err = svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionReject, Type: TypeBorrowed})
	require.NoError(t, err)
	_, err = svc.Extend(context.Background(), o.OrderULID, ExtendRequest{Date: "2025-07-01"})
	assert.Equal(t, CodeUnprocessable, apiErr(t, err).Code)
}

// 事前チェックの後に別の管理者が確定させた場合、延長はロック下の再チェックで弾かれる
func TestExtend_FinalizedBetweenCheckAndWrite(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	o := createPendingOrder(t, svc, store, "A-001")

	store.beforeExtend = func() {
		store.orders[store.byULID[o.OrderULID]].Status = OrderRejected
	}
	_, err := svc.Extend(context.Background(), o.OrderULID, ExtendRequest{Date: "2025-07-01"})
	assert.Equal(t, CodeUnprocessable, apiErr(t, err).Code)

	// 確定済みオーダーの期限は上書きされていない
	store.beforeExtend = nil
	cur, err := svc.GetOrder(context.Background(), o.OrderULID)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10", cur.ReturnDueDate.Format("2006-01-02"))
}

// ---------- CheckAsset ----------

func TestCheckAsset(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	_, err := svc.CheckAsset(context.Background(), "")
	assert.Equal(t, CodeInvalidArgument, apiErr(t, err).Code)

	_, err = svc.CheckAsset(context.Background(), "GHOST")
	assert.Equal(t, CodeNotFound, apiErr(t, err).Code)

	o := createPendingOrder(t, svc, store, "A-001")
	res, err := svc.CheckAsset(context.Background(), "A-001")
	require.NoError(t, err)
	assert.Equal(t, "pending", res.Status)

	_, err = svc.Decide(context.Background(), o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)
	res, err = svc.CheckAsset(context.Background(), "A-001")
	require.NoError(t, err)
	assert.Equal(t, "borrowed", res.Status)
}

// ---------- 一連のライフサイクル ----------

func TestBorrowLifecycle(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	o := createPendingOrder(t, svc, store, "A-001", "A-002")

	// 承認 → 貸出中
	res, err := svc.Decide(ctx, o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeBorrowed})
	require.NoError(t, err)
	require.Equal(t, OrderBorrowed, res.Status)

	// 1台だけ先に返却 → partially_returned
	ret, err := svc.ReturnItems(ctx, ReturnItemsRequest{AssetNumbers: []string{"A-001"}})
	require.NoError(t, err)
	require.Equal(t, ReturnResultStaged, ret.Results[0].Status)
	cur, err := svc.GetOrder(ctx, o.OrderULID)
	require.NoError(t, err)
	require.Equal(t, OrderPartiallyReturned, cur.Status)
	require.Nil(t, cur.ReturnCompletedAt)

	// 残りも返却 → 検品待ち(pending) + return_completed_at
	stageAll(t, svc, "A-002")
	cur, err = svc.GetOrder(ctx, o.OrderULID)
	require.NoError(t, err)
	require.Equal(t, OrderPending, cur.Status)
	require.Equal(t, TypeReturned, cur.Type)
	require.NotNil(t, cur.ReturnCompletedAt)

	// 検品承認（全件正常） → done、資産は再度貸出可能
	check := map[int64]Disposition{}
	for _, it := range cur.Items {
		check[it.ItemID] = DispositionNormal
	}
	res, err = svc.Decide(ctx, o.OrderULID, DecideRequest{Action: ActionApprove, Type: TypeReturned, CheckStatus: check})
	require.NoError(t, err)
	require.Equal(t, OrderDone, res.Status)

	_, err = svc.CreateOrder(ctx, CreateOrderRequest{
		BorrowerID:   "u2",
		AssetNumbers: []string{"A-001", "A-002"},
		BorrowDate:   "2025-06-02",
		ReturnDate:   "2025-06-12",
	})
	require.NoError(t, err)
}
