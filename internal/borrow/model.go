package borrow

import (
	"database/sql"
	"time"
)

// ===== ステータス定義 =====

// BorrowItem の状態。returned / repair / rejected はそのアイテム行の終端。
// 同じ資産を再度貸し出すときは新しい行を作る。
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemBorrowed ItemStatus = "borrowed"
	ItemReturned ItemStatus = "returned"
	ItemRepair   ItemStatus = "repair"
	ItemRejected ItemStatus = "rejected"
)

// Order の状態。常に所属アイテムの状態から導出する（独立に設定しない）。
type OrderStatus string

const (
	OrderPending           OrderStatus = "pending"
	OrderBorrowed          OrderStatus = "borrowed"
	OrderPartiallyReturned OrderStatus = "partially_returned"
	OrderDone              OrderStatus = "done"
	OrderRejected          OrderStatus = "rejected"
)

// 直近にどちらのワークフローで更新されたか
type OrderType string

const (
	TypeBorrowed OrderType = "borrowed"
	TypeReturned OrderType = "returned"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// 検品結果（type=returned の承認時に使う）
type Disposition string

const (
	DispositionNormal  Disposition = "normal"
	DispositionDamaged Disposition = "damaged"
)

// 貸出不可の理由
type UnavailableReason string

const (
	ReasonAlreadyBorrowed UnavailableReason = "already_borrowed"
	ReasonPendingApproval UnavailableReason = "pending_approval"
	ReasonUnderRepair     UnavailableReason = "under_repair"
	ReasonDestroyed       UnavailableReason = "destroyed"
)

// ===== 行モデル =====

// Order は orders テーブルの1行を表す
type Order struct {
	OrderID           int64
	OrderULID         string
	BorrowerID        string
	BorrowDate        time.Time
	ReturnDueDate     time.Time
	ReturnCompletedAt sql.NullTime
	Status            OrderStatus
	Type              OrderType
	Notes             sql.NullString
	AdminNote         sql.NullString
	ReturnNote        sql.NullString
	BorrowImage       sql.NullString
	ReturnImage       sql.NullString
	CreatedAt         time.Time
}

// BorrowItem は borrow_items テーブルの1行を表す
type BorrowItem struct {
	ItemID           int64
	OrderID          int64
	AssetID          int64
	AssetNumber      string
	AssetName        string
	Status           ItemStatus
	LocationAtBorrow sql.NullString
	BorrowDate       time.Time
	ReturnDate       sql.NullTime
	CreatedAt        time.Time
}

// AssetState は createOrder の可用性判定に必要な資産側のスナップショット。
// ActiveStatus は pending/borrowed のアイテムがあればその状態、なければ無効。
// LatestStatus は最新サイクルのアイテム状態（修理中ブロックの判定用）。
type AssetState struct {
	AssetID      int64
	AssetNumber  string
	AssetName    string
	Location     sql.NullString
	Destroyed    bool
	ActiveStatus sql.NullString
	LatestStatus sql.NullString
}

// 一覧取得用の検索条件
type OrderFilter struct {
	Statuses   []OrderStatus
	BorrowerID string
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}
