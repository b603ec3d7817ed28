package borrow

import "time"

// 貸出オーダー作成リクエスト。
// フロントはQRスキャンで集めた asset_number の配列を送ってくる。
type CreateOrderRequest struct {
	BorrowerID   string   `json:"borrower_id"`
	AssetNumbers []string `json:"assets"`
	// "2006-01-02" 形式の文字列を想定（DATE）
	BorrowDate string  `json:"borrow_date"`
	ReturnDate string  `json:"return_date"`
	Notes      *string `json:"notes,omitempty"`
	// multipart の summary_image はハンドラ側で詰める
	Image *UploadedImage `json:"-"`
}

type UploadedImage struct {
	FileName string
	Data     []byte
}

// 承認/却下リクエスト
type DecideRequest struct {
	Action Action    `json:"action"`
	Type   OrderType `json:"type"`
	// type=returned のとき必須。item_id → normal/damaged
	CheckStatus map[int64]Disposition `json:"check_status,omitempty"`
	Note        *string               `json:"note,omitempty"`
}

// スキャン返却リクエスト（自己返却）
type ReturnItemsRequest struct {
	AssetNumbers []string       `json:"assets"`
	Note         *string        `json:"note,omitempty"`
	Image        *UploadedImage `json:"-"`
}

// 返却バッチの資産ごとの結果。1件の失敗が他を巻き戻さない。
type ReturnResultStatus string

const (
	ReturnResultStaged       ReturnResultStatus = "returned"
	ReturnResultNotFound     ReturnResultStatus = "not_found"
	ReturnResultUpdateFailed ReturnResultStatus = "update_failed"
)

type ReturnItemResult struct {
	AssetNumber string             `json:"asset_number"`
	Status      ReturnResultStatus `json:"status"`
}

type ReturnItemsResponse struct {
	Results []ReturnItemResult `json:"results"`
}

// 返却期限延長リクエスト
type ExtendRequest struct {
	// "2006-01-02" 形式
	Date string `json:"date"`
}

// ===== レスポンス =====

type ItemResponse struct {
	ItemID      int64      `json:"item_id"`
	AssetNumber string     `json:"asset_number"`
	AssetName   string     `json:"asset_name"`
	Status      ItemStatus `json:"status"`
	ReturnDate  *time.Time `json:"return_date,omitempty"`
}

type OrderResponse struct {
	OrderULID         string         `json:"order_ulid"`
	BorrowerID        string         `json:"borrower_id"`
	BorrowDate        time.Time      `json:"borrow_date"`
	ReturnDueDate     time.Time      `json:"return_due_date"`
	ReturnCompletedAt *time.Time     `json:"return_completed_at,omitempty"`
	Status            OrderStatus    `json:"status"`
	Type              OrderType      `json:"type"`
	Notes             *string        `json:"notes,omitempty"`
	AdminNote         *string        `json:"admin_note,omitempty"`
	BorrowImage       *string        `json:"borrow_image,omitempty"`
	ReturnImage       *string        `json:"return_image,omitempty"`
	Items             []ItemResponse `json:"items"`
	CreatedAt         time.Time      `json:"created_at"`
}

type ListOrdersResult struct {
	Items      []OrderResponse `json:"items"`
	Total      int64           `json:"total"`
	NextOffset int             `json:"next_offset"`
}

// QRスキャン時の資産状態ビュー（/borrow/check）
type AssetCheckResponse struct {
	AssetNumber   string     `json:"asset_number"`
	AssetName     string     `json:"asset_name"`
	Location      *string    `json:"asset_location,omitempty"`
	Status        string     `json:"status"` // available / pending / borrowed / repair / destroyed
	BorrowDate    *time.Time `json:"borrow_date,omitempty"`
	ReturnDueDate *time.Time `json:"return_due_date,omitempty"`
}
