package overdue

import "time"

// OverdueOrder は期限超過の貸出オーダーのスナップショット
type OverdueOrder struct {
	OrderID       int64     `json:"-"`
	OrderULID     string    `json:"order_ulid"`
	BorrowerID    string    `json:"borrower_id"`
	ReturnDueDate time.Time `json:"return_due_date"`
	DaysOverdue   int       `json:"days_overdue"`
	AssetNumbers  []string  `json:"asset_numbers"`
}

// ScanReport は1回のスキャン結果。notified + failed = len(Orders)。
type ScanReport struct {
	ScannedAt time.Time      `json:"scanned_at"`
	Orders    []OverdueOrder `json:"orders"`
	Notified  int            `json:"notified"`
	Failed    int            `json:"failed"`
}
