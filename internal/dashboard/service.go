package dashboard

import (
	"context"
	"database/sql"

	"SATT-backend/internal/platform/db"
)

// Summary は管理画面トップの集計。1つの読み取りTxでまとめて取るので
// 各カウント間で整合が取れている。
type Summary struct {
	TotalAssets      int64 `json:"total_assets"`
	DestroyedAssets  int64 `json:"destroyed_assets"`
	BorrowedItems    int64 `json:"borrowed_items"`
	PendingApprovals int64 `json:"pending_approvals"`
	OverdueOrders    int64 `json:"overdue_orders"`
	DoneOrders       int64 `json:"done_orders"`
}

type Service struct {
	db *sql.DB
}

func NewService(dbc *sql.DB) *Service { return &Service{db: dbc} }

func (s *Service) GetSummary(ctx context.Context) (Summary, error) {
	var out Summary
	err := db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		counts := []struct {
			dst   *int64
			query string
		}{
			{&out.TotalAssets, `SELECT COUNT(*) FROM assets WHERE destroyed = FALSE`},
			{&out.DestroyedAssets, `SELECT COUNT(*) FROM assets WHERE destroyed = TRUE`},
			{&out.BorrowedItems, `SELECT COUNT(*) FROM borrow_items WHERE status = 'borrowed'`},
			{&out.PendingApprovals, `SELECT COUNT(*) FROM orders WHERE status = 'pending' AND type = 'borrowed'`},
			{&out.OverdueOrders, `SELECT COUNT(*) FROM orders
			  WHERE status IN ('borrowed','partially_returned') AND return_due_date < UTC_TIMESTAMP()`},
			{&out.DoneOrders, `SELECT COUNT(*) FROM orders WHERE status = 'done'`},
		}
		for _, c := range counts {
			if err := tx.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return out, nil
}
