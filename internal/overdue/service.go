package overdue

import (
	"context"
	"database/sql"
	"log"
	"time"

	"SATT-backend/internal/platform/notify"
)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type ScanStore interface {
	FindOverdueOrders(ctx context.Context, now time.Time) ([]OverdueOrder, error)
	InsertNotificationLog(ctx context.Context, orderID int64, kind string, ok bool, detail string) error
}

type Service struct {
	store    ScanStore
	notifier notify.Notifier
	clock    Clock
}

func NewService(db *sql.DB, n notify.Notifier) *Service {
	return &Service{store: NewStore(db), notifier: n, clock: realClock{}}
}

// ScanOverdue は期限超過オーダーを列挙して通知する。
// 判定は return_due_date < 今日 の厳密比較（当日期限はまだ超過ではない）。
// return_due_date は DATE 列（0時）なので、時刻付きの now をそのまま比較すると
// 当日期限が超過扱いになる。比較は日付粒度に揃える。
// 通知失敗はログに残して続行し、スキャン自体は成功として返す。
// 同じオーダーへの重複通知の抑止はしない（日次実行前提、履歴は notification_logs 側で追える）。
func (s *Service) ScanOverdue(ctx context.Context) (ScanReport, error) {
	now := s.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	orders, err := s.store.FindOverdueOrders(ctx, today)
	if err != nil {
		return ScanReport{}, err
	}

	report := ScanReport{ScannedAt: now, Orders: orders}
	for i := range orders {
		o := &orders[i]
		o.DaysOverdue = int(today.Sub(o.ReturnDueDate).Hours() / 24)

		err := s.notifier.Send(ctx, notify.Event{
			OrderID:     o.OrderULID,
			Kind:        notify.KindOverdue,
			RecipientID: o.BorrowerID,
			Payload: map[string]any{
				"due_date":     o.ReturnDueDate.Format("2006-01-02"),
				"days_overdue": o.DaysOverdue,
				"assets":       o.AssetNumbers,
			},
		})
		detail := ""
		if err != nil {
			detail = err.Error()
			report.Failed++
			log.Printf("[WARN] overdue notify failed: order=%s: %v", o.OrderULID, err)
		} else {
			report.Notified++
		}
		if logErr := s.store.InsertNotificationLog(ctx, o.OrderID, string(notify.KindOverdue), err == nil, detail); logErr != nil {
			log.Printf("[WARN] notification log insert failed: order=%s: %v", o.OrderULID, logErr)
		}
	}
	return report, nil
}

// RunDailyScan は interval ごとに ScanOverdue を回すループ。
// ctx のキャンセルで停止する。main から goroutine で起動する想定。
func (s *Service) RunDailyScan(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ScanOverdue(ctx); err != nil {
				log.Printf("[ERROR] overdue scan failed: %v", err)
			}
		}
	}
}
