package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"SATT-backend/internal/platform/db"
)

type Kind string

const (
	KindApproval Kind = "approval"
	KindOverdue  Kind = "overdue"
	KindNewOrder Kind = "new-order"
)

type Event struct {
	OrderID     string         `json:"order_id"`
	Kind        Kind           `json:"kind"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Notifier は通知の送信口。fire-and-forget 前提で、リトライは実装側の責務。
// コア側は失敗をログに残すだけで処理を止めない。
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// FromConfig は設定に応じた Notifier を返す。
// 無効化時は Nop（DBのフラグを都度見る方式はやめた）。
func FromConfig(cfg db.NotifyConfig) Notifier {
	if !cfg.Enabled || cfg.WebhookURL == "" {
		return Nop{}
	}
	return NewWebhook(cfg.WebhookURL)
}

type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Webhook は通知イベントをJSONでPOSTする。
// LINE/メール等への配送はWebhook先のワーカーに任せる。
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
