package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/donations/pkg/config"
	"github.com/fatflowers/donations/pkg/logctx"
)

// Reminder asks the donor to complete a pending bank subscription.
type Reminder struct {
	UserID            string    `json:"user_id"`
	SubscriptionID    string    `json:"subscription_id"`
	BeneficiaryID     string    `json:"beneficiary_id"`
	VariableReference string    `json:"variable_reference,omitempty"`
	MonthlyAmount     int64     `json:"monthly_amount"`
	Currency          string    `json:"currency"`
	GraceUntil        time.Time `json:"grace_until"`
	ReminderCount     int       `json:"reminder_count"`
}

// Notifier dispatches reminders. Delivery is one-way and best effort.
type Notifier interface {
	SendReminder(ctx context.Context, r Reminder) error
}

// LogNotifier only logs; used where no dispatch endpoint is configured.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendReminder(ctx context.Context, r Reminder) error {
	logctx.FromCtx(ctx, n.log).Infow("payment reminder",
		"user_id", r.UserID,
		"subscription_id", r.SubscriptionID,
		"grace_until", r.GraceUntil,
		"reminder_count", r.ReminderCount,
	)
	return nil
}

// WebhookNotifier posts reminders to the mailing service, which owns templates and delivery.
type WebhookNotifier struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewWebhookNotifier(url, token string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, token: token, httpClient: &http.Client{Timeout: timeout}}
}

type webhookRequest struct {
	Type     string   `json:"type"`
	Reminder Reminder `json:"reminder"`
}

func (n *WebhookNotifier) SendReminder(ctx context.Context, r Reminder) error {
	body, err := json.Marshal(webhookRequest{Type: "subscription.payment_reminder", Reminder: r})
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create reminder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reminder webhook returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func New(cfg *config.Config, log *zap.SugaredLogger) (Notifier, error) {
	switch cfg.Notify.Kind {
	case config.NotifyKindLog, "":
		return NewLogNotifier(log), nil
	case config.NotifyKindWebhook:
		if cfg.Notify.WebhookURL == "" {
			return nil, fmt.Errorf("notify.webhook_url is required for webhook notifier")
		}
		return NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken, cfg.Notify.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported notifier: %s", cfg.Notify.Kind)
	}
}

var Module = fx.Options(
	fx.Provide(New),
)
