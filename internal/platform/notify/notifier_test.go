package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fatflowers/donations/pkg/config"
)

func TestWebhookNotifier_SendReminder(t *testing.T) {
	var (
		got  webhookRequest
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "tkn", time.Second)
	err := n.SendReminder(context.Background(), Reminder{UserID: "u1", SubscriptionID: "s1", ReminderCount: 1})
	require.NoError(t, err)
	require.Equal(t, "Bearer tkn", auth)
	require.Equal(t, "subscription.payment_reminder", got.Type)
	require.Equal(t, "s1", got.Reminder.SubscriptionID)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "", time.Second).SendReminder(context.Background(), Reminder{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestLogNotifier_SendReminder(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core).Sugar())
	require.NoError(t, n.SendReminder(context.Background(), Reminder{SubscriptionID: "s1"}))
	require.Equal(t, 1, logs.FilterMessage("payment reminder").Len())
}

func TestNew_SelectsBackend(t *testing.T) {
	log := zap.NewNop().Sugar()

	n, err := New(&config.Config{}, log)
	require.NoError(t, err)
	require.IsType(t, &LogNotifier{}, n)

	_, err = New(&config.Config{Notify: config.NotifyConfig{Kind: config.NotifyKindWebhook}}, log)
	require.Error(t, err)

	n, err = New(&config.Config{Notify: config.NotifyConfig{Kind: config.NotifyKindWebhook, WebhookURL: "http://x"}}, log)
	require.NoError(t, err)
	require.IsType(t, &WebhookNotifier{}, n)
}
