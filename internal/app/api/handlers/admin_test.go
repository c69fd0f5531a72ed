package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/donations/internal/app/scheduler"
	"github.com/fatflowers/donations/internal/app/service/jobrun"
	"github.com/fatflowers/donations/internal/app/service/reconciliation"
	"github.com/fatflowers/donations/internal/app/service/statistics"
	subsvc "github.com/fatflowers/donations/internal/app/service/subscription"
	"github.com/fatflowers/donations/internal/app/service/timeline"
	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/internal/platform/bank"
	"github.com/fatflowers/donations/internal/platform/db/dbtest"
	"github.com/fatflowers/donations/internal/platform/lock"
	"github.com/fatflowers/donations/internal/platform/notify"
	"github.com/fatflowers/donations/pkg/config"
	"github.com/fatflowers/donations/pkg/metrics"
	"github.com/fatflowers/donations/pkg/response"
	"github.com/fatflowers/donations/pkg/tool"
	"github.com/fatflowers/donations/pkg/types"
)

type stubStatement struct {
	stmt     *bank.Statement
	from, to time.Time
}

func (s *stubStatement) Range(_ context.Context, from, to time.Time) (*bank.Statement, error) {
	s.from, s.to = from, to
	return s.stmt, nil
}
func (s *stubStatement) Last(context.Context) (*bank.Statement, error) { return s.stmt, nil }
func (s *stubStatement) SetLastID(context.Context, int64) error        { return nil }

type harness struct {
	db     *gorm.DB
	engine *gin.Engine
	bank   *stubStatement
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gdb := dbtest.New(t)
	log := zap.NewNop().Sugar()
	m, err := metrics.NewBusiness(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := &config.Config{
		Reconcile: config.ReconcileConfig{
			JobConfig:    config.JobConfig{Cron: "0 3 * * *", Timeout: 5 * time.Second, LockKey: "bank-reconciliation"},
			Mode:         config.ReconcileModeRange,
			LookbackDays: 14,
		},
		Timeline: config.TimelineConfig{
			JobConfig: config.JobConfig{Cron: "*/30 * * * *", Timeout: 5 * time.Second, LockKey: "subscription-timeline"},
			UseLock:   true,
		},
	}
	stmt := &stubStatement{stmt: &bank.Statement{RawCount: 1, Transactions: []bank.Transaction{{
		MovementID: "M1", BookedAt: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), Amount: 30000, Currency: "CZK", ReferenceCode: lo.ToPtr("12345"),
	}}}}

	store := subsvc.NewService(gdb, log)
	runs := jobrun.New(gdb, log)
	rec := reconciliation.New(cfg, stmt, store, m, log)
	mgr := timeline.New(cfg, store, notify.NewLogNotifier(log), m, log)
	coord := scheduler.NewCoordinator(lock.NewRedisLocker(client), runs, m, log)
	sched, err := scheduler.NewScheduler(cfg, coord, rec, mgr, log)
	require.NoError(t, err)

	r := gin.New()
	RegisterHealthRoutes(r, gdb)
	RegisterAdminRoutes(r.Group("/api/v1/admin"), AdminDeps{
		Config: cfg, Scheduler: sched, Reconciler: rec, Store: store,
		Statistics: statistics.New(gdb), JobRuns: runs,
	})
	return &harness{db: gdb, engine: r, bank: stmt}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, *response.APIResponse[json.RawMessage]) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var resp response.APIResponse[json.RawMessage]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, &resp
}

func seedSubscription(t *testing.T, gdb *gorm.DB, ref string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID: tool.GenerateUUIDV7(), UserID: "u1", BeneficiaryID: "b1",
		Status: types.SubscriptionStatusPending, Provider: types.PaymentProviderBank,
		VariableReference: lo.ToPtr(ref), MonthlyAmount: 30000, Currency: "CZK",
	}
	require.NoError(t, gdb.Create(sub).Error)
	return sub
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	w, resp := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.APIResponseCodeOK, resp.Code)
}

func TestApiReconcile_Range(t *testing.T) {
	h := newHarness(t)
	sub := seedSubscription(t, h.db, "12345")

	_, resp := h.do(t, http.MethodPost, "/api/v1/admin/reconcile", ReconcileRequest{Mode: ReconcileModeRange, From: "2025-03-01", To: "2025-03-10"})
	require.Equal(t, response.APIResponseCodeOK, resp.Code)

	var report struct {
		Outcome models.JobRunOutcome  `json:"outcome"`
		Result  reconciliation.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	require.Equal(t, models.JobRunOutcomeCompleted, report.Outcome)
	require.Equal(t, 1, report.Result.CreatedPayments)
	require.Equal(t, "2025-03-01", h.bank.from.Format(time.DateOnly))

	_, resp = h.do(t, http.MethodGet, "/api/v1/admin/subscriptions/"+sub.ID, nil)
	require.Equal(t, response.APIResponseCodeOK, resp.Code)
	var detail SubscriptionDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	require.Equal(t, types.SubscriptionStatusActive, detail.Subscription.Status)
	require.Len(t, detail.Payments, 1)
	require.Len(t, detail.Logs, 1)

	_, resp = h.do(t, http.MethodGet, "/api/v1/admin/job_runs?job=reconcile", nil)
	var runs []models.JobRun
	require.NoError(t, json.Unmarshal(resp.Data, &runs))
	require.Len(t, runs, 1)
}

func TestApiReconcile_BadRequest(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(t, http.MethodPost, "/api/v1/admin/reconcile", ReconcileRequest{Mode: ReconcileModeRange, From: "2025-03-10", To: "2025-03-01"})
	require.Equal(t, response.APIResponseCodeBadRequest, resp.Code)

	_, resp = h.do(t, http.MethodPost, "/api/v1/admin/reconcile", ReconcileRequest{Mode: "weekly"})
	require.Equal(t, response.APIResponseCodeBadRequest, resp.Code)

	_, resp = h.do(t, http.MethodGet, "/api/v1/admin/job_runs?limit=x", nil)
	require.Equal(t, response.APIResponseCodeBadRequest, resp.Code)
}

func TestApiTimelineTickAndStatus(t *testing.T) {
	h := newHarness(t)
	sub := seedSubscription(t, h.db, "1")

	_, resp := h.do(t, http.MethodPost, "/api/v1/admin/timeline/tick", nil)
	require.Equal(t, response.APIResponseCodeOK, resp.Code)
	var report struct {
		Outcome models.JobRunOutcome `json:"outcome"`
		Result  timeline.TickResult  `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	require.Equal(t, 1, report.Result.Started)

	var got models.Subscription
	require.NoError(t, h.db.First(&got, "id = ?", sub.ID).Error)
	require.NotNil(t, got.TemporaryAccessUntil)

	_, resp = h.do(t, http.MethodGet, "/api/v1/admin/scheduler/status", nil)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	require.False(t, st.Running)
	require.Len(t, st.Jobs, 2)
	require.NotNil(t, st.Jobs[1].LastRun)
}

func TestApiListPaymentsAndStatistics(t *testing.T) {
	h := newHarness(t)
	seedSubscription(t, h.db, "12345")
	_, resp := h.do(t, http.MethodPost, "/api/v1/admin/reconcile", ReconcileRequest{})
	require.Equal(t, response.APIResponseCodeOK, resp.Code)

	_, resp = h.do(t, http.MethodPost, "/api/v1/admin/payments/list", subsvc.ScanPaymentsRequest{Size: 10})
	require.Equal(t, response.APIResponseCodeOK, resp.Code)
	var list subsvc.ScanPaymentsResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.EqualValues(t, 1, list.Total)
	require.Equal(t, "bank:M1", list.Items[0].ProviderRef)

	_, resp = h.do(t, http.MethodPost, "/api/v1/admin/statistics", statistics.StatisticRequest{
		DataItems: []*statistics.StatisticDataItem{{ID: statistics.StatisticTypeTotalAmount}},
	})
	require.Equal(t, response.APIResponseCodeOK, resp.Code)
	var stats statistics.StatisticResponse
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	require.Equal(t, []statistics.StatisticResponseDataItem{{Label: "CZK", Value: 30000}}, stats.DataItems[statistics.StatisticTypeTotalAmount])

	_, resp = h.do(t, http.MethodPost, "/api/v1/admin/payments/list", subsvc.ScanPaymentsRequest{
		Filters: []*types.CommonFilter{{Field: "nope", Operator: types.CommonFilterOperatorEq, Values: []any{1}}},
	})
	require.Equal(t, response.APIResponseCodeBadRequest, resp.Code)
}

func TestApiSubscriptionDetail_NotFound(t *testing.T) {
	h := newHarness(t)
	_, resp := h.do(t, http.MethodGet, "/api/v1/admin/subscriptions/missing", nil)
	require.Equal(t, response.APIResponseCodeNotFound, resp.Code)
}
