package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/donations/internal/app/scheduler"
	"github.com/fatflowers/donations/internal/app/service/jobrun"
	"github.com/fatflowers/donations/internal/app/service/reconciliation"
	"github.com/fatflowers/donations/internal/app/service/statistics"
	subsvc "github.com/fatflowers/donations/internal/app/service/subscription"
	"github.com/fatflowers/donations/pkg/config"
	"github.com/fatflowers/donations/pkg/response"
	"github.com/fatflowers/donations/pkg/types"
)

type ReconcileMode string

const (
	// ReconcileModeConfigured runs whatever reconcile.mode selects.
	ReconcileModeConfigured ReconcileMode = ""
	ReconcileModeRange      ReconcileMode = "range"
	ReconcileModeLast       ReconcileMode = "last"
)

type ReconcileRequest struct {
	Mode ReconcileMode `json:"mode"`
	// From and To are inclusive dates (YYYY-MM-DD), required in range mode.
	From string `json:"from"`
	To   string `json:"to"`
}

func (r *ReconcileRequest) dates() (time.Time, time.Time, error) {
	from, err := time.Parse(time.DateOnly, r.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := time.Parse(time.DateOnly, r.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from is after to")
	}
	return from, to, nil
}

// @Summary      Run Reconciliation (Admin)
// @Description  Runs bank reconciliation now through the run coordinator. A run held by another instance reports outcome "skipped".
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ReconcileRequest true "Mode and optional date range"
// @Success      200  {object}  handlers.RespRunReport
// @Router       /api/v1/admin/reconcile [post]
func ApiReconcile(cfg *config.Config, sched *scheduler.Scheduler, rec *reconciliation.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReconcileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		var job scheduler.Job
		switch req.Mode {
		case ReconcileModeConfigured:
			job = scheduler.ReconcileJob(cfg, rec)
		case ReconcileModeLast:
			job = scheduler.ReconcileLastJob(cfg, rec)
		case ReconcileModeRange:
			from, to, err := req.dates()
			if err != nil {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			job = scheduler.ReconcileRangeJob(cfg, rec, from, to)
		default:
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "unknown mode: "+string(req.Mode)))
			return
		}

		report := sched.Coordinator().Execute(c.Request.Context(), job, scheduler.TriggerManual)
		c.JSON(http.StatusOK, response.OKT(report))
	}
}

// @Summary      Run Timeline Tick (Admin)
// @Description  Runs one pending-subscription timeline tick now through the run coordinator.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespRunReport
// @Router       /api/v1/admin/timeline/tick [post]
func ApiTimelineTick(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := sched.Trigger(c.Request.Context(), scheduler.JobTimeline)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(report))
	}
}

// @Summary      Scheduler Status (Admin)
// @Description  Lists scheduled jobs with their next and last runs.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespSchedulerStatus
// @Router       /api/v1/admin/scheduler/status [get]
func ApiSchedulerStatus(sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(sched.Status()))
	}
}

// @Summary      Job Runs (Admin)
// @Description  Lists recent persisted job runs, newest first.
// @Tags         Admin
// @Produce      json
// @Param        job    query  string  false  "Job name (reconcile, timeline)"
// @Param        limit  query  int     false  "Maximum rows (default 20)"
// @Success      200  {object}  handlers.RespJobRuns
// @Router       /api/v1/admin/job_runs [get]
func ApiJobRuns(runs *jobrun.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid limit"))
				return
			}
			limit = n
		}
		rows, err := runs.Recent(c.Request.Context(), c.Query("job"), limit)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

// @Summary      List Payments (Admin)
// @Description  Retrieves a paginated and filterable list of recorded payments.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body subscription.ScanPaymentsRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListPayments
// @Router       /api/v1/admin/payments/list [post]
func ApiListPayments(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subsvc.ScanPaymentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := sub.ScanPayments(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](errorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Subscription Detail (Admin)
// @Description  Returns a subscription with its payments and audit log.
// @Tags         Admin
// @Produce      json
// @Param        id   path  string  true  "Subscription ID"
// @Success      200  {object}  handlers.RespSubscriptionDetail
// @Router       /api/v1/admin/subscriptions/{id} [get]
func ApiSubscriptionDetail(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")
		s, err := sub.GetSubscription(ctx, id)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
			return
		}
		payments, err := sub.ListPayments(ctx, id)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		logs, err := sub.ListLogs(ctx, id)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&SubscriptionDetail{Subscription: s, Payments: payments, Logs: logs}))
	}
}

// @Summary      Get Statistics (Admin)
// @Description  Retrieves payment and subscription statistics.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.StatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/statistics [post]
func ApiGetStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.StatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](errorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func errorCode(err error) response.APIResponseCode {
	if errors.Is(err, types.ErrInvalidFilter) {
		return response.APIResponseCodeBadRequest
	}
	return response.APIResponseCodeError
}

// AdminDeps groups what the admin routes need.
type AdminDeps struct {
	Config     *config.Config
	Scheduler  *scheduler.Scheduler
	Reconciler *reconciliation.Reconciler
	Store      *subsvc.Service
	Statistics *statistics.Service
	JobRuns    *jobrun.Service
}

func RegisterAdminRoutes(r gin.IRouter, d AdminDeps) {
	r.POST("/reconcile", ApiReconcile(d.Config, d.Scheduler, d.Reconciler))
	r.POST("/timeline/tick", ApiTimelineTick(d.Scheduler))
	r.GET("/scheduler/status", ApiSchedulerStatus(d.Scheduler))
	r.GET("/job_runs", ApiJobRuns(d.JobRuns))
	r.POST("/payments/list", ApiListPayments(d.Store))
	r.GET("/subscriptions/:id", ApiSubscriptionDetail(d.Store))
	r.POST("/statistics", ApiGetStatistic(d.Statistics))
}
