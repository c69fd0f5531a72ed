// Package reconciliation matches bank statement movements to bank subscriptions
// and records each settled transfer exactly once.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/donations/internal/app/service/subscription"
	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/internal/platform/bank"
	"github.com/fatflowers/donations/pkg/config"
	"github.com/fatflowers/donations/pkg/logctx"
	"github.com/fatflowers/donations/pkg/metrics"
	"github.com/fatflowers/donations/pkg/types"
)

// Result counts what happened to every movement of one run.
type Result struct {
	// Fetched is the raw record count, Normalized what survived normalization.
	Fetched              int `json:"fetched"`
	Normalized           int `json:"normalized"`
	CreatedPayments      int `json:"created_payments"`
	MatchedSubscriptions int `json:"matched_subscriptions"`
	SkippedNoReference   int `json:"skipped_no_reference"`
	SkippedNoMatch       int `json:"skipped_no_match"`
	SkippedDuplicate     int `json:"skipped_duplicate"`
	SkippedOutgoing      int `json:"skipped_outgoing"`
	SkippedAmbiguous     int `json:"skipped_ambiguous"`
	// Reactivated counts already recorded payments whose subscription had to be moved back to ACTIVE.
	Reactivated int `json:"reactivated"`
	Failed      int `json:"failed"`
	// CursorID is where the statement cursor was left in last mode.
	CursorID *int64 `json:"cursor_id,omitempty"`
}

type Reconciler struct {
	cfg     *config.Config
	client  bank.StatementClient
	store   *subscription.Service
	metrics *metrics.Business
	log     *zap.SugaredLogger
	now     func() time.Time
}

func New(cfg *config.Config, client bank.StatementClient, store *subscription.Service, m *metrics.Business, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{cfg: cfg, client: client, store: store, metrics: m, log: log, now: time.Now}
}

// Run reconciles according to reconcile.mode: the lookback window in range mode,
// or everything since the acknowledged cursor in last mode.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	if r.cfg.Reconcile.Mode == config.ReconcileModeLast {
		return r.ReconcileLast(ctx)
	}
	days := r.cfg.Reconcile.LookbackDays
	if days <= 0 {
		days = 14
	}
	to := r.now()
	return r.Reconcile(ctx, to.AddDate(0, 0, -days), to)
}

// Reconcile processes movements booked within [from, to].
func (r *Reconciler) Reconcile(ctx context.Context, from, to time.Time) (*Result, error) {
	log := logctx.FromCtx(ctx, r.log)
	log.Infow("reconcile started", "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))

	stmt, err := r.client.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bank statement: %w", err)
	}
	res, err := r.apply(ctx, stmt)
	r.report(ctx, res)
	return res, err
}

// ReconcileLast processes movements since the cursor. A batch without failures
// acknowledges the cursor; otherwise the cursor is rewound so the next run reads it again.
func (r *Reconciler) ReconcileLast(ctx context.Context) (*Result, error) {
	log := logctx.FromCtx(ctx, r.log)
	log.Infow("reconcile started", "mode", config.ReconcileModeLast)

	stmt, err := r.client.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bank statement: %w", err)
	}
	res, err := r.apply(ctx, stmt)
	defer r.report(ctx, res)
	if err != nil {
		return res, err
	}

	cursor := stmt.Info.IDTo
	if res.Failed > 0 {
		cursor = stmt.Info.IDLastDownload
	}
	if cursor == nil {
		return res, nil
	}
	if err := r.client.SetLastID(ctx, *cursor); err != nil {
		return res, fmt.Errorf("failed to move statement cursor to %d: %w", *cursor, err)
	}
	res.CursorID = cursor
	if res.Failed > 0 {
		log.Warnw("statement cursor rewound after failures", "cursor_id", *cursor, "failed", res.Failed)
	}
	return res, nil
}

// apply walks the statement in arrival order. Per-movement failures are counted and skipped;
// only cancellation stops the walk, leaving writes made so far in place.
func (r *Reconciler) apply(ctx context.Context, stmt *bank.Statement) (*Result, error) {
	res := &Result{Fetched: stmt.RawCount, Normalized: len(stmt.Transactions)}
	matched := make(map[string]struct{})

	for i := range stmt.Transactions {
		if err := ctx.Err(); err != nil {
			res.MatchedSubscriptions = len(matched)
			return res, fmt.Errorf("reconcile interrupted after %d of %d transactions: %w", i, len(stmt.Transactions), err)
		}
		r.applyOne(ctx, &stmt.Transactions[i], res, matched)
	}
	res.MatchedSubscriptions = len(matched)
	return res, nil
}

func (r *Reconciler) applyOne(ctx context.Context, tx *bank.Transaction, res *Result, matched map[string]struct{}) {
	log := logctx.FromCtx(ctx, r.log).With("movement_id", tx.MovementID)

	if tx.ReferenceCode == nil {
		res.SkippedNoReference++
		log.Debugw("skip transaction without reference")
		return
	}
	if tx.Amount <= 0 {
		res.SkippedOutgoing++
		log.Debugw("skip outgoing transaction", "amount", tx.Amount)
		return
	}

	ref := *tx.ReferenceCode
	sub, err := r.store.FindBankSubscriptionByReference(ctx, ref)
	if err != nil {
		if errors.Is(err, subscription.ErrAmbiguousReference) {
			res.SkippedAmbiguous++
			log.Warnw("skip transaction with ambiguous reference", "reference", ref)
			return
		}
		res.Failed++
		log.Errorw("failed to look up subscription", "reference", ref, "error", err)
		return
	}
	if sub == nil {
		res.SkippedNoMatch++
		log.Infow("no subscription for reference", "reference", ref)
		return
	}

	payment := &models.Payment{
		SubscriptionID: sub.ID,
		ProviderRef:    models.BankProviderRef(tx.MovementID),
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Status:         types.PaymentStatusPaid,
		PaidAt:         tx.BookedAt,
	}
	log = log.With("subscription_id", sub.ID, "provider_ref", payment.ProviderRef)

	created, err := r.store.InsertPayment(ctx, payment)
	if err != nil {
		res.Failed++
		log.Errorw("failed to record payment", "error", err)
		return
	}
	if !created {
		res.SkippedDuplicate++
		r.heal(ctx, log, sub, payment, res)
		return
	}

	res.CreatedPayments++
	matched[sub.ID] = struct{}{}

	if sub.Status == types.SubscriptionStatusCanceled {
		r.store.RecordPaymentOnCanceled(ctx, sub, payment)
		log.Infow("payment recorded on canceled subscription", "amount", payment.Amount)
		return
	}
	if _, err := r.store.ActivateOnPayment(ctx, sub, payment); err != nil {
		res.Failed++
		log.Errorw("failed to activate subscription", "error", err)
		return
	}
	log.Infow("payment recorded", "amount", payment.Amount, "currency", payment.Currency)
}

// heal re-applies activation for an already recorded payment whose subscription
// is not ACTIVE: a failed activation or an expiry that raced the payment.
func (r *Reconciler) heal(ctx context.Context, log *zap.SugaredLogger, sub *models.Subscription, payment *models.Payment, res *Result) {
	if sub.Status != types.SubscriptionStatusPending && sub.Status != types.SubscriptionStatusInactive {
		return
	}
	activated, err := r.store.ActivateOnPayment(ctx, sub, payment)
	if err != nil {
		res.Failed++
		log.Errorw("failed to reactivate subscription", "error", err)
		return
	}
	if activated {
		res.Reactivated++
		log.Warnw("subscription reactivated from recorded payment")
	}
}

func (r *Reconciler) report(ctx context.Context, res *Result) {
	if res == nil {
		return
	}
	r.metrics.AddReconcile("created", res.CreatedPayments)
	r.metrics.AddReconcile("no_reference", res.SkippedNoReference)
	r.metrics.AddReconcile("no_match", res.SkippedNoMatch)
	r.metrics.AddReconcile("duplicate", res.SkippedDuplicate)
	r.metrics.AddReconcile("outgoing", res.SkippedOutgoing)
	r.metrics.AddReconcile("ambiguous", res.SkippedAmbiguous)
	r.metrics.AddReconcile("failed", res.Failed)

	logctx.FromCtx(ctx, r.log).Infow("reconcile finished",
		"fetched", res.Fetched,
		"normalized", res.Normalized,
		"created_payments", res.CreatedPayments,
		"matched_subscriptions", res.MatchedSubscriptions,
		"skipped_no_reference", res.SkippedNoReference,
		"skipped_no_match", res.SkippedNoMatch,
		"skipped_duplicate", res.SkippedDuplicate,
		"skipped_outgoing", res.SkippedOutgoing,
		"skipped_ambiguous", res.SkippedAmbiguous,
		"reactivated", res.Reactivated,
		"failed", res.Failed,
	)
}
