// Package timeline advances pending bank subscriptions through
// temporary access, reminder, grace and expiry.
package timeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/donations/internal/app/service/subscription"
	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/internal/platform/notify"
	"github.com/fatflowers/donations/pkg/config"
	"github.com/fatflowers/donations/pkg/logctx"
	"github.com/fatflowers/donations/pkg/metrics"
)

const (
	DefaultTemporaryAccess = 30 * 24 * time.Hour
	DefaultGrace           = 10 * 24 * time.Hour
	DefaultBatchSize       = 500
)

// TickResult counts the transitions applied by one tick.
type TickResult struct {
	Candidates    int `json:"candidates"`
	Started       int `json:"started"`
	Reminded      int `json:"reminded"`
	ReminderFails int `json:"reminder_fails"`
	Expired       int `json:"expired"`
	// Raced counts candidates whose guarded update lost to a concurrent writer.
	Raced  int `json:"raced"`
	Failed int `json:"failed"`
}

type Manager struct {
	store    *subscription.Service
	notifier notify.Notifier
	metrics  *metrics.Business
	log      *zap.SugaredLogger

	temporaryAccess time.Duration
	grace           time.Duration
	batchSize       int
	now             func() time.Time
}

func New(cfg *config.Config, store *subscription.Service, notifier notify.Notifier, m *metrics.Business, log *zap.SugaredLogger) *Manager {
	mgr := &Manager{
		store:           store,
		notifier:        notifier,
		metrics:         m,
		log:             log,
		temporaryAccess: cfg.Timeline.TemporaryAccess,
		grace:           cfg.Timeline.Grace,
		batchSize:       cfg.Timeline.BatchSize,
		now:             time.Now,
	}
	if mgr.temporaryAccess <= 0 {
		mgr.temporaryAccess = DefaultTemporaryAccess
	}
	if mgr.grace <= 0 {
		mgr.grace = DefaultGrace
	}
	if mgr.batchSize <= 0 {
		mgr.batchSize = DefaultBatchSize
	}
	return mgr
}

// Tick applies at most one transition to each of up to batchSize due subscriptions.
// Only the candidate query failing is an error; per-subscription failures are logged and retried next tick.
func (m *Manager) Tick(ctx context.Context) (*TickResult, error) {
	now := m.now().UTC().Truncate(time.Second)
	log := logctx.FromCtx(ctx, m.log)

	subs, err := m.store.ListTimelineCandidates(ctx, now, m.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline candidates: %w", err)
	}

	res := &TickResult{Candidates: len(subs)}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("timeline tick interrupted: %w", err)
		}
		m.advance(ctx, sub, now, res)
	}

	if res.Candidates > 0 {
		log.Infow("timeline tick finished",
			"candidates", res.Candidates,
			"started", res.Started,
			"reminded", res.Reminded,
			"reminder_fails", res.ReminderFails,
			"expired", res.Expired,
			"raced", res.Raced,
			"failed", res.Failed,
		)
	}
	return res, nil
}

func (m *Manager) advance(ctx context.Context, sub *models.Subscription, now time.Time, res *TickResult) {
	log := logctx.FromCtx(ctx, m.log).With("subscription_id", sub.ID)

	var (
		phase = sub.Phase(now)
		ok    bool
		err   error
	)
	switch phase {
	case models.TimelinePhaseFresh:
		ok, err = m.store.StartTimeline(ctx, sub, now, now.Add(m.temporaryAccess))
	case models.TimelinePhaseAwaiting:
		if !now.After(*sub.TemporaryAccessUntil) {
			return
		}
		ok, err = m.store.MarkReminded(ctx, sub, now, now.Add(m.grace))
	case models.TimelinePhaseExpired:
		ok, err = m.store.Expire(ctx, sub, now)
	default:
		return
	}

	if err != nil {
		res.Failed++
		log.Errorw("timeline transition failed", "phase", phase, "error", err)
		return
	}
	if !ok {
		res.Raced++
		log.Debugw("timeline transition already applied", "phase", phase)
		return
	}

	switch phase {
	case models.TimelinePhaseFresh:
		res.Started++
		m.metrics.IncTimeline("start")
		log.Infow("temporary access granted", "temporary_access_until", sub.TemporaryAccessUntil)
	case models.TimelinePhaseAwaiting:
		res.Reminded++
		m.metrics.IncTimeline("remind")
		m.remind(ctx, log, sub, res)
	case models.TimelinePhaseExpired:
		res.Expired++
		m.metrics.IncTimeline("expire")
		log.Infow("subscription expired without payment")
	}
}

// remind is best effort: the grace window is already open whatever happens here.
func (m *Manager) remind(ctx context.Context, log *zap.SugaredLogger, sub *models.Subscription, res *TickResult) {
	r := notify.Reminder{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		BeneficiaryID:  sub.BeneficiaryID,
		MonthlyAmount:  sub.MonthlyAmount,
		Currency:       sub.Currency,
		ReminderCount:  sub.ReminderCount,
	}
	if sub.VariableReference != nil {
		r.VariableReference = *sub.VariableReference
	}
	if sub.GraceUntil != nil {
		r.GraceUntil = *sub.GraceUntil
	}
	if err := m.notifier.SendReminder(ctx, r); err != nil {
		res.ReminderFails++
		m.metrics.IncReminder("failed")
		log.Errorw("failed to send payment reminder", "error", err)
		return
	}
	m.metrics.IncReminder("sent")
	log.Infow("payment reminder sent", "grace_until", sub.GraceUntil, "reminder_count", sub.ReminderCount)
}
