package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/donations/internal/models"
	"github.com/fatflowers/donations/pkg/logctx"
	"github.com/fatflowers/donations/pkg/tool"
	"github.com/fatflowers/donations/pkg/types"
)

var (
	// ErrAmbiguousReference means more than one bank subscription carries the same variable reference.
	ErrAmbiguousReference = errors.New("variable reference matches more than one subscription")
	ErrInvalidStatus      = types.ErrInvalidSubscriptionStatus
)

// Service is the Subscription/Payment store. Every write is either the
// unique-constraint protected payment insert or a single-row conditional update.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

// FindBankSubscriptionByReference returns the bank subscription owning ref, or nil when none does.
func (s *Service) FindBankSubscriptionByReference(ctx context.Context, ref string) (*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("provider = ? AND variable_reference = ?", types.PaymentProviderBank, ref).
		Order("created_at asc").
		Limit(2).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by reference: %w", err)
	}
	switch len(subs) {
	case 0:
		return nil, nil
	case 1:
		return subs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousReference, ref)
	}
}

func (s *Service) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", id, err)
	}
	return &sub, nil
}

// InsertPayment records p unless (subscription_id, provider_ref) already exists.
// created is false for an already recorded payment, which is not an error.
func (s *Service) InsertPayment(ctx context.Context, p *models.Payment) (created bool, err error) {
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	if p.Status == "" {
		p.Status = types.PaymentStatusPaid
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "provider_ref"}},
			DoNothing: true,
		}).
		Create(p)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert payment %s: %w", p.ProviderRef, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ListPayments returns a subscription's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, subscriptionID string) ([]*models.Payment, error) {
	var rows []*models.Payment
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Order("paid_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return rows, nil
}

// ActivateOnPayment moves sub to ACTIVE and clears its timeline fields, unless it is CANCELED.
// INACTIVE subscriptions are reactivated, which heals a late payment racing expiry.
func (s *Service) ActivateOnPayment(ctx context.Context, sub *models.Subscription, p *models.Payment) (bool, error) {
	updates := map[string]any{
		"status":                 types.SubscriptionStatusActive,
		"pending_since":          nil,
		"temporary_access_until": nil,
		"grace_until":            nil,
		"reminder_sent_at":       nil,
		"reminder_count":         0,
		"started_at":             gorm.Expr("COALESCE(started_at, ?)", p.PaidAt),
		"updated_at":             time.Now(),
	}
	return s.transition(ctx, sub, types.SubscriptionChangeReasonBankPayment,
		datatypes.JSONMap{"payment_id": p.ID, "provider_ref": p.ProviderRef},
		updates,
		"status <> ?", types.SubscriptionStatusCanceled)
}

// RecordPaymentOnCanceled leaves the subscription untouched and only audits the late payment.
func (s *Service) RecordPaymentOnCanceled(ctx context.Context, sub *models.Subscription, p *models.Payment) {
	s.writeLog(ctx, sub, sub, types.SubscriptionChangeReasonPaymentCanceled,
		datatypes.JSONMap{"payment_id": p.ID, "provider_ref": p.ProviderRef})
}

// ListTimelineCandidates returns pending bank subscriptions with a transition due at now, oldest first.
func (s *Service) ListTimelineCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("provider = ? AND status = ?", types.PaymentProviderBank, types.SubscriptionStatusPending).
		Where(s.db.
			Where("temporary_access_until IS NULL").
			Or("grace_until IS NULL AND temporary_access_until < ?", now).
			Or("grace_until < ?", now)).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list timeline candidates: %w", err)
	}
	return subs, nil
}

// StartTimeline initializes the temporary access window once.
func (s *Service) StartTimeline(ctx context.Context, sub *models.Subscription, now, accessUntil time.Time) (bool, error) {
	return s.transition(ctx, sub, types.SubscriptionChangeReasonTimelineStart, nil,
		map[string]any{
			"pending_since":          now,
			"temporary_access_until": accessUntil,
			"updated_at":             now,
		},
		"status = ? AND temporary_access_until IS NULL", types.SubscriptionStatusPending)
}

// MarkReminded opens the grace window. Only the caller whose update wins should send the reminder.
func (s *Service) MarkReminded(ctx context.Context, sub *models.Subscription, now, graceUntil time.Time) (bool, error) {
	return s.transition(ctx, sub, types.SubscriptionChangeReasonReminder, nil,
		map[string]any{
			"grace_until":      graceUntil,
			"reminder_sent_at": now,
			"reminder_count":   gorm.Expr("reminder_count + 1"),
			"updated_at":       now,
		},
		"status = ? AND grace_until IS NULL AND temporary_access_until < ?", types.SubscriptionStatusPending, now)
}

// Expire marks a subscription whose grace window has passed as INACTIVE.
func (s *Service) Expire(ctx context.Context, sub *models.Subscription, now time.Time) (bool, error) {
	return s.transition(ctx, sub, types.SubscriptionChangeReasonGraceExpired, nil,
		map[string]any{
			"status":     types.SubscriptionStatusInactive,
			"updated_at": now,
		},
		"status = ? AND grace_until < ?", types.SubscriptionStatusPending, now)
}

// transition applies updates to sub when guard still holds and audits the change.
func (s *Service) transition(ctx context.Context, sub *models.Subscription, reason types.SubscriptionChangeReason, extra datatypes.JSONMap, updates map[string]any, guard string, args ...any) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Where(guard, args...).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update subscription %s (%s): %w", sub.ID, reason, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	after, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to reload subscription after %s: %v", reason, err)
		return true, nil
	}
	s.writeLog(ctx, sub, after, reason, extra)
	*sub = *after
	return true, nil
}

// writeLog persists an audit row; errors are logged but not returned.
func (s *Service) writeLog(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason, extra datatypes.JSONMap) {
	if extra == nil {
		extra = datatypes.JSONMap{}
	}
	if runID := logctx.RunID(ctx); runID != "" {
		extra["run_id"] = runID
	}
	// make a copy value to snapshot
	b := *before
	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: after.ID,
		Reason:         reason,
		Before:         datatypes.NewJSONType(&b),
		After:          datatypes.NewJSONType(after),
		Extra:          extra,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
	}
}

// ListLogs returns the audit trail of a subscription in write order.
func (s *Service) ListLogs(ctx context.Context, subscriptionID string) ([]*models.SubscriptionLog, error) {
	var rows []*models.SubscriptionLog
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscription logs: %w", err)
	}
	return rows, nil
}
