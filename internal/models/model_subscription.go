package models

import (
	"time"

	"github.com/fatflowers/donations/pkg/types"
)

// TimelinePhase is the position of a pending bank subscription on its
// first-payment timeline. It is derived from the timeline columns, never stored.
type TimelinePhase string

const (
	// TimelinePhaseNone applies to every subscription the timeline does not manage.
	TimelinePhaseNone TimelinePhase = "none"
	// TimelinePhaseFresh has no timeline fields yet.
	TimelinePhaseFresh TimelinePhase = "fresh"
	// TimelinePhaseAwaiting has an open temporary-access window.
	TimelinePhaseAwaiting TimelinePhase = "awaiting"
	// TimelinePhaseOverdueWarned has been reminded and sits in its grace window.
	TimelinePhaseOverdueWarned TimelinePhase = "overdue_warned"
	TimelinePhaseExpired       TimelinePhase = "expired"
)

// Subscription is a recurring monthly donation tied to a beneficiary.
// Timeline fields are only meaningful while Status is PENDING and Provider is BANK.
type Subscription struct {
	ID            string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID        string                   `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	BeneficiaryID string                   `gorm:"column:beneficiary_id;type:varchar(64);not null;index" json:"beneficiary_id"`
	Status        types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_subscription_provider_status,priority:2" json:"status"`
	Provider      types.PaymentProvider    `gorm:"column:provider;type:varchar(32);not null;index:idx_subscription_provider_status,priority:1;index:idx_subscription_provider_reference,priority:1" json:"provider"`
	// VariableReference is the code donors put on a bank transfer. Allocation happens at checkout.
	VariableReference *string `gorm:"column:variable_reference;type:varchar(32);index:idx_subscription_provider_reference,priority:2" json:"variable_reference"`
	// MonthlyAmount is expressed in minor currency units.
	MonthlyAmount int64  `gorm:"column:monthly_amount;type:bigint;not null" json:"monthly_amount"`
	Currency      string `gorm:"column:currency;type:varchar(8);not null" json:"currency"`

	PendingSince         *time.Time `gorm:"column:pending_since;default:null" json:"pending_since"`
	TemporaryAccessUntil *time.Time `gorm:"column:temporary_access_until;default:null" json:"temporary_access_until"`
	GraceUntil           *time.Time `gorm:"column:grace_until;default:null" json:"grace_until"`
	ReminderSentAt       *time.Time `gorm:"column:reminder_sent_at;default:null" json:"reminder_sent_at"`
	ReminderCount        int        `gorm:"column:reminder_count;not null;default:0" json:"reminder_count"`

	StartedAt  *time.Time `gorm:"column:started_at;default:null" json:"started_at"`
	CanceledAt *time.Time `gorm:"column:canceled_at;default:null" json:"canceled_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Phase reports where the subscription sits on the pending timeline at now.
func (s *Subscription) Phase(now time.Time) TimelinePhase {
	if s == nil || s.Provider != types.PaymentProviderBank || s.Status != types.SubscriptionStatusPending {
		return TimelinePhaseNone
	}
	switch {
	case s.TemporaryAccessUntil == nil:
		return TimelinePhaseFresh
	case s.GraceUntil == nil:
		return TimelinePhaseAwaiting
	case now.After(*s.GraceUntil):
		return TimelinePhaseExpired
	default:
		return TimelinePhaseOverdueWarned
	}
}

// TimelineCleared reports whether all timeline fields are reset.
func (s *Subscription) TimelineCleared() bool {
	return s.PendingSince == nil &&
		s.TemporaryAccessUntil == nil &&
		s.GraceUntil == nil &&
		s.ReminderSentAt == nil &&
		s.ReminderCount == 0
}
