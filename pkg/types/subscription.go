package types

import (
	"database/sql/driver"
	"fmt"
)

// SubscriptionStatus is the lifecycle state of a recurring donation.
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	// SubscriptionStatusInactive marks a subscription that expired without a first payment.
	SubscriptionStatusInactive SubscriptionStatus = "INACTIVE"
)

var subscriptionStatuses = map[SubscriptionStatus]struct{}{
	SubscriptionStatusPending:  {},
	SubscriptionStatusActive:   {},
	SubscriptionStatusCanceled: {},
	SubscriptionStatusInactive: {},
}

func (s SubscriptionStatus) Valid() bool {
	_, ok := subscriptionStatuses[s]
	return ok
}

// Value rejects unknown statuses before they reach the database.
func (s SubscriptionStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubscriptionStatus, string(s))
	}
	return string(s), nil
}

// Scan rejects unknown statuses read from the database.
func (s *SubscriptionStatus) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidSubscriptionStatus, src)
	}
	status := SubscriptionStatus(raw)
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSubscriptionStatus, raw)
	}
	*s = status
	return nil
}

type PaymentProvider string

const (
	PaymentProviderBank PaymentProvider = "BANK"
	PaymentProviderCard PaymentProvider = "CARD"
)

type PaymentStatus string

const (
	PaymentStatusPaid PaymentStatus = "PAID"
)

// SubscriptionChangeReason is recorded in the subscription log for every engine transition.
type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonBankPayment     SubscriptionChangeReason = "bank_payment"
	SubscriptionChangeReasonPaymentCanceled SubscriptionChangeReason = "payment_on_canceled"
	SubscriptionChangeReasonTimelineStart   SubscriptionChangeReason = "timeline_start"
	SubscriptionChangeReasonReminder        SubscriptionChangeReason = "reminder"
	SubscriptionChangeReasonGraceExpired    SubscriptionChangeReason = "grace_expired"
)
