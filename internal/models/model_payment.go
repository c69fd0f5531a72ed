package models

import (
	"time"

	"github.com/fatflowers/donations/pkg/types"
)

// BankProviderRefPrefix namespaces bank movement ids inside Payment.ProviderRef.
const BankProviderRefPrefix = "bank:"

// Payment is an immutable settled transaction. (SubscriptionID, ProviderRef) is
// the idempotency key: re-reading the same upstream movement never adds a row.
type Payment struct {
	ID             string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string              `gorm:"column:subscription_id;type:uuid;not null;uniqueIndex:ux_payment_subscription_provider_ref,priority:1" json:"subscription_id"`
	ProviderRef    string              `gorm:"column:provider_ref;type:varchar(128);not null;uniqueIndex:ux_payment_subscription_provider_ref,priority:2" json:"provider_ref"`
	Amount         int64               `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Currency       string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status         types.PaymentStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PaidAt         time.Time           `gorm:"column:paid_at;not null;index" json:"paid_at"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (Payment) TableName() string {
	return "payment"
}

// BankProviderRef derives the idempotency key for a bank movement.
func BankProviderRef(movementID string) string {
	return BankProviderRefPrefix + movementID
}
