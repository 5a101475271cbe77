package billing

import (
	"context"
	"errors"
	"time"
)

// SubscriptionStatus is the authoritative billing gate for a tenant
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// MapProviderStatus maps a provider-reported subscription status onto
// the local enum. Trial periods count as active; terminal provider
// states count as canceled. The second return is false for provider
// statuses with no defined mapping.
func MapProviderStatus(status string) (SubscriptionStatus, bool) {
	switch status {
	case "active", "trialing":
		return SubscriptionStatusActive, true
	case "past_due", "unpaid", "incomplete":
		return SubscriptionStatusPastDue, true
	case "canceled", "incomplete_expired":
		return SubscriptionStatusCanceled, true
	}
	return SubscriptionStatusPastDue, false
}

// BillingRecord is the persisted billing state for one tenant. The
// customer and subscription identifiers are opaque values assigned by
// the payment provider; the customer ID is immutable once set.
type BillingRecord struct {
	TenantID              string             `json:"tenant_id"`
	BillingCustomerID     string             `json:"billing_customer_id,omitempty"`
	BillingSubscriptionID string             `json:"billing_subscription_id,omitempty"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	// PlanID is advisory plan-catalog info resolved from the
	// subscription's price; empty when the price is not in the catalog
	PlanID           string     `json:"plan_id,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// ErrNotFound is returned when no billing record matches the key
var ErrNotFound = errors.New("billing record not found")

// ErrNoBillingIdentity is returned when an operation requires a
// provider customer ID that the tenant does not have yet
var ErrNoBillingIdentity = errors.New("no billing identity on file")

// CheckoutUpdate carries the fields established by a completed
// checkout, applied as a single upsert keyed by tenant
type CheckoutUpdate struct {
	TenantID              string
	BillingCustomerID     string
	BillingSubscriptionID string
	CurrentPeriodEnd      *time.Time
}

// StatusUpdate carries a subscription-keyed status transition
type StatusUpdate struct {
	BillingSubscriptionID string
	Status                SubscriptionStatus
	// CurrentPeriodEnd is applied only when non-nil
	CurrentPeriodEnd *time.Time
	// PlanID is applied only when non-empty
	PlanID string
}

// Store persists tenant billing records. Records are addressable by
// tenant key (first purchase) and by subscription key (all later
// lifecycle events). Every mutation is a single keyed statement so
// the database's row-level atomicity is the only serialization point.
type Store interface {
	GetByTenant(ctx context.Context, tenantID string) (*BillingRecord, error)
	GetBySubscription(ctx context.Context, subscriptionID string) (*BillingRecord, error)

	// ApplyCheckout upserts the record for the tenant, setting the
	// billing identity and marking the subscription active
	ApplyCheckout(ctx context.Context, update CheckoutUpdate) error

	// ApplyStatus updates the record matching the subscription ID.
	// Returns (false, nil) when no record matches.
	ApplyStatus(ctx context.Context, update StatusUpdate) (bool, error)

	// ListByStatus returns records currently in the given status
	ListByStatus(ctx context.Context, status SubscriptionStatus, limit int) ([]*BillingRecord, error)
}
