package billing

import "time"

// EventKind is the closed set of webhook event types that trigger a
// state transition. Wire values outside this set are accepted and
// ignored for forward compatibility.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout.session.completed"
	EventSubscriptionUpdated EventKind = "customer.subscription.updated"
	EventSubscriptionDeleted EventKind = "customer.subscription.deleted"
	EventInvoiceFailed       EventKind = "invoice.payment_failed"
	EventInvoiceSucceeded    EventKind = "invoice.payment_succeeded"

	// The provider emits invoice.paid alongside
	// invoice.payment_succeeded for the same fact; both are handled
	// identically.
	EventInvoicePaid EventKind = "invoice.paid"
)

// ParseEventKind maps a wire event type onto the closed set. The
// second return is false for unhandled types.
func ParseEventKind(wireType string) (EventKind, bool) {
	switch EventKind(wireType) {
	case EventCheckoutCompleted, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoiceFailed, EventInvoiceSucceeded, EventInvoicePaid:
		return EventKind(wireType), true
	}
	return "", false
}

// Wire payloads are decoded with local structs rather than the SDK's
// full object types; only the fields the transition handlers consume
// are declared, which keeps decoding stable across provider API
// versions.

type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// tenantID resolves the local tenant the checkout was initiated for.
// The checkout flow sets metadata.tenant_id; client_reference_id is
// the fallback for sessions created before metadata was added.
func (p *checkoutSessionPayload) tenantID() string {
	if id, ok := p.Metadata["tenant_id"]; ok && id != "" {
		return id
	}
	return p.ClientReferenceID
}

type subscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// priceID returns the price of the first subscription item, used to
// resolve advisory plan info from the catalog
func (p *subscriptionPayload) priceID() string {
	if len(p.Items.Data) == 0 {
		return ""
	}
	return p.Items.Data[0].Price.ID
}

// periodEnd returns the subscription's current period end, preferring
// the item-level field used by newer provider API versions over the
// legacy top-level one. Nil when neither is present.
func (p *subscriptionPayload) periodEnd() *time.Time {
	ts := p.CurrentPeriodEnd
	if ts == 0 && len(p.Items.Data) > 0 {
		ts = p.Items.Data[0].CurrentPeriodEnd
	}
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID resolves the subscription the invoice belongs to;
// newer provider API versions moved it under parent.subscription_details
func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	return p.Parent.SubscriptionDetails.Subscription
}
