package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/memberhq/memberhq/pkg/observability"
)

// SubscriptionFetcher retrieves supplementary subscription details
// from the provider. Used best-effort: a fetch failure degrades the
// transition (no period end) rather than aborting it.
type SubscriptionFetcher interface {
	CurrentPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error)
}

// PlanResolver resolves a provider price ID to a catalog plan
type PlanResolver interface {
	PlanByPriceID(priceID string) (*Plan, bool)
}

// Processor routes verified webhook events to their transition
// handlers. Each handler is an idempotent keyed upsert; the provider's
// own redelivery is the only retry mechanism, so handlers never retry
// internally and a missing target record is benign success.
type Processor struct {
	store   Store
	fetcher SubscriptionFetcher
	plans   PlanResolver
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewProcessor creates a new webhook event processor
func NewProcessor(store Store, fetcher SubscriptionFetcher, logger *observability.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		store:   store,
		fetcher: fetcher,
		logger:  logger,
		metrics: metrics,
	}
}

// SetPlanResolver enables advisory plan resolution on subscription
// updates. Without a resolver, plan info is left untouched.
func (p *Processor) SetPlanResolver(resolver PlanResolver) {
	p.plans = resolver
}

// Process dispatches a verified event to its transition handler.
// Unknown event types are logged and ignored. A returned error means
// the transition could not be applied and the delivery should be
// answered with a server error so the provider redelivers.
func (p *Processor) Process(ctx context.Context, event stripe.Event) error {
	kind, ok := ParseEventKind(string(event.Type))
	if !ok {
		p.logger.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		}).Info("ignoring unhandled webhook event type")
		p.recordOutcome(string(event.Type), "ignored")
		return nil
	}

	start := time.Now()
	var err error
	switch kind {
	case EventCheckoutCompleted:
		err = p.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated:
		err = p.handleSubscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		err = p.handleSubscriptionDeleted(ctx, event)
	case EventInvoiceFailed:
		err = p.handleInvoiceStatus(ctx, event, SubscriptionStatusPastDue)
	case EventInvoiceSucceeded, EventInvoicePaid:
		err = p.handleInvoiceStatus(ctx, event, SubscriptionStatusActive)
	}

	if p.metrics != nil {
		p.metrics.WebhookDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.logger.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(kind),
		}).Error("webhook transition failed")
		p.recordOutcome(string(kind), "error")
		return err
	}

	p.recordOutcome(string(kind), "applied")
	return nil
}

// handleCheckoutCompleted establishes the tenant's billing identity
// and activates the subscription. The period end is fetched from the
// provider best-effort; the upsert proceeds without it on failure.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	tenantID := session.tenantID()
	if tenantID == "" {
		p.logger.WithField("event_id", event.ID).Warn("checkout session has no tenant reference; skipping")
		return nil
	}
	if session.Customer == "" || session.Subscription == "" {
		p.logger.WithFields(map[string]interface{}{
			"event_id":  event.ID,
			"tenant_id": tenantID,
		}).Warn("checkout session missing billing identifiers; skipping")
		return nil
	}

	var periodEnd *time.Time
	if p.fetcher != nil {
		pe, err := p.fetcher.CurrentPeriodEnd(ctx, session.Subscription)
		if err != nil {
			p.logger.WithError(err).WithFields(map[string]interface{}{
				"event_id":        event.ID,
				"subscription_id": session.Subscription,
			}).Warn("period end lookup failed; applying checkout without it")
		} else {
			periodEnd = pe
		}
	}

	if err := p.store.ApplyCheckout(ctx, CheckoutUpdate{
		TenantID:              tenantID,
		BillingCustomerID:     session.Customer,
		BillingSubscriptionID: session.Subscription,
		CurrentPeriodEnd:      periodEnd,
	}); err != nil {
		return err
	}

	p.logger.WithFields(map[string]interface{}{
		"tenant_id":       tenantID,
		"customer_id":     session.Customer,
		"subscription_id": session.Subscription,
	}).Info("checkout completed; subscription activated")
	return nil
}

// handleSubscriptionUpdated applies the provider-reported status and
// period end to the record matching the subscription ID
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if sub.ID == "" {
		p.logger.WithField("event_id", event.ID).Warn("subscription event has no ID; skipping")
		return nil
	}

	status, known := MapProviderStatus(sub.Status)
	if !known {
		p.logger.WithFields(map[string]interface{}{
			"event_id":        event.ID,
			"provider_status": sub.Status,
		}).Warn("unmapped provider subscription status; treating as past_due")
	}

	var planID string
	if p.plans != nil {
		if priceID := sub.priceID(); priceID != "" {
			if plan, ok := p.plans.PlanByPriceID(priceID); ok {
				planID = plan.ID
			}
		}
	}

	return p.applyStatus(ctx, event, StatusUpdate{
		BillingSubscriptionID: sub.ID,
		Status:                status,
		CurrentPeriodEnd:      sub.periodEnd(),
		PlanID:                planID,
	})
}

// handleSubscriptionDeleted marks the subscription canceled
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	if sub.ID == "" {
		p.logger.WithField("event_id", event.ID).Warn("subscription event has no ID; skipping")
		return nil
	}

	return p.applyStatus(ctx, event, StatusUpdate{
		BillingSubscriptionID: sub.ID,
		Status:                SubscriptionStatusCanceled,
	})
}

// handleInvoiceStatus applies an invoice-driven status transition to
// the subscription the invoice belongs to
func (p *Processor) handleInvoiceStatus(ctx context.Context, event stripe.Event, status SubscriptionStatus) error {
	var invoice invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("decode invoice: %w", err)
	}

	subscriptionID := invoice.subscriptionID()
	if subscriptionID == "" {
		p.logger.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"invoice_id": invoice.ID,
		}).Info("invoice not tied to a subscription; skipping")
		return nil
	}

	return p.applyStatus(ctx, event, StatusUpdate{
		BillingSubscriptionID: subscriptionID,
		Status:                status,
	})
}

func (p *Processor) applyStatus(ctx context.Context, event stripe.Event, update StatusUpdate) error {
	matched, err := p.store.ApplyStatus(ctx, update)
	if err != nil {
		return err
	}
	if !matched {
		p.logger.WithFields(map[string]interface{}{
			"event_id":        event.ID,
			"subscription_id": update.BillingSubscriptionID,
		}).Info("no billing record for subscription; nothing to do")
		return nil
	}

	p.logger.WithFields(map[string]interface{}{
		"subscription_id": update.BillingSubscriptionID,
		"status":          string(update.Status),
	}).Info("subscription status updated")
	return nil
}

func (p *Processor) recordOutcome(eventType, outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}
