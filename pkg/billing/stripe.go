package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	"github.com/stripe/stripe-go/v82/subscription"
)

// StripeSubscriptionFetcher fetches subscription details from the
// provider API. Implements SubscriptionFetcher.
type StripeSubscriptionFetcher struct{}

// NewStripeSubscriptionFetcher creates a fetcher using the globally
// configured provider API key
func NewStripeSubscriptionFetcher() *StripeSubscriptionFetcher {
	return &StripeSubscriptionFetcher{}
}

// CurrentPeriodEnd looks up a subscription's current period end.
// Returns nil without error when the provider reports no period.
func (f *StripeSubscriptionFetcher) CurrentPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}

	// The period end lives on the subscription item in current
	// provider API versions
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, nil
	}
	ts := sub.Items.Data[0].CurrentPeriodEnd
	if ts == 0 {
		return nil, nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t, nil
}

// SubscriptionStatus looks up a subscription's provider-reported
// status. Implements StatusChecker.
func (f *StripeSubscriptionFetcher) SubscriptionStatus(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}
	return string(sub.Status), nil
}

// PortalClient mints provider-hosted billing management sessions
type PortalClient interface {
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// StripePortalClient implements PortalClient against the provider API
type StripePortalClient struct{}

// NewStripePortalClient creates a portal client using the globally
// configured provider API key
func NewStripePortalClient() *StripePortalClient {
	return &StripePortalClient{}
}

// CreatePortalSession creates a short-lived management session for
// the customer and returns its one-time URL
func (c *StripePortalClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}
