package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/memberhq/memberhq/pkg/observability"
)

// memStore is an in-memory Store with the same upsert semantics as
// the Postgres implementation
type memStore struct {
	records map[string]*BillingRecord // keyed by tenant ID
	fail    error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*BillingRecord)}
}

func (s *memStore) GetByTenant(_ context.Context, tenantID string) (*BillingRecord, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	rec, ok := s.records[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) GetBySubscription(_ context.Context, subscriptionID string) (*BillingRecord, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	for _, rec := range s.records {
		if rec.BillingSubscriptionID == subscriptionID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) ApplyCheckout(_ context.Context, update CheckoutUpdate) error {
	if s.fail != nil {
		return s.fail
	}
	rec, ok := s.records[update.TenantID]
	if !ok {
		rec = &BillingRecord{TenantID: update.TenantID, CreatedAt: time.Now()}
		s.records[update.TenantID] = rec
	}
	if rec.BillingCustomerID == "" {
		rec.BillingCustomerID = update.BillingCustomerID
	}
	rec.BillingSubscriptionID = update.BillingSubscriptionID
	rec.SubscriptionStatus = SubscriptionStatusActive
	if update.CurrentPeriodEnd != nil {
		rec.CurrentPeriodEnd = update.CurrentPeriodEnd
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) ApplyStatus(_ context.Context, update StatusUpdate) (bool, error) {
	if s.fail != nil {
		return false, s.fail
	}
	for _, rec := range s.records {
		if rec.BillingSubscriptionID == update.BillingSubscriptionID {
			rec.SubscriptionStatus = update.Status
			if update.CurrentPeriodEnd != nil {
				rec.CurrentPeriodEnd = update.CurrentPeriodEnd
			}
			if update.PlanID != "" {
				rec.PlanID = update.PlanID
			}
			rec.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListByStatus(_ context.Context, status SubscriptionStatus, limit int) ([]*BillingRecord, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	var out []*BillingRecord
	for _, rec := range s.records {
		if rec.SubscriptionStatus == status && len(out) < limit {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockFetcher implements SubscriptionFetcher for testing
type mockFetcher struct {
	currentPeriodEndFunc func(ctx context.Context, subscriptionID string) (*time.Time, error)
}

func (m *mockFetcher) CurrentPeriodEnd(ctx context.Context, subscriptionID string) (*time.Time, error) {
	if m.currentPeriodEndFunc != nil {
		return m.currentPeriodEndFunc(ctx, subscriptionID)
	}
	return nil, errors.New("not implemented")
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func makeEvent(t *testing.T, eventType string, payload interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func checkoutEvent(t *testing.T, tenantID, customer, subscription string) stripe.Event {
	payload := map[string]interface{}{
		"id":           "cs_test",
		"mode":         "subscription",
		"customer":     customer,
		"subscription": subscription,
	}
	if tenantID != "" {
		payload["metadata"] = map[string]string{"tenant_id": tenantID}
	}
	return makeEvent(t, "checkout.session.completed", payload)
}

func TestProcessUnknownEventTypeIsIgnored(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)

	err := p.Process(context.Background(), makeEvent(t, "customer.created", map[string]string{"id": "cus_1"}))

	assert.NoError(t, err)
	assert.Empty(t, store.records)
}

func TestProcessCheckoutCompleted(t *testing.T) {
	store := newMemStore()
	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &mockFetcher{
		currentPeriodEndFunc: func(_ context.Context, subscriptionID string) (*time.Time, error) {
			assert.Equal(t, "sub_1", subscriptionID)
			return &periodEnd, nil
		},
	}
	p := NewProcessor(store, fetcher, testLogger(), nil)

	err := p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1"))
	require.NoError(t, err)

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", rec.BillingCustomerID)
	assert.Equal(t, "sub_1", rec.BillingSubscriptionID)
	assert.Equal(t, SubscriptionStatusActive, rec.SubscriptionStatus)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, *rec.CurrentPeriodEnd)
}

func TestProcessCheckoutCompletedIsIdempotent(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	event := checkoutEvent(t, "t1", "cus_1", "sub_1")

	require.NoError(t, p.Process(context.Background(), event))
	first, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), event))
	second, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, first.BillingCustomerID, second.BillingCustomerID)
	assert.Equal(t, first.BillingSubscriptionID, second.BillingSubscriptionID)
	assert.Equal(t, first.SubscriptionStatus, second.SubscriptionStatus)
	assert.Equal(t, first.CurrentPeriodEnd, second.CurrentPeriodEnd)
	assert.Len(t, store.records, 1)
}

func TestProcessCheckoutFallsBackToClientReference(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)

	event := makeEvent(t, "checkout.session.completed", map[string]interface{}{
		"customer":            "cus_2",
		"subscription":        "sub_2",
		"client_reference_id": "t2",
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, "cus_2", rec.BillingCustomerID)
}

func TestProcessCheckoutMissingTenantIsNoOp(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)

	err := p.Process(context.Background(), checkoutEvent(t, "", "cus_1", "sub_1"))

	assert.NoError(t, err)
	assert.Empty(t, store.records)
}

func TestProcessCheckoutDegradesWhenPeriodEndLookupFails(t *testing.T) {
	store := newMemStore()
	fetcher := &mockFetcher{
		currentPeriodEndFunc: func(context.Context, string) (*time.Time, error) {
			return nil, errors.New("provider unavailable")
		},
	}
	p := NewProcessor(store, fetcher, testLogger(), nil)

	err := p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1"))
	require.NoError(t, err)

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, rec.SubscriptionStatus)
	assert.Nil(t, rec.CurrentPeriodEnd)
}

func TestProcessSubscriptionUpdated(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	require.NoError(t, p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1")))

	event := makeEvent(t, "customer.subscription.updated", map[string]interface{}{
		"id":                 "sub_1",
		"status":             "past_due",
		"current_period_end": time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Unix(),
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusPastDue, rec.SubscriptionStatus)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), *rec.CurrentPeriodEnd)

	// Redelivery leaves the record once-applied-equivalent
	require.NoError(t, p.Process(context.Background(), event))
	again, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, rec.SubscriptionStatus, again.SubscriptionStatus)
}

// stubPlanResolver implements PlanResolver over a fixed price map
type stubPlanResolver map[string]*Plan

func (r stubPlanResolver) PlanByPriceID(priceID string) (*Plan, bool) {
	plan, ok := r[priceID]
	return plan, ok
}

func TestProcessSubscriptionUpdatedResolvesPlan(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	p.SetPlanResolver(stubPlanResolver{
		"price_club": {ID: "club", Name: "Club", PriceID: "price_club"},
	})
	require.NoError(t, p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1")))

	event := makeEvent(t, "customer.subscription.updated", map[string]interface{}{
		"id":     "sub_1",
		"status": "active",
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]string{"id": "price_club"}},
			},
		},
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "club", rec.PlanID)

	// An unknown price leaves the recorded plan untouched
	event = makeEvent(t, "customer.subscription.updated", map[string]interface{}{
		"id":     "sub_1",
		"status": "active",
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]string{"id": "price_retired"}},
			},
		},
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err = store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "club", rec.PlanID)
}

func TestProcessSubscriptionDeleted(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	require.NoError(t, p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1")))

	event := makeEvent(t, "customer.subscription.deleted", map[string]interface{}{
		"id":     "sub_1",
		"status": "canceled",
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusCanceled, rec.SubscriptionStatus)
	assert.Equal(t, "cus_1", rec.BillingCustomerID)
	assert.Equal(t, "sub_1", rec.BillingSubscriptionID)
}

func TestProcessInvoicePaymentFailed(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	require.NoError(t, p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1")))

	event := makeEvent(t, "invoice.payment_failed", map[string]interface{}{
		"id":           "in_1",
		"subscription": "sub_1",
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusPastDue, rec.SubscriptionStatus)
}

func TestProcessInvoicePaymentSucceededDoesNotAlterIdentity(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	require.NoError(t, p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1")))
	require.NoError(t, p.Process(context.Background(), makeEvent(t, "invoice.payment_failed", map[string]interface{}{
		"id":           "in_1",
		"subscription": "sub_1",
	})))

	event := makeEvent(t, "invoice.payment_succeeded", map[string]interface{}{
		"id":           "in_2",
		"subscription": "sub_1",
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, rec.SubscriptionStatus)
	assert.Equal(t, "cus_1", rec.BillingCustomerID)
	assert.Equal(t, "sub_1", rec.BillingSubscriptionID)
}

func TestProcessInvoicePaidAlias(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	require.NoError(t, p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1")))

	event := makeEvent(t, "invoice.paid", map[string]interface{}{
		"id": "in_1",
		"parent": map[string]interface{}{
			"subscription_details": map[string]string{"subscription": "sub_1"},
		},
	})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, rec.SubscriptionStatus)
}

func TestProcessUnknownSubscriptionIsNoOp(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)

	event := makeEvent(t, "invoice.payment_failed", map[string]interface{}{
		"id":           "in_1",
		"subscription": "sub_missing",
	})

	assert.NoError(t, p.Process(context.Background(), event))
	assert.Empty(t, store.records)
}

func TestProcessInvoiceWithoutSubscriptionIsNoOp(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, nil, testLogger(), nil)
	require.NoError(t, p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1")))

	event := makeEvent(t, "invoice.payment_failed", map[string]interface{}{"id": "in_1"})
	require.NoError(t, p.Process(context.Background(), event))

	rec, err := store.GetByTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, rec.SubscriptionStatus)
}

func TestProcessStoreFailurePropagates(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("db down")
	p := NewProcessor(store, nil, testLogger(), nil)

	err := p.Process(context.Background(), checkoutEvent(t, "t1", "cus_1", "sub_1"))
	assert.Error(t, err)
}
