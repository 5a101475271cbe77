package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventKind(t *testing.T) {
	for _, wire := range []string{
		"checkout.session.completed",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"invoice.payment_failed",
		"invoice.payment_succeeded",
		"invoice.paid",
	} {
		kind, ok := ParseEventKind(wire)
		assert.True(t, ok, wire)
		assert.Equal(t, EventKind(wire), kind)
	}

	_, ok := ParseEventKind("customer.created")
	assert.False(t, ok)
	_, ok = ParseEventKind("")
	assert.False(t, ok)
}

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		provider string
		want     SubscriptionStatus
		known    bool
	}{
		{"active", SubscriptionStatusActive, true},
		{"trialing", SubscriptionStatusActive, true},
		{"past_due", SubscriptionStatusPastDue, true},
		{"unpaid", SubscriptionStatusPastDue, true},
		{"incomplete", SubscriptionStatusPastDue, true},
		{"canceled", SubscriptionStatusCanceled, true},
		{"incomplete_expired", SubscriptionStatusCanceled, true},
		{"paused", SubscriptionStatusPastDue, false},
	}
	for _, tt := range tests {
		got, known := MapProviderStatus(tt.provider)
		assert.Equal(t, tt.want, got, tt.provider)
		assert.Equal(t, tt.known, known, tt.provider)
	}
}

func TestCheckoutTenantIDPrefersMetadata(t *testing.T) {
	var p checkoutSessionPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"metadata": {"tenant_id": "t_meta"},
		"client_reference_id": "t_ref"
	}`), &p))
	assert.Equal(t, "t_meta", p.tenantID())

	p = checkoutSessionPayload{}
	require.NoError(t, json.Unmarshal([]byte(`{"client_reference_id": "t_ref"}`), &p))
	assert.Equal(t, "t_ref", p.tenantID())

	assert.Empty(t, (&checkoutSessionPayload{}).tenantID())
}

func TestSubscriptionPeriodEndPrefersItemLevel(t *testing.T) {
	var p subscriptionPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "sub_1",
		"items": {"data": [{"current_period_end": 1790000000}]}
	}`), &p))

	pe := p.periodEnd()
	require.NotNil(t, pe)
	assert.Equal(t, time.Unix(1790000000, 0).UTC(), *pe)

	var legacy subscriptionPayload
	require.NoError(t, json.Unmarshal([]byte(`{"id": "sub_1", "current_period_end": 1780000000}`), &legacy))
	pe = legacy.periodEnd()
	require.NotNil(t, pe)
	assert.Equal(t, time.Unix(1780000000, 0).UTC(), *pe)

	assert.Nil(t, (&subscriptionPayload{}).periodEnd())
}

func TestSubscriptionPriceID(t *testing.T) {
	var p subscriptionPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "sub_1",
		"items": {"data": [{"price": {"id": "price_club"}}]}
	}`), &p))
	assert.Equal(t, "price_club", p.priceID())

	assert.Empty(t, (&subscriptionPayload{}).priceID())
}

func TestInvoiceSubscriptionIDFallback(t *testing.T) {
	var p invoicePayload
	require.NoError(t, json.Unmarshal([]byte(`{"subscription": "sub_top"}`), &p))
	assert.Equal(t, "sub_top", p.subscriptionID())

	var nested invoicePayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"parent": {"subscription_details": {"subscription": "sub_nested"}}
	}`), &nested))
	assert.Equal(t, "sub_nested", nested.subscriptionID())

	assert.Empty(t, (&invoicePayload{}).subscriptionID())
}
