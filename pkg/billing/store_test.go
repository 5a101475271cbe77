package billing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func billingColumns() []string {
	return []string{
		"tenant_id", "billing_customer_id", "billing_subscription_id",
		"subscription_status", "plan_id", "current_period_end", "created_at", "updated_at",
	}
}

func TestGetByTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	periodEnd := now.Add(30 * 24 * time.Hour)
	mock.ExpectQuery("SELECT tenant_id, billing_customer_id").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows(billingColumns()).
			AddRow("t1", "cus_1", "sub_1", "active", "plan_club", periodEnd, now, now))

	store := NewPostgresStore(db)
	rec, err := store.GetByTenant(context.Background(), "t1")

	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, "cus_1", rec.BillingCustomerID)
	assert.Equal(t, "sub_1", rec.BillingSubscriptionID)
	assert.Equal(t, SubscriptionStatusActive, rec.SubscriptionStatus)
	assert.Equal(t, "plan_club", rec.PlanID)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByTenantNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT tenant_id, billing_customer_id").
		WithArgs("t_missing").
		WillReturnRows(sqlmock.NewRows(billingColumns()))

	store := NewPostgresStore(db)
	_, err = store.GetByTenant(context.Background(), "t_missing")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBySubscriptionNullIdentity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT tenant_id, billing_customer_id").
		WithArgs("sub_1").
		WillReturnRows(sqlmock.NewRows(billingColumns()).
			AddRow("t1", nil, "sub_1", "none", nil, nil, now, now))

	store := NewPostgresStore(db)
	rec, err := store.GetBySubscription(context.Background(), "sub_1")

	require.NoError(t, err)
	assert.Empty(t, rec.BillingCustomerID)
	assert.Nil(t, rec.CurrentPeriodEnd)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCheckout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO tenant_billing").
		WithArgs("t1", "cus_1", "sub_1", periodEnd).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	err = store.ApplyCheckout(context.Background(), CheckoutUpdate{
		TenantID:              "t1",
		BillingCustomerID:     "cus_1",
		BillingSubscriptionID: "sub_1",
		CurrentPeriodEnd:      &periodEnd,
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStatusMatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE tenant_billing").
		WithArgs(SubscriptionStatusCanceled, nil, "", "sub_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	matched, err := store.ApplyStatus(context.Background(), StatusUpdate{
		BillingSubscriptionID: "sub_1",
		Status:                SubscriptionStatusCanceled,
	})

	require.NoError(t, err)
	assert.True(t, matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStatusUnmatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE tenant_billing").
		WithArgs(SubscriptionStatusPastDue, nil, "", "sub_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStore(db)
	matched, err := store.ApplyStatus(context.Background(), StatusUpdate{
		BillingSubscriptionID: "sub_missing",
		Status:                SubscriptionStatusPastDue,
	})

	require.NoError(t, err)
	assert.False(t, matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT tenant_id, billing_customer_id").
		WithArgs(SubscriptionStatusPastDue, 100).
		WillReturnRows(sqlmock.NewRows(billingColumns()).
			AddRow("t1", "cus_1", "sub_1", "past_due", nil, nil, now, now).
			AddRow("t2", "cus_2", "sub_2", "past_due", nil, nil, now, now))

	store := NewPostgresStore(db)
	records, err := store.ListByStatus(context.Background(), SubscriptionStatusPastDue, 100)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].TenantID)
	assert.Equal(t, "t2", records[1].TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
