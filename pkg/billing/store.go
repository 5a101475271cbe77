package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memberhq/memberhq/pkg/observability"
)

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SetMetrics enables per-operation store metrics
func (s *PostgresStore) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// record counts the operation and, when err is non-nil, the error
func (s *PostgresStore) record(operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(operation).Inc()
	if err != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// ignoreNotFound filters the benign miss out of error metrics
func ignoreNotFound(err error) error {
	if err == ErrNotFound {
		return nil
	}
	return err
}

// GetByTenant retrieves the billing record for a tenant
func (s *PostgresStore) GetByTenant(ctx context.Context, tenantID string) (*BillingRecord, error) {
	query := `
		SELECT tenant_id, billing_customer_id, billing_subscription_id,
		       subscription_status, plan_id, current_period_end, created_at, updated_at
		FROM tenant_billing
		WHERE tenant_id = $1
	`
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, tenantID))
	s.record("get_by_tenant", ignoreNotFound(err))
	return rec, err
}

// GetBySubscription retrieves the billing record by provider subscription ID
func (s *PostgresStore) GetBySubscription(ctx context.Context, subscriptionID string) (*BillingRecord, error) {
	query := `
		SELECT tenant_id, billing_customer_id, billing_subscription_id,
		       subscription_status, plan_id, current_period_end, created_at, updated_at
		FROM tenant_billing
		WHERE billing_subscription_id = $1
	`
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, query, subscriptionID))
	s.record("get_by_subscription", ignoreNotFound(err))
	return rec, err
}

// ApplyCheckout upserts the billing record for a tenant after a
// completed checkout. Re-applying the same checkout leaves the row
// unchanged; a re-subscribe after cancellation replaces the
// subscription ID while keeping the original customer ID.
func (s *PostgresStore) ApplyCheckout(ctx context.Context, update CheckoutUpdate) error {
	query := `
		INSERT INTO tenant_billing (tenant_id, billing_customer_id, billing_subscription_id,
		                            subscription_status, current_period_end)
		VALUES ($1, $2, $3, 'active', $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			billing_customer_id = COALESCE(NULLIF(tenant_billing.billing_customer_id, ''), EXCLUDED.billing_customer_id),
			billing_subscription_id = EXCLUDED.billing_subscription_id,
			subscription_status = 'active',
			current_period_end = COALESCE(EXCLUDED.current_period_end, tenant_billing.current_period_end),
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		update.TenantID, update.BillingCustomerID, update.BillingSubscriptionID, update.CurrentPeriodEnd)
	s.record("apply_checkout", err)
	if err != nil {
		return fmt.Errorf("failed to apply checkout: %w", err)
	}
	return nil
}

// ApplyStatus updates the status of the record matching the
// subscription ID. Returns (false, nil) when no record matches; the
// caller decides whether that is benign.
func (s *PostgresStore) ApplyStatus(ctx context.Context, update StatusUpdate) (bool, error) {
	query := `
		UPDATE tenant_billing
		SET subscription_status = $1,
		    current_period_end = COALESCE($2, current_period_end),
		    plan_id = COALESCE(NULLIF($3, ''), plan_id),
		    updated_at = NOW()
		WHERE billing_subscription_id = $4
	`
	result, err := s.db.ExecContext(ctx, query,
		update.Status, update.CurrentPeriodEnd, update.PlanID, update.BillingSubscriptionID)
	s.record("apply_status", err)
	if err != nil {
		return false, fmt.Errorf("failed to apply status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListByStatus returns billing records currently in the given status
func (s *PostgresStore) ListByStatus(ctx context.Context, status SubscriptionStatus, limit int) ([]*BillingRecord, error) {
	query := `
		SELECT tenant_id, billing_customer_id, billing_subscription_id,
		       subscription_status, plan_id, current_period_end, created_at, updated_at
		FROM tenant_billing
		WHERE subscription_status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, status, limit)
	s.record("list_by_status", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing records: %w", err)
	}
	defer rows.Close()

	var records []*BillingRecord
	for rows.Next() {
		rec, err := s.scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanRecord(row rowScanner) (*BillingRecord, error) {
	rec, err := scanBillingRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) scanRecordRows(row rowScanner) (*BillingRecord, error) {
	rec, err := scanBillingRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to scan billing record: %w", err)
	}
	return rec, nil
}

func scanBillingRecord(row rowScanner) (*BillingRecord, error) {
	rec := &BillingRecord{}
	var customerID, subscriptionID, planID sql.NullString
	err := row.Scan(
		&rec.TenantID, &customerID, &subscriptionID,
		&rec.SubscriptionStatus, &planID, &rec.CurrentPeriodEnd,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.BillingCustomerID = customerID.String
	rec.BillingSubscriptionID = subscriptionID.String
	rec.PlanID = planID.String
	return rec, nil
}
