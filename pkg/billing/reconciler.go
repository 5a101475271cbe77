package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memberhq/memberhq/pkg/observability"
)

const reconcileBatchSize = 100

// Reconciler periodically re-checks past_due records against the
// provider. Webhook deliveries are at-least-once but a dropped
// delivery can strand a record; the sweep converges such records onto
// the provider's current status. Each correction is the same keyed
// upsert the webhook path uses, so a sweep racing a delivery is
// harmless.
type Reconciler struct {
	store   Store
	fetcher SubscriptionFetcher
	checker StatusChecker
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// StatusChecker retrieves a subscription's current provider status
type StatusChecker interface {
	SubscriptionStatus(ctx context.Context, subscriptionID string) (string, error)
}

// NewReconciler creates a reconciliation sweep
func NewReconciler(store Store, fetcher SubscriptionFetcher, checker StatusChecker, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		store:   store,
		fetcher: fetcher,
		checker: checker,
		logger:  logger,
		metrics: metrics,
		cron:    cron.New(),
	}
}

// Start schedules the sweep with the given cron expression
func (r *Reconciler) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := r.Run(ctx); err != nil {
			r.logger.WithError(err).Error("reconciliation sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (r *Reconciler) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one sweep over past_due records
func (r *Reconciler) Run(ctx context.Context) error {
	if r.metrics != nil {
		r.metrics.ReconcileRunsTotal.Inc()
	}

	records, err := r.store.ListByStatus(ctx, SubscriptionStatusPastDue, reconcileBatchSize)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ReconcileErrorsTotal.Inc()
		}
		return fmt.Errorf("failed to list past_due records: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.reconcileRecord(ctx, rec); err != nil {
			// One stuck record must not stall the rest of the sweep
			if r.metrics != nil {
				r.metrics.ReconcileErrorsTotal.Inc()
			}
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"tenant_id":       rec.TenantID,
				"subscription_id": rec.BillingSubscriptionID,
			}).Warn("failed to reconcile billing record")
		}
	}

	r.logger.WithField("checked", len(records)).Info("reconciliation sweep complete")
	return nil
}

func (r *Reconciler) reconcileRecord(ctx context.Context, rec *BillingRecord) error {
	if rec.BillingSubscriptionID == "" {
		return nil
	}

	providerStatus, err := r.checker.SubscriptionStatus(ctx, rec.BillingSubscriptionID)
	if err != nil {
		return fmt.Errorf("provider status lookup failed: %w", err)
	}

	status, _ := MapProviderStatus(providerStatus)
	if status == rec.SubscriptionStatus {
		return nil
	}

	var periodEnd *time.Time
	if r.fetcher != nil {
		if pe, err := r.fetcher.CurrentPeriodEnd(ctx, rec.BillingSubscriptionID); err == nil {
			periodEnd = pe
		}
	}

	matched, err := r.store.ApplyStatus(ctx, StatusUpdate{
		BillingSubscriptionID: rec.BillingSubscriptionID,
		Status:                status,
		CurrentPeriodEnd:      periodEnd,
	})
	if err != nil {
		return err
	}
	if matched {
		if r.metrics != nil {
			r.metrics.ReconcileUpdatesTotal.Inc()
		}
		r.logger.WithFields(map[string]interface{}{
			"tenant_id":       rec.TenantID,
			"subscription_id": rec.BillingSubscriptionID,
			"from":            string(rec.SubscriptionStatus),
			"to":              string(status),
		}).Info("billing record reconciled with provider")
	}
	return nil
}
