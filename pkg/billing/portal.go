package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/memberhq/memberhq/pkg/auth"
	"github.com/memberhq/memberhq/pkg/observability"
)

// Portal session errors, each mapped to a distinct rejection message
// by the API layer
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAdmin         = errors.New("admin role required")
)

// PortalService brokers provider-hosted billing management sessions.
// Read-then-delegate only: no local state is mutated.
type PortalService struct {
	store     Store
	client    PortalClient
	returnURL string
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewPortalService creates a new portal session broker
func NewPortalService(store Store, client PortalClient, returnURL string, logger *observability.Logger, metrics *observability.Metrics) *PortalService {
	return &PortalService{
		store:     store,
		client:    client,
		returnURL: returnURL,
		logger:    logger,
		metrics:   metrics,
	}
}

// CreateSession mints a management-session URL for the caller's
// tenant. The caller must be authenticated, hold the admin role, and
// the tenant must already have a billing identity; each failure maps
// to a distinct error and no provider call is attempted.
func (s *PortalService) CreateSession(ctx context.Context, ac *auth.AuthContext) (string, error) {
	if ac == nil || ac.User == nil || ac.TenantID == "" {
		s.recordOutcome("unauthenticated")
		return "", ErrNotAuthenticated
	}
	if !ac.IsAdmin() {
		s.recordOutcome("forbidden")
		return "", ErrNotAdmin
	}

	record, err := s.store.GetByTenant(ctx, ac.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recordOutcome("no_identity")
			return "", ErrNoBillingIdentity
		}
		s.recordOutcome("store_error")
		return "", fmt.Errorf("failed to load billing record: %w", err)
	}
	if record.BillingCustomerID == "" {
		s.recordOutcome("no_identity")
		return "", ErrNoBillingIdentity
	}

	url, err := s.client.CreatePortalSession(ctx, record.BillingCustomerID, s.returnURL)
	if err != nil {
		s.recordOutcome("provider_error")
		return "", fmt.Errorf("provider session creation failed: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id":   ac.TenantID,
		"customer_id": record.BillingCustomerID,
	}).Info("portal session created")
	s.recordOutcome("created")
	return url, nil
}

// Subscription returns the caller's tenant billing record. Tenants
// without a record report status none.
func (s *PortalService) Subscription(ctx context.Context, ac *auth.AuthContext) (*BillingRecord, error) {
	if ac == nil || ac.User == nil || ac.TenantID == "" {
		return nil, ErrNotAuthenticated
	}

	record, err := s.store.GetByTenant(ctx, ac.TenantID)
	if errors.Is(err, ErrNotFound) {
		return &BillingRecord{
			TenantID:           ac.TenantID,
			SubscriptionStatus: SubscriptionStatusNone,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load billing record: %w", err)
	}
	return record, nil
}

func (s *PortalService) recordOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.PortalSessionsTotal.WithLabelValues(outcome).Inc()
	}
}
