package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memberhq/memberhq/pkg/billing"
	"github.com/memberhq/memberhq/pkg/httputil"
	"github.com/memberhq/memberhq/pkg/middleware"
	"github.com/memberhq/memberhq/pkg/observability"
)

// BillingHandlers handles billing-related HTTP requests for
// authenticated callers
type BillingHandlers struct {
	portal  *billing.PortalService
	catalog *billing.PlanCatalog
	logger  *observability.Logger
}

// NewBillingHandlers creates a new BillingHandlers. The catalog may
// be nil when no plan catalog is configured.
func NewBillingHandlers(portal *billing.PortalService, catalog *billing.PlanCatalog, logger *observability.Logger) *BillingHandlers {
	return &BillingHandlers{
		portal:  portal,
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/portal", h.CreatePortalSession).Methods("POST")
	router.HandleFunc("/billing/subscription", h.GetSubscription).Methods("GET")
	router.HandleFunc("/billing/plans", h.ListPlans).Methods("GET")
}

// CreatePortalSession mints a provider-hosted management-session URL
// for the caller's tenant. Every failure is a 400 with a distinct
// message; no partial URL is ever returned.
func (h *BillingHandlers) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	url, err := h.portal.CreateSession(r.Context(), middleware.GetAuthContext(r))
	if err != nil {
		httputil.WriteBadRequest(w, portalErrorMessage(err))
		return
	}

	httputil.WriteSuccess(w, map[string]string{"url": url})
}

// GetSubscription returns the caller's tenant billing record
func (h *BillingHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	record, err := h.portal.Subscription(r.Context(), middleware.GetAuthContext(r))
	if err != nil {
		if errors.Is(err, billing.ErrNotAuthenticated) {
			httputil.WriteBadRequest(w, "not authenticated")
			return
		}
		h.logger.WithError(err).Error("failed to load subscription")
		httputil.WriteInternalError(w, errors.New("failed to load subscription"))
		return
	}

	httputil.WriteSuccess(w, record)
}

// ListPlans returns the configured plan catalog
func (h *BillingHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		httputil.WriteSuccess(w, map[string]interface{}{"plans": []billing.Plan{}})
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"plans": h.catalog.Plans()})
}

// portalErrorMessage maps portal failures to their client-facing
// messages
func portalErrorMessage(err error) string {
	switch {
	case errors.Is(err, billing.ErrNotAuthenticated):
		return "not authenticated"
	case errors.Is(err, billing.ErrNotAdmin):
		return "admin role required"
	case errors.Is(err, billing.ErrNoBillingIdentity):
		return "no billing identity on file"
	default:
		return "failed to create portal session"
	}
}
