package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memberhq/memberhq/pkg/billing"
	"github.com/memberhq/memberhq/pkg/httputil"
	"github.com/memberhq/memberhq/pkg/observability"
)

// SignatureHeader carries the provider's payload signature
const SignatureHeader = "Stripe-Signature"

// WebhookHandlers handles inbound payment-provider webhook deliveries
type WebhookHandlers struct {
	verifier  billing.Verifier
	processor *billing.Processor
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewWebhookHandlers creates a new WebhookHandlers
func NewWebhookHandlers(verifier billing.Verifier, processor *billing.Processor, logger *observability.Logger, metrics *observability.Metrics) *WebhookHandlers {
	return &WebhookHandlers{
		verifier:  verifier,
		processor: processor,
		logger:    logger,
		metrics:   metrics,
	}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/webhook", h.HandleWebhook).Methods("POST")
}

// HandleWebhook receives a provider event delivery. The body is read
// as raw bytes and verified before any parsing; verification failures
// are client errors with no state mutation, handler failures are
// server errors so the provider redelivers.
func (h *WebhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.reject(w, "read_body", "failed to read request body")
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		h.logger.WithError(err).Warn("webhook signature rejected")
		h.reject(w, "signature", "signature verification failed")
		return
	}

	if err := h.processor.Process(r.Context(), event); err != nil {
		// The provider's redelivery policy is the retry mechanism
		httputil.WriteInternalError(w, errors.New("event processing failed"))
		return
	}

	httputil.WriteSuccess(w, map[string]bool{"received": true})
}

func (h *WebhookHandlers) reject(w http.ResponseWriter, reason, message string) {
	if h.metrics != nil {
		h.metrics.WebhookRejectionsTotal.WithLabelValues(reason).Inc()
	}
	httputil.WriteBadRequest(w, message)
}
