package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/memberhq/memberhq/pkg/config"
	"github.com/memberhq/memberhq/pkg/httputil"
	"github.com/memberhq/memberhq/pkg/middleware"
	"github.com/memberhq/memberhq/pkg/observability"
)

// Server assembles the HTTP surface: router, middleware chain, and
// the registered handler groups
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	metrics *observability.Metrics
}

// Options carries the collaborators the server wires together
type Options struct {
	Config    *config.Config
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	Webhooks  *WebhookHandlers
	Billing   *BillingHandlers
	OTel      bool
}

// NewServer creates a new API server with all routes registered
func NewServer(opts Options) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMethodNotAllowed(w, "method not allowed")
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})

	apiRouter := s.router.PathPrefix("/api").Subrouter()

	// The webhook endpoint authenticates by signature, not bearer
	// token, and caps the body size it will verify
	webhookRouter := apiRouter.NewRoute().Subrouter()
	webhookRouter.Use(httputil.MaxBytesMiddleware(opts.Config.Server.MaxBodyBytes))
	opts.Webhooks.RegisterRoutes(webhookRouter)

	// Billing endpoints resolve auth optionally; the handlers map
	// missing or insufficient auth to their own 400 responses
	billingRouter := apiRouter.NewRoute().Subrouter()
	if opts.Auth != nil {
		billingRouter.Use(opts.Auth.Handler)
	}
	if opts.RateLimit != nil {
		billingRouter.Use(opts.RateLimit.Handler)
	}
	opts.Billing.RegisterRoutes(billingRouter)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.LoggingMiddleware(opts.Logger),
		httputil.CORSMiddleware([]string{"*"}),
	)

	var handler http.Handler = chain(s.router)
	if opts.Metrics != nil {
		handler = opts.Metrics.InstrumentHandler("/api", handler)
	}
	if opts.OTel {
		handler = otelhttp.NewHandler(handler, "memberhq-api")
	}
	s.handler = handler

	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router returns the underlying router, for tests
func (s *Server) Router() *mux.Router {
	return s.router
}
