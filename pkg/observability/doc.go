// Package observability provides logging, metrics, tracing and health
// infrastructure for the MemberHQ billing service.
//
// Components:
//   - Logger: structured JSON logging over log/slog with context propagation
//   - Metrics: Prometheus metrics for HTTP, webhook processing, the billing
//     store, the portal broker and the reconciliation sweep
//   - OTel: optional OpenTelemetry trace/metric export over OTLP gRPC
//   - HealthChecker: liveness/readiness probes checking Postgres and Redis
//   - ShutdownManager: signal-driven graceful shutdown with timeout
//
// All components are constructed once in main and injected; nothing in this
// package reads configuration on its own.
package observability
