// Package observability provides structured logging, Prometheus metrics
// and OpenTelemetry tracing for the validation engine.
package observability
