// Package tracing centralizes the OpenTelemetry tracer the ingestion
// and verification pipelines use to mark their stages. It wraps
// otel.Tracer so call sites don't each repeat the instrumentation
// name; a tenant's trace exporter is configured at the process level,
// outside this package.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jordigilh/invoicepipe"

// Tracer returns the package-wide tracer. Call Start on it to begin a
// span; with no TracerProvider configured it falls back to otel's
// no-op implementation, so this is always safe to call.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
