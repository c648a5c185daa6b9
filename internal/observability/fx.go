// Package observability wires tracing and metrics providers.
package observability

import (
	"github.com/mihaildragos/social-proof-app-sub000/internal/observability/metrics"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		NewTracerProvider,
		metrics.NewMeterProvider,
		metrics.New,
	),
	fx.Invoke(ensureTracerProvider),
)

func ensureTracerProvider(_ *sdktrace.TracerProvider) {}
