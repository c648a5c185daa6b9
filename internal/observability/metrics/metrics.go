// Package metrics exposes application instruments. OTLP counters carry
// the domain signals; the scheduler keeps its own prometheus registry
// because its health feeds alerting directly.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	usageRecords     metric.Int64Counter
	providerEvents   metric.Int64Counter
	quotaDenied      metric.Int64Counter
	invoicesClosed   metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewMeterProvider configures and registers the meter provider.
func NewMeterProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.OTLPEnabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.OTLPProtocol, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		},
	})

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("protocol", cfg.OTLPProtocol),
	)
	return provider, nil
}

// New configures the domain metric instruments.
func New(cfg config.Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "billing"
	}
	meter := provider.Meter(name)

	usageRecords, err := meter.Int64Counter("billing_usage_records_total")
	if err != nil {
		return nil, err
	}
	providerEvents, err := meter.Int64Counter("billing_provider_events_total")
	if err != nil {
		return nil, err
	}
	quotaDenied, err := meter.Int64Counter("billing_quota_denied_total")
	if err != nil {
		return nil, err
	}
	invoicesClosed, err := meter.Int64Counter("billing_invoices_closed_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("billing_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("billing_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageRecords:     usageRecords,
		providerEvents:   providerEvents,
		quotaDenied:      quotaDenied,
		invoicesClosed:   invoicesClosed,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordUsage increments usage ingest counts.
func (m *Metrics) RecordUsage(ctx context.Context, resourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("resource_type", strings.TrimSpace(resourceType)))
	m.usageRecords.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderEvent increments provider event counts by type and
// outcome.
func (m *Metrics) RecordProviderEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.providerEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuotaDenied increments hard-cap rejection counts.
func (m *Metrics) RecordQuotaDenied(ctx context.Context, resourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("resource_type", strings.TrimSpace(resourceType)))
	m.quotaDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceClosed increments closed-period invoice counts.
func (m *Metrics) RecordInvoiceClosed(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.invoicesClosed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, orgID, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, orgID, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":        {},
	"endpoint":      {},
	"resource_type": {},
	"event_type":    {},
	"outcome":       {},
	"status":        {},
	"reason":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
