package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

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

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentsCreated    metric.Int64Counter
	paymentsExpired    metric.Int64Counter
	settlementsApplied metric.Int64Counter
	settlementsIgnored metric.Int64Counter
	webhookRejected    metric.Int64Counter
	usageCharges       metric.Int64Counter
	rateLimitAllowed   metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "inkwell"
	}
	meter := provider.Meter(name)

	paymentsCreated, err := meter.Int64Counter("inkwell_payments_created_total")
	if err != nil {
		return nil, err
	}
	paymentsExpired, err := meter.Int64Counter("inkwell_payments_expired_total")
	if err != nil {
		return nil, err
	}
	settlementsApplied, err := meter.Int64Counter("inkwell_settlements_applied_total")
	if err != nil {
		return nil, err
	}
	settlementsIgnored, err := meter.Int64Counter("inkwell_settlements_ignored_total")
	if err != nil {
		return nil, err
	}
	webhookRejected, err := meter.Int64Counter("inkwell_webhook_rejected_total")
	if err != nil {
		return nil, err
	}
	usageCharges, err := meter.Int64Counter("inkwell_usage_charges_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("inkwell_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("inkwell_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsCreated:    paymentsCreated,
		paymentsExpired:    paymentsExpired,
		settlementsApplied: settlementsApplied,
		settlementsIgnored: settlementsIgnored,
		webhookRejected:    webhookRejected,
		usageCharges:       usageCharges,
		rateLimitAllowed:   rateLimitAllowed,
		rateLimitDenied:    rateLimitDenied,
	}, nil
}

// RecordPaymentCreated increments payment request creation counts.
func (m *Metrics) RecordPaymentCreated(ctx context.Context, planID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("plan_id", strings.TrimSpace(planID)))
	m.paymentsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentExpired increments lazy expiry transition counts.
func (m *Metrics) RecordPaymentExpired(ctx context.Context) {
	if m == nil {
		return
	}
	m.paymentsExpired.Add(ctx, 1)
}

// RecordSettlementApplied increments applied settlement counts.
func (m *Metrics) RecordSettlementApplied(ctx context.Context, gateway string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("gateway", strings.TrimSpace(gateway)))
	m.settlementsApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSettlementIgnored increments acknowledged-without-effect counts.
func (m *Metrics) RecordSettlementIgnored(ctx context.Context, gateway, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("gateway", strings.TrimSpace(gateway)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.settlementsIgnored.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookRejected increments webhook authentication failure counts.
func (m *Metrics) RecordWebhookRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.webhookRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageCharge increments usage charge counts per action and outcome.
func (m *Metrics) RecordUsageCharge(ctx context.Context, actionKind, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action_kind", strings.TrimSpace(actionKind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.usageCharges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

// Account ids are deliberately absent: they are unbounded per deployment and
// would blow up series cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"plan_id":     {},
	"gateway":     {},
	"reason":      {},
	"action_kind": {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"method":      {},
	"route":       {},
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
