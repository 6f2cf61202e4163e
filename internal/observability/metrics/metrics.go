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

// Metrics exposes application-level instruments for the credits core.
type Metrics struct {
	debits      metric.Int64Counter
	refunds     metric.Int64Counter
	purchases   metric.Int64Counter
	bonusGrants metric.Int64Counter
	revocations metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metric instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "inkwell"
	}
	meter := provider.Meter(name)

	debits, err := meter.Int64Counter("inkwell_debits_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("inkwell_refunds_total")
	if err != nil {
		return nil, err
	}
	purchases, err := meter.Int64Counter("inkwell_purchases_total")
	if err != nil {
		return nil, err
	}
	bonusGrants, err := meter.Int64Counter("inkwell_bonus_grants_total")
	if err != nil {
		return nil, err
	}
	revocations, err := meter.Int64Counter("inkwell_ledger_revocations_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		debits:      debits,
		refunds:     refunds,
		purchases:   purchases,
		bonusGrants: bonusGrants,
		revocations: revocations,
	}, nil
}

// RecordDebit counts one debit attempt by operation and outcome.
func (m *Metrics) RecordDebit(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.debits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordRefund counts one refund by operation.
func (m *Metrics) RecordRefund(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.refunds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordPurchase counts one purchase ingestion by platform.
func (m *Metrics) RecordPurchase(ctx context.Context, platform string, duplicate bool) {
	if m == nil {
		return
	}
	m.purchases.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.Bool("duplicate", duplicate),
	))
}

// RecordBonusGrant counts one applied welcome bonus.
func (m *Metrics) RecordBonusGrant(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.bonusGrants.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordRevocation counts one soft-revoked ledger entry.
func (m *Metrics) RecordRevocation(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.revocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
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
