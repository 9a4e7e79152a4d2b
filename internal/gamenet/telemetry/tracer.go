// Package telemetry instruments the reliable channel with OpenTelemetry
// spans, grounded on the teacher's internal/gateway/tracing/tracer.go
// exporter-selection and TracerProvider setup.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/duskforge/gamenet/internal/gamenet/config"
)

// Tracer wraps an OpenTelemetry tracer for gameNet's reliable-send spans.
// When disabled it is a no-op, matching the teacher's Tracer.IsEnabled()
// short-circuit in every method.
type Tracer struct {
	cfg      config.TracingConfig
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New builds a Tracer from TracingConfig. If cfg.Enable is false, New
// returns a disabled Tracer without creating an exporter.
func New(cfg config.TracingConfig, logger *zap.Logger) (*Tracer, error) {
	if !cfg.Enable {
		logger.Info("gamenet telemetry disabled")
		return &Tracer{cfg: cfg, logger: logger}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("gamenet/telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "jaeger":
		exporter, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case "zipkin":
		exporter, err = zipkin.New(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("gamenet/telemetry: unsupported exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("gamenet/telemetry: build %s exporter: %w", cfg.Exporter, err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	batcher := sdktrace.NewBatchSpanProcessor(exporter)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithSpanProcessor(batcher),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	logger.Info("gamenet telemetry initialized",
		zap.String("exporter", cfg.Exporter),
		zap.Float64("sample_rate", cfg.SampleRate))

	return &Tracer{
		cfg:      cfg,
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
		logger:   logger,
	}, nil
}

// StartReliableSend opens a span covering one reliable sequence's
// lifetime from first send to ack or abandonment.
func (t *Tracer) StartReliableSend(ctx context.Context, seq uint16) (context.Context, trace.Span) {
	if !t.cfg.Enable || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "gamenet.reliable_send",
		trace.WithAttributes(attribute.Int("gamenet.seq", int(seq))))
}

// EndAcked closes a reliable-send span with its observed RTT.
func (t *Tracer) EndAcked(span trace.Span, rtt time.Duration) {
	if !t.cfg.Enable {
		return
	}
	span.SetAttributes(attribute.Int64("gamenet.rtt_ms", rtt.Milliseconds()))
	span.End()
}

// EndAbandoned closes a reliable-send span that was abandoned after
// MAX_RETRIES without an ack.
func (t *Tracer) EndAbandoned(span trace.Span, retries int) {
	if !t.cfg.Enable {
		return
	}
	span.SetAttributes(
		attribute.Int("gamenet.retries", retries),
		attribute.Bool("gamenet.abandoned", true),
	)
	span.End()
}

// IsEnabled reports whether tracing is active.
func (t *Tracer) IsEnabled() bool { return t.cfg.Enable }

// Shutdown flushes and stops the tracer provider, if any.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
