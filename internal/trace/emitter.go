// Package trace emits per-stage spans for the turn pipeline.
// Emission is fire-and-forget: exporting runs on the SDK's batch
// processor and can never block or fail a pipeline stage.
package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/kailas-cloud/voxdex/internal/version"
)

// Config holds emitter settings.
type Config struct {
	Enabled    bool
	Endpoint   string
	SampleRate float64
}

// Emitter starts spans for pipeline stages. A disabled emitter is a no-op.
type Emitter struct {
	tp     *sdktrace.TracerProvider
	tracer oteltrace.Tracer
}

// New creates an Emitter. When cfg.Enabled is false no exporter is created
// and all spans are noop.
func New(cfg Config, logger *zap.Logger) (*Emitter, error) {
	if !cfg.Enabled {
		return NewDisabled(), nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("voxdex"),
			semconv.ServiceVersionKey.String(version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("trace emitter initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.Float64("sample_rate", cfg.SampleRate),
	)

	return &Emitter{tp: tp, tracer: tp.Tracer("voxdex")}, nil
}

// NewDisabled creates a no-op Emitter (tests, trace.enabled=false).
func NewDisabled() *Emitter {
	return &Emitter{tracer: noop.NewTracerProvider().Tracer("voxdex")}
}

// StartStage opens a span for one pipeline stage. The returned func ends
// the span; a non-nil error marks the span failed.
func (e *Emitter) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := e.tracer.Start(ctx, stage, oteltrace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Shutdown flushes pending spans. Safe on a disabled emitter.
func (e *Emitter) Shutdown(ctx context.Context) error {
	if e.tp == nil {
		return nil
	}
	if err := e.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
