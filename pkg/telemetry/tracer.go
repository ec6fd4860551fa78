package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/histmatch/pkg/engine"
)

// Span attributes shared by command spans and the engine.
var (
	AttrCommand    = attribute.Key("histmatch.command")
	AttrExperiment = attribute.Key("experiment.name")
	AttrErrorClass = attribute.Key("error.class")
	AttrErrorCode  = attribute.Key("error.code")
)

// Tracer owns the process tracer provider. When export is enabled the
// provider is installed globally, so the spans that engine, evaluator and
// analysis start through otel.Tracer are exported as children of the
// command span.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds the tracer described by cfg.Tracing.
func NewTracer(cfg *Config) (*Tracer, error) {
	if !cfg.Tracing.Enabled() {
		return &Tracer{tracer: otel.Tracer(cfg.Service)}, nil
	}

	exporter, err := newSpanExporter(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Tracing.Exporter, err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			semconv.ServiceNameKey.String(cfg.Service),
			semconv.ServiceVersionKey.String(cfg.Version),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SamplingRate))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{provider: provider, tracer: provider.Tracer(cfg.Service)}, nil
}

func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
	}
}

// StartCommandSpan starts the root span of one CLI command.
func (t *Tracer) StartCommandSpan(ctx context.Context, command, experiment string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "histmatch."+command, trace.WithAttributes(
		AttrCommand.String(command),
		AttrExperiment.String(experiment),
	))
}

// EndSpan sets the span status from err and ends it. Engine errors also
// tag the span with their class and code.
func EndSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		span.SetAttributes(AttrErrorClass.String(string(engErr.Class)))
		if engErr.Code != "" {
			span.SetAttributes(AttrErrorCode.String(engErr.Code))
		}
	}
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
