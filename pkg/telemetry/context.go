package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventBus
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration. Every
// event is also written to the logger.
func NewTelemetry(cfg *Config, sinks ...EventSink) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger, sinks)
}

// NewTelemetryWithLogger is NewTelemetry with a caller-provided logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger, sinks ...EventSink) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger, sinks)
}

func newTelemetry(cfg *Config, logger *Logger, sinks []EventSink) (*Telemetry, error) {
	tracer, err := NewTracer(cfg)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	eventLogger := logger.Component("events").Zerolog()
	allSinks := append([]EventSink{LogSink{Logger: eventLogger}}, sinks...)
	events := NewEventBus(cfg.Events, eventLogger, allSinks...)

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes events and spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Operation is one instrumented CLI operation.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	mode    string
	started time.Time
	metrics *Metrics
}

// StartOperation begins an instrumented run with a span, a logger carrying
// the trace ID and the run counters. Without telemetry in ctx it only times.
func StartOperation(ctx context.Context, mode, experiment string, attrs ...attribute.KeyValue) *Operation {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &Operation{Ctx: ctx, Logger: FromContext(ctx), mode: mode, started: time.Now()}
	}

	spanCtx, span := tel.Tracer.StartCommandSpan(ctx, mode, experiment)
	span.SetAttributes(attrs...)

	logger := tel.Logger.WithField("mode", mode)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}
	tel.Metrics.RecordRunStarted(mode)

	return &Operation{
		Ctx:     logger.WithContext(spanCtx),
		Span:    span,
		Logger:  logger,
		mode:    mode,
		started: time.Now(),
		metrics: tel.Metrics,
	}
}

// End finishes the operation, recording its outcome.
func (op *Operation) End(err error) {
	if op.Span != nil {
		EndSpan(op.Span, err)
	}
	if op.metrics != nil {
		op.metrics.RecordRunCompleted(op.mode, time.Since(op.started), err)
	}
}

// Started returns when the operation began.
func (op *Operation) Started() time.Time {
	return op.started
}
