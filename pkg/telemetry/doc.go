// Package telemetry provides observability for histmatch runs.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an event bus into one value:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig(), store)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Logger wraps zerolog with run-specific fields. The engine takes a plain
// zerolog.Logger, available through Logger.Zerolog:
//
//	logger := tel.Logger.Component("engine").ForEnsemble("prior", 0)
//
// # Tracing
//
// NewTracer installs its provider globally, so spans the engine starts
// through otel.Tracer are exported with the CLI's command spans. Exporters:
// otlp (gRPC), stdout and none.
//
// # Metrics
//
// Metrics implements engine.MetricsRecorder. Phase durations, realization
// counts, run path creation times and realization state transitions are
// exposed on an optional HTTP endpoint.
//
// # Events
//
// EventBus implements engine.EventPublisher. Every event goes to the
// configured sinks, typically the SQLite event log and a LogSink, and to
// channel subscribers whose filter matches:
//
//	ch, _ := tel.Events.Subscribe(ctx, engine.EventFilter{MinLevel: "warning"})
//	for event := range ch {
//	    fmt.Println(event.Message)
//	}
package telemetry
