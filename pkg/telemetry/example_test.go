package telemetry_test

import (
	"context"
	"fmt"
	"log"

	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/telemetry"
)

// Example_basicSetup shows the telemetry wiring used by the CLI.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.Version = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	op := telemetry.StartOperation(ctx, "sample", "history-match")
	op.Logger.Info("sampling prior")
	op.End(nil)
}

// Example_eventFiltering subscribes to failures of one run.
func Example_eventFiltering() {
	bus := telemetry.NewEventBus(telemetry.EventsConfig{Enabled: true, BufferSize: 16}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures, _ := bus.Subscribe(ctx, engine.EventFilter{RunID: "run-1", MinLevel: "error"})

	_ = bus.Publish(ctx, &engine.Event{Type: engine.EventTypeRealizationStarted, RunID: "run-1", Realization: 0})
	_ = bus.Publish(ctx, &engine.Event{
		Type:        engine.EventTypeRealizationFailed,
		RunID:       "run-1",
		Realization: 4,
		Message:     "forward model exited with status 1",
	})

	event := <-failures
	fmt.Println(event.Realization, event.Message)
	// Output: 4 forward model exited with status 1
}
