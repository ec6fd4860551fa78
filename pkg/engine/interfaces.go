package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

// EnsembleStore gives access to the persisted values and realization states
// of one ensemble. It exclusively owns that data; run contexts only hold a
// reference to it.
type EnsembleStore interface {
	parameters.Store

	// Ensemble returns the ensemble metadata.
	Ensemble() *Ensemble

	// RealizationStates returns the state of every realization.
	RealizationStates(ctx context.Context) ([]RealizationState, error)

	// SetRealizationState stores the state of one realization.
	SetRealizationState(ctx context.Context, realization int, state RealizationState) error

	// RealizationMaskFromStates returns a mask selecting realizations in any of states.
	RealizationMaskFromStates(ctx context.Context, states ...RealizationState) ([]bool, error)

	// Sync makes every write durable. No partial write is observable after it returns.
	Sync(ctx context.Context) error
}

// Storage creates and looks up experiments and ensembles.
type Storage interface {
	// CreateExperiment registers an experiment and returns its ID.
	CreateExperiment(ctx context.Context, name string, config json.RawMessage) (string, error)

	// CreateEnsemble creates an ensemble with every realization UNDEFINED.
	// prior may be nil.
	CreateEnsemble(ctx context.Context, experimentID, name string, size, iteration int, prior EnsembleStore) (EnsembleStore, error)

	// GetEnsemble opens an existing ensemble by ID.
	GetEnsemble(ctx context.Context, id string) (EnsembleStore, error)

	// GetEnsembleByName opens an existing ensemble of an experiment by name.
	GetEnsembleByName(ctx context.Context, experimentID, name string) (EnsembleStore, error)

	// ListEnsembles lists the ensembles of an experiment in creation order.
	ListEnsembles(ctx context.Context, experimentID string) ([]*Ensemble, error)
}

// Evaluator runs the forward model for every active realization of a run
// context and writes results back into its ensemble. It returns the number
// of realizations that completed successfully.
type Evaluator interface {
	Evaluate(ctx context.Context, rc *RunContext) (int, error)
}

// Updater maps a prior ensemble onto a posterior ensemble.
type Updater interface {
	SmootherUpdate(ctx context.Context, prior, posterior EnsembleStore, runID string) error
}

// HookRunner executes the workflows bound to a hook point. Errors abort the run.
type HookRunner interface {
	RunWorkflows(ctx context.Context, hook HookPoint, storage Storage, ensemble EnsembleStore) error
}

// EventPublisher publishes events to subscribers.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error

	// Subscribe subscribes to events matching a filter.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// EventFilter represents criteria for filtering events.
type EventFilter struct {
	// RunID filters events by run ID.
	RunID string `json:"run_id,omitempty"`

	// Ensemble filters events by ensemble name.
	Ensemble string `json:"ensemble,omitempty"`

	// Types filters events by type.
	Types []EventType `json:"types,omitempty"`

	// MinLevel filters events by minimum log level.
	MinLevel string `json:"min_level,omitempty"`
}

// MetricsRecorder receives run measurements.
type MetricsRecorder interface {
	// RecordPhase records the duration and outcome of a run phase.
	RecordPhase(phase string, duration time.Duration, err error)

	// RecordRealizations records how many realizations were active and succeeded in a phase.
	RecordRealizations(phase string, active, succeeded int)

	// RecordMaterialization records the time spent creating one run path.
	RecordMaterialization(duration time.Duration, err error)

	// RecordStateTransition counts a realization state change.
	RecordStateTransition(from, to RealizationState)
}
