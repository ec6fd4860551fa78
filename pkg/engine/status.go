package engine

import (
	"encoding/json"
	"fmt"
)

// RealizationState is the lifecycle state of one realization in an ensemble.
type RealizationState string

const (
	// RealizationUndefined indicates no prior has been sampled or loaded yet.
	RealizationUndefined RealizationState = "UNDEFINED"

	// RealizationInitialized indicates the prior is in storage and the
	// realization is ready to be simulated.
	RealizationInitialized RealizationState = "INITIALIZED"

	// RealizationHasData indicates forward model results were loaded.
	RealizationHasData RealizationState = "HAS_DATA"

	// RealizationLoadFailure indicates loading forward model results failed.
	RealizationLoadFailure RealizationState = "LOAD_FAILURE"
)

// AllRealizationStates lists every state in lifecycle order.
var AllRealizationStates = []RealizationState{
	RealizationUndefined,
	RealizationInitialized,
	RealizationHasData,
	RealizationLoadFailure,
}

// Validate checks if the realization state is valid.
func (s RealizationState) Validate() error {
	switch s {
	case RealizationUndefined, RealizationInitialized, RealizationHasData, RealizationLoadFailure:
		return nil
	default:
		return fmt.Errorf("invalid realization state: %s", s)
	}
}

// IsUpdatable returns true if realizations in this state take part in an update.
func (s RealizationState) IsUpdatable() bool {
	return s == RealizationHasData || s == RealizationInitialized
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RealizationState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RealizationState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RealizationState(str)
	return s.Validate()
}

// RunStatus represents the overall status of an experiment run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every phase completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run aborted.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Phase labels used in errors, events and metrics.
const (
	PhaseActive    = "active"
	PhasePrior     = "prior"
	PhaseUpdate    = "update"
	PhasePosterior = "posterior"
)

// HookPoint names a point in the run where workflows are executed.
type HookPoint string

const (
	HookPreExperiment  HookPoint = "PRE_EXPERIMENT"
	HookPreSimulation  HookPoint = "PRE_SIMULATION"
	HookPostSimulation HookPoint = "POST_SIMULATION"
	HookPreFirstUpdate HookPoint = "PRE_FIRST_UPDATE"
	HookPreUpdate      HookPoint = "PRE_UPDATE"
	HookPostUpdate     HookPoint = "POST_UPDATE"
	HookPostExperiment HookPoint = "POST_EXPERIMENT"
)

// Validate checks if the hook point is known.
func (h HookPoint) Validate() error {
	switch h {
	case HookPreExperiment, HookPreSimulation, HookPostSimulation,
		HookPreFirstUpdate, HookPreUpdate, HookPostUpdate, HookPostExperiment:
		return nil
	default:
		return fmt.Errorf("invalid hook point: %s", h)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunFailed indicates a run has failed.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypePhaseChanged indicates the run moved to a new phase or sub-phase.
	EventTypePhaseChanged EventType = "phase_changed"

	// EventTypeRealizationStarted indicates run path creation for a realization started.
	EventTypeRealizationStarted EventType = "realization_started"

	// EventTypeRealizationCompleted indicates a realization was processed successfully.
	EventTypeRealizationCompleted EventType = "realization_completed"

	// EventTypeRealizationFailed indicates a realization failed.
	EventTypeRealizationFailed EventType = "realization_failed"

	// EventTypeStateChanged indicates a realization changed lifecycle state.
	EventTypeStateChanged EventType = "state_changed"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeRealizationFailed:
		return "error"
	case EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}
