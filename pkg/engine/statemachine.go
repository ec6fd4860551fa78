package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// RealizationEvent drives a realization from one lifecycle state to another.
type RealizationEvent string

const (
	// EventInitialize marks a sampled or loaded prior.
	EventInitialize RealizationEvent = "initialize"

	// EventLoadSucceeded marks forward model results that were loaded.
	EventLoadSucceeded RealizationEvent = "load_succeeded"

	// EventLoadFailed marks forward model results that could not be loaded.
	EventLoadFailed RealizationEvent = "load_failed"
)

// realizationTransitions is the complete transition table. Anything not
// listed here is rejected.
var realizationTransitions = fsm.Events{
	{
		Name: string(EventInitialize),
		Src:  []string{string(RealizationUndefined), string(RealizationLoadFailure)},
		Dst:  string(RealizationInitialized),
	},
	{
		Name: string(EventLoadSucceeded),
		Src:  []string{string(RealizationInitialized)},
		Dst:  string(RealizationHasData),
	},
	{
		Name: string(EventLoadFailed),
		Src:  []string{string(RealizationInitialized), string(RealizationHasData)},
		Dst:  string(RealizationLoadFailure),
	},
}

// RealizationStateMachine tracks the lifecycle of one realization.
type RealizationStateMachine struct {
	realization int
	fsm         *fsm.FSM
	onChange    func(realization int, from, to RealizationState)
}

// NewRealizationStateMachine creates a machine positioned at current.
// onChange, if set, is called after every successful transition.
func NewRealizationStateMachine(
	realization int,
	current RealizationState,
	onChange func(realization int, from, to RealizationState),
) *RealizationStateMachine {
	m := &RealizationStateMachine{realization: realization, onChange: onChange}
	m.fsm = fsm.NewFSM(
		string(current),
		realizationTransitions,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if m.onChange != nil {
					m.onChange(m.realization, RealizationState(e.Src), RealizationState(e.Dst))
				}
			},
		},
	)
	return m
}

// State returns the current state.
func (m *RealizationStateMachine) State() RealizationState {
	return RealizationState(m.fsm.Current())
}

// Can reports whether event is allowed from the current state.
func (m *RealizationStateMachine) Can(event RealizationEvent) bool {
	return m.fsm.Can(string(event))
}

// Fire applies event. Transitions outside the table fail with an
// ErrCodeInvalidTransition error and leave the state unchanged.
func (m *RealizationStateMachine) Fire(ctx context.Context, event RealizationEvent) error {
	from := m.State()
	err := m.fsm.Event(ctx, string(event))
	if err == nil {
		return nil
	}

	var invalid fsm.InvalidEventError
	var unknown fsm.UnknownEventError
	if errors.As(err, &invalid) || errors.As(err, &unknown) {
		return NewPermanentError(
			fmt.Sprintf("realization %d cannot %s from state %s", m.realization, event, from), err).
			WithCode(ErrCodeInvalidTransition).
			WithOperation(string(event)).
			WithDetail("realization", m.realization).
			WithDetail("state", string(from))
	}
	return err
}

// Transition computes the state reached from "from" by event.
func Transition(ctx context.Context, realization int, from RealizationState, event RealizationEvent) (RealizationState, error) {
	m := NewRealizationStateMachine(realization, from, nil)
	if err := m.Fire(ctx, event); err != nil {
		return from, err
	}
	return m.State(), nil
}
