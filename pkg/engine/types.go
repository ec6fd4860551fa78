package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/histmatch/pkg/runpaths"
	"github.com/openfroyo/histmatch/pkg/substitution"
)

// Ensemble describes a named, sized collection of realizations at one iteration.
type Ensemble struct {
	// ID is the unique identifier of the ensemble.
	ID string `json:"id"`

	// ExperimentID is the experiment the ensemble belongs to.
	ExperimentID string `json:"experiment_id"`

	// Name is the case name, also exposed as <ERT-CASE> in substitutions.
	Name string `json:"name"`

	// Size is the number of realizations.
	Size int `json:"size"`

	// Iteration is the assimilation iteration the ensemble belongs to.
	Iteration int `json:"iteration"`

	// PriorID is the ensemble this one was derived from, if any.
	PriorID string `json:"prior_id,omitempty"`

	// CreatedAt is when the ensemble was created.
	CreatedAt time.Time `json:"created_at"`
}

// RunArg holds the run information of one realization in a RunContext.
// It is immutable once the RunContext is built.
type RunArg struct {
	// RunID is unique per realization and run context.
	RunID string `json:"run_id"`

	// Realization is the realization index.
	Realization int `json:"iens"`

	// Iteration is the assimilation iteration.
	Iteration int `json:"iter"`

	// RunPath is the absolute workspace directory.
	RunPath string `json:"run_path"`

	// JobName is the resolved job name.
	JobName string `json:"job_name"`
}

// RunContext binds an ensemble to an active realization mask and the run
// arguments of every realization, active or not.
type RunContext struct {
	ensemble    EnsembleStore
	mask        []bool
	runArgs     []RunArg
	iteration   int
	runID       string
	substituter substitution.Context
	runpaths    *runpaths.Runpaths
}

// NewRunContext builds run arguments for every realization of ensemble.
// The mask must have one entry per realization. paths must resolve
// placeholders with subst.
func NewRunContext(
	ensemble EnsembleStore,
	mask []bool,
	iteration int,
	paths *runpaths.Runpaths,
	subst substitution.Context,
) (*RunContext, error) {
	size := ensemble.Ensemble().Size
	if len(mask) != size {
		return nil, NewPermanentError(
			fmt.Sprintf("active realization mask has %d entries, ensemble size is %d", len(mask), size), nil).
			WithCode(ErrCodeValidation).
			WithResource(ensemble.Ensemble().Name).
			WithOperation("ensemble_context")
	}

	realizations := make([]int, size)
	for i := range realizations {
		realizations[i] = i
	}
	runPaths := paths.GetPaths(realizations, iteration)
	jobNames := paths.GetJobnames(realizations, iteration)

	runID := uuid.New().String()
	args := make([]RunArg, size)
	for i := range args {
		args[i] = RunArg{
			RunID:       fmt.Sprintf("%s_%d", runID, i),
			Realization: i,
			Iteration:   iteration,
			RunPath:     runPaths[i],
			JobName:     jobNames[i],
		}
	}

	return &RunContext{
		ensemble:    ensemble,
		mask:        append([]bool(nil), mask...),
		runArgs:     args,
		iteration:   iteration,
		runID:       runID,
		substituter: subst,
		runpaths:    paths,
	}, nil
}

// Ensemble returns the ensemble store the context runs against.
func (rc *RunContext) Ensemble() EnsembleStore {
	return rc.ensemble
}

// Mask returns a copy of the active realization mask.
func (rc *RunContext) Mask() []bool {
	return append([]bool(nil), rc.mask...)
}

// RunArgs returns the run arguments of every realization.
func (rc *RunContext) RunArgs() []RunArg {
	return append([]RunArg(nil), rc.runArgs...)
}

// At returns the run arguments of realization i.
func (rc *RunContext) At(i int) RunArg {
	return rc.runArgs[i]
}

// Len returns the number of realization slots.
func (rc *RunContext) Len() int {
	return len(rc.runArgs)
}

// IsActive reports whether realization i is active.
func (rc *RunContext) IsActive(i int) bool {
	return i >= 0 && i < len(rc.mask) && rc.mask[i]
}

// ActiveRealizations returns the indices of the active realizations.
func (rc *RunContext) ActiveRealizations() []int {
	return MaskToIndices(rc.mask)
}

// Iteration returns the iteration of the context.
func (rc *RunContext) Iteration() int {
	return rc.iteration
}

// RunID returns the run id shared by all realizations of the context.
func (rc *RunContext) RunID() string {
	return rc.runID
}

// Substituter returns the substitution context used to build paths.
func (rc *RunContext) Substituter() substitution.Context {
	return rc.substituter
}

// Runpaths returns the run path formats used by the context.
func (rc *RunContext) Runpaths() *runpaths.Runpaths {
	return rc.runpaths
}

// MaskToIndices returns the indices of the true entries of mask.
func MaskToIndices(mask []bool) []int {
	var out []int
	for i, active := range mask {
		if active {
			out = append(out, i)
		}
	}
	return out
}

// FullMask returns a mask of size true entries.
func FullMask(size int) []bool {
	mask := make([]bool, size)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

// CountActive returns the number of true entries of mask.
func CountActive(mask []bool) int {
	n := 0
	for _, active := range mask {
		if active {
			n++
		}
	}
	return n
}

// Template is a file rendered into every run path with substitutions applied
// to both its content and its target name.
type Template struct {
	// Source is the template file.
	Source string `json:"source"`

	// Target is the file name relative to the run path.
	Target string `json:"target"`
}

// ForwardModelStep is one job of the forward model.
type ForwardModelStep struct {
	// Name identifies the step in jobs.json and in status files.
	Name string `json:"name"`

	// Executable is the program to run. A ".wasm" executable runs in the
	// sandboxed WASM runtime.
	Executable string `json:"executable"`

	// Arguments are passed to the executable after substitution.
	Arguments []string `json:"arglist,omitempty"`

	// TargetFile must exist after a successful run, if set.
	TargetFile string `json:"target_file,omitempty"`

	// ErrorFile marks a failed run when it exists, if set.
	ErrorFile string `json:"error_file,omitempty"`

	// StartFile must exist before the step starts, if set.
	StartFile string `json:"start_file,omitempty"`

	// Stdin is an optional file fed to the executable.
	Stdin string `json:"stdin,omitempty"`

	// Environment is set for the executable after substitution.
	Environment map[string]string `json:"environment,omitempty"`

	// ExecEnv is passed to the executable through its runtime.
	ExecEnv map[string]string `json:"exec_env,omitempty"`

	// MaxRunningMinutes bounds the step's runtime. Zero means unbounded.
	MaxRunningMinutes int `json:"max_running_minutes,omitempty"`
}

// Event represents an event in the run timeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Ensemble is the ensemble name, if applicable.
	Ensemble string `json:"ensemble,omitempty"`

	// Realization is the realization index, or -1 for run-level events.
	Realization int `json:"realization"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// PhaseProgress describes where a multi-phase run currently is.
type PhaseProgress struct {
	// Index is the zero-based phase index.
	Index int `json:"index"`

	// Count is the total number of phases.
	Count int `json:"count"`

	// Name is the current sub-phase name.
	Name string `json:"name"`
}
