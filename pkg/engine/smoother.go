package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultCurrentCase names the prior ensemble when none is configured.
	DefaultCurrentCase = "default"

	// SmootherUpdateSuffix is appended to the prior name to form the
	// default posterior name.
	SmootherUpdateSuffix = "_smoother_update"

	smootherPhaseCount = 3
)

// SmootherOptions configures an EnsembleSmoother.
type SmootherOptions struct {
	Orchestrator *Orchestrator
	Storage      Storage
	Evaluator    Evaluator
	Updater      Updater

	// ExperimentName and ExperimentConfig are recorded with the experiment.
	ExperimentName   string
	ExperimentConfig json.RawMessage

	// EnsembleSize is the number of realizations of both ensembles.
	EnsembleSize int

	// ActiveMask selects the prior realizations to run. Defaults to all.
	ActiveMask []bool

	// MinRealizations is the minimum number of active and of successful
	// realizations. Zero requires every realization.
	MinRealizations int

	// CurrentCase names the prior ensemble.
	CurrentCase string

	// TargetCase names the posterior ensemble. Defaults to
	// CurrentCase + "_smoother_update".
	TargetCase string

	Events  EventPublisher
	Metrics MetricsRecorder
	Logger  zerolog.Logger
}

// SmootherResult summarizes a completed smoother run.
type SmootherResult struct {
	ExperimentID        string `json:"experiment_id"`
	PriorID             string `json:"prior_id"`
	PosteriorID         string `json:"posterior_id"`
	PriorSuccessful     int    `json:"prior_successful"`
	PosteriorSuccessful int    `json:"posterior_successful"`
}

// EnsembleSmoother runs a prior ensemble, updates it into a posterior
// ensemble and runs the posterior.
type EnsembleSmoother struct {
	opts   SmootherOptions
	runID  string
	phase  PhaseProgress
	logger zerolog.Logger
}

// NewEnsembleSmoother validates opts and creates a smoother.
func NewEnsembleSmoother(opts SmootherOptions) (*EnsembleSmoother, error) {
	if opts.Orchestrator == nil || opts.Storage == nil || opts.Evaluator == nil || opts.Updater == nil {
		return nil, NewPermanentError("smoother requires an orchestrator, storage, evaluator and updater", nil).
			WithCode(ErrCodeValidation)
	}
	if opts.EnsembleSize <= 0 {
		return nil, NewPermanentError(fmt.Sprintf("invalid ensemble size %d", opts.EnsembleSize), nil).
			WithCode(ErrCodeValidation)
	}
	if opts.ActiveMask == nil {
		opts.ActiveMask = FullMask(opts.EnsembleSize)
	}
	if len(opts.ActiveMask) != opts.EnsembleSize {
		return nil, NewPermanentError(
			fmt.Sprintf("active realization mask has %d entries, ensemble size is %d", len(opts.ActiveMask), opts.EnsembleSize), nil).
			WithCode(ErrCodeValidation)
	}
	if opts.MinRealizations <= 0 || opts.MinRealizations > opts.EnsembleSize {
		opts.MinRealizations = opts.EnsembleSize
	}
	if opts.CurrentCase == "" {
		opts.CurrentCase = DefaultCurrentCase
	}
	if opts.TargetCase == "" {
		opts.TargetCase = opts.CurrentCase + SmootherUpdateSuffix
	}
	if opts.ExperimentName == "" {
		opts.ExperimentName = opts.CurrentCase
	}

	return &EnsembleSmoother{
		opts:   opts,
		runID:  uuid.New().String(),
		phase:  PhaseProgress{Count: smootherPhaseCount},
		logger: opts.Logger.With().Str("component", "smoother").Logger(),
	}, nil
}

// RunID identifies this smoother run in events.
func (s *EnsembleSmoother) RunID() string {
	return s.runID
}

// Phase returns the current phase progress.
func (s *EnsembleSmoother) Phase() PhaseProgress {
	return s.phase
}

// Run executes the prior, update and posterior phases. Threshold failures
// are InsufficientRealizations errors, update failures AnalysisFailure
// errors. Hook errors are returned unchanged.
func (s *EnsembleSmoother) Run(ctx context.Context) (*SmootherResult, error) {
	ctx, span := tracer.Start(ctx, "engine.EnsembleSmoother.Run", trace.WithAttributes(
		attribute.String("run_id", s.runID),
		attribute.String("prior", s.opts.CurrentCase),
		attribute.String("posterior", s.opts.TargetCase),
		attribute.Int("ensemble_size", s.opts.EnsembleSize),
	))
	defer span.End()

	s.publish(ctx, EventTypeRunStarted, "", "Experiment started", nil)
	result, err := s.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().Err(err).Str("run_id", s.runID).Msg("Experiment failed")
		s.publish(ctx, EventTypeRunFailed, "", err.Error(), nil)
		return nil, err
	}

	s.logger.Info().Str("run_id", s.runID).
		Int("prior_successful", result.PriorSuccessful).
		Int("posterior_successful", result.PosteriorSuccessful).
		Msg("Experiment completed")
	s.publish(ctx, EventTypeRunCompleted, "", "Experiment completed", map[string]interface{}{
		"prior_id":     result.PriorID,
		"posterior_id": result.PosteriorID,
	})
	return result, nil
}

func (s *EnsembleSmoother) run(ctx context.Context) (*SmootherResult, error) {
	o := s.opts.Orchestrator
	storage := s.opts.Storage

	expID, err := storage.CreateExperiment(ctx, s.opts.ExperimentName, s.opts.ExperimentConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}
	result := &SmootherResult{ExperimentID: expID}

	prior, err := storage.CreateEnsemble(ctx, expID, s.opts.CurrentCase, s.opts.EnsembleSize, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create prior ensemble: %w", err)
	}
	result.PriorID = prior.Ensemble().ID

	if err := o.RunWorkflows(ctx, HookPreExperiment, storage, prior); err != nil {
		return nil, err
	}

	// Prior.
	priorCtx, err := o.EnsembleContext(prior, s.opts.ActiveMask, 0)
	if err != nil {
		return nil, err
	}
	active := len(priorCtx.ActiveRealizations())
	if active < s.opts.MinRealizations {
		return nil, NewInsufficientRealizationsError(PhaseActive, s.opts.MinRealizations, active)
	}

	s.setPhase(ctx, 0, "Running simulations...")
	successful, err := s.timedPhase(PhasePrior, active, func() (int, error) {
		return s.evaluate(ctx, priorCtx, true)
	})
	if err != nil {
		return nil, err
	}
	result.PriorSuccessful = successful

	// Update.
	s.setPhaseName(ctx, "Running ES update step")
	if err := o.RunWorkflows(ctx, HookPreFirstUpdate, storage, prior); err != nil {
		return nil, err
	}
	if err := o.RunWorkflows(ctx, HookPreUpdate, storage, prior); err != nil {
		return nil, err
	}

	mask, err := prior.RealizationMaskFromStates(ctx, RealizationHasData, RealizationInitialized)
	if err != nil {
		return nil, fmt.Errorf("failed to select realizations for update: %w", err)
	}

	s.setPhaseName(ctx, "Analyzing...")
	posterior, err := storage.CreateEnsemble(ctx, expID, s.opts.TargetCase, s.opts.EnsembleSize, 1, prior)
	if err != nil {
		return nil, fmt.Errorf("failed to create posterior ensemble: %w", err)
	}
	result.PosteriorID = posterior.Ensemble().ID

	posteriorCtx, err := o.EnsembleContext(posterior, mask, 1)
	if err != nil {
		return nil, err
	}

	_, err = s.timedPhase(PhaseUpdate, CountActive(mask), func() (int, error) {
		if err := s.opts.Updater.SmootherUpdate(ctx, prior, posterior, priorCtx.RunID()); err != nil {
			return 0, NewAnalysisFailureError(err)
		}
		return CountActive(mask), nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.RunWorkflows(ctx, HookPostUpdate, storage, posterior); err != nil {
		return nil, err
	}

	// Posterior.
	s.setPhase(ctx, 1, "Running simulations...")
	successful, err = s.timedPhase(PhasePosterior, CountActive(mask), func() (int, error) {
		return s.evaluate(ctx, posteriorCtx, false)
	})
	if err != nil {
		return nil, err
	}
	result.PosteriorSuccessful = successful

	s.setPhase(ctx, 2, "Simulations completed.")

	if err := o.RunWorkflows(ctx, HookPostExperiment, storage, posterior); err != nil {
		return nil, err
	}
	return result, nil
}

// evaluate runs one simulation round over rc and checks the number of
// successful realizations against the minimum.
func (s *EnsembleSmoother) evaluate(ctx context.Context, rc *RunContext, sample bool) (int, error) {
	o := s.opts.Orchestrator
	storage := s.opts.Storage
	ensemble := rc.Ensemble()

	s.setPhaseName(ctx, "Pre processing...")
	if err := o.RunWorkflows(ctx, HookPreSimulation, storage, ensemble); err != nil {
		return 0, err
	}

	if sample {
		if err := o.SamplePrior(ctx, ensemble, rc.ActiveRealizations()); err != nil {
			return 0, err
		}
	}
	if err := o.CreateRunPath(ctx, rc); err != nil {
		return 0, err
	}

	s.setPhaseName(ctx, "Running forecast...")
	successful, err := s.opts.Evaluator.Evaluate(ctx, rc)
	if err != nil {
		return 0, NewTransientError("forward model evaluation failed", err).
			WithCode(ErrCodeEvaluatorFailed).
			WithResource(ensemble.Ensemble().Name).
			WithOperation("evaluate")
	}
	if successful < s.opts.MinRealizations {
		phase := PhasePosterior
		if sample {
			phase = PhasePrior
		}
		return successful, NewInsufficientRealizationsError(phase, s.opts.MinRealizations, successful)
	}

	s.setPhaseName(ctx, "Post processing...")
	if err := o.RunWorkflows(ctx, HookPostSimulation, storage, ensemble); err != nil {
		return successful, err
	}
	return successful, nil
}

func (s *EnsembleSmoother) timedPhase(phase string, active int, fn func() (int, error)) (int, error) {
	start := time.Now()
	n, err := fn()
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordPhase(phase, time.Since(start), err)
		s.opts.Metrics.RecordRealizations(phase, active, n)
	}
	return n, err
}

func (s *EnsembleSmoother) setPhase(ctx context.Context, index int, name string) {
	s.phase.Index = index
	s.setPhaseName(ctx, name)
}

func (s *EnsembleSmoother) setPhaseName(ctx context.Context, name string) {
	s.phase.Name = name
	s.logger.Info().
		Int("phase", s.phase.Index).
		Int("phase_count", s.phase.Count).
		Msg(name)
	s.publish(ctx, EventTypePhaseChanged, "", name, map[string]interface{}{
		"index": s.phase.Index,
		"count": s.phase.Count,
	})
}

func (s *EnsembleSmoother) publish(ctx context.Context, eventType EventType, ensemble, message string, details map[string]interface{}) {
	if s.opts.Events == nil {
		return
	}
	event := &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now(),
		RunID:       s.runID,
		Ensemble:    ensemble,
		Realization: -1,
		Message:     message,
		Details:     details,
		Level:       eventType.Severity(),
	}
	if err := s.opts.Events.Publish(ctx, event); err != nil {
		s.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
