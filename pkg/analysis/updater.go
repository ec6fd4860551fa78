// Package analysis implements the update step between the prior and the
// posterior ensemble.
//
// The shipped module copies parameter values of every updatable prior
// realization into the posterior. A Transform can be installed to modify
// the copied values; the numerical update itself lives outside this module.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
)

var tracer = otel.Tracer("github.com/openfroyo/histmatch/pkg/analysis")

// ModuleCopy is the only shipped update module.
const ModuleCopy = "copy"

// AnalysisError is raised by the update step.
type AnalysisError struct {
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Transform modifies the parameter values of key in place. Each row of
// matrix belongs to the realization at the same position in realizations.
type Transform func(ctx context.Context, key string, realizations []int, matrix [][]float64) error

// Config configures the updater.
type Config struct {
	// MinRealizations is the minimum number of updatable realizations.
	// Values below one are raised to one.
	MinRealizations int

	// LogPath receives one report directory per update. Empty disables reports.
	LogPath string

	// Module names the update module in the report.
	Module string
}

// Updater implements engine.Updater.
type Updater struct {
	ensembleConfig *parameters.EnsembleConfig
	config         Config
	transform      Transform
	logger         zerolog.Logger

	mu        sync.Mutex
	snapshots []*SmootherSnapshot
}

var _ engine.Updater = (*Updater)(nil)

// Option configures an Updater.
type Option func(*Updater)

// WithTransform installs a transform applied to GEN_KW, FIELD and SURFACE values.
func WithTransform(t Transform) Option {
	return func(u *Updater) { u.transform = t }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(u *Updater) { u.logger = logger }
}

// NewUpdater creates an updater for the parameters of ec.
func NewUpdater(ec *parameters.EnsembleConfig, cfg Config, opts ...Option) *Updater {
	if cfg.MinRealizations < 1 {
		cfg.MinRealizations = 1
	}
	if cfg.Module == "" {
		cfg.Module = ModuleCopy
	}
	u := &Updater{
		ensembleConfig: ec,
		config:         cfg,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With().Str("component", "analysis").Logger()
	return u
}

// Snapshots returns the snapshots of every update so far.
func (u *Updater) Snapshots() []*SmootherSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*SmootherSnapshot(nil), u.snapshots...)
}

// SmootherUpdate fills posterior from the HAS_DATA and INITIALIZED
// realizations of prior and marks them INITIALIZED in the posterior.
func (u *Updater) SmootherUpdate(ctx context.Context, prior, posterior engine.EnsembleStore, runID string) error {
	ctx, span := tracer.Start(ctx, "analysis.SmootherUpdate", trace.WithAttributes(
		attribute.String("prior", prior.Ensemble().Name),
		attribute.String("posterior", posterior.Ensemble().Name),
		attribute.String("run_id", runID),
	))
	defer span.End()

	snapshot := &SmootherSnapshot{
		SourceCase: prior.Ensemble().Name,
		TargetCase: posterior.Ensemble().Name,
		RunID:      runID,
		Module:     u.config.Module,
		StartedAt:  time.Now(),
	}

	mask, err := prior.RealizationMaskFromStates(ctx, engine.RealizationHasData, engine.RealizationInitialized)
	if err != nil {
		return &AnalysisError{Message: "failed to select realizations", Err: err}
	}
	realizations := engine.MaskToIndices(mask)
	if err := u.assertEnoughRealizations(len(realizations)); err != nil {
		return err
	}
	snapshot.Realizations = realizations

	for _, key := range u.ensembleConfig.ParameterKeys() {
		cfg, _ := u.ensembleConfig.Get(key)
		ps, err := u.updateParameter(ctx, cfg.Describe(), prior, posterior, realizations)
		if err != nil {
			return err
		}
		snapshot.Parameters = append(snapshot.Parameters, ps)
	}

	states, err := posterior.RealizationStates(ctx)
	if err != nil {
		return &AnalysisError{Message: "failed to read posterior states", Err: err}
	}
	for _, real := range realizations {
		if states[real] == engine.RealizationInitialized {
			continue
		}
		next, err := engine.Transition(ctx, real, states[real], engine.EventInitialize)
		if err != nil {
			return &AnalysisError{Message: fmt.Sprintf("realization %d", real), Err: err}
		}
		if err := posterior.SetRealizationState(ctx, real, next); err != nil {
			return &AnalysisError{Message: fmt.Sprintf("failed to update realization %d", real), Err: err}
		}
	}
	if err := posterior.Sync(ctx); err != nil {
		return &AnalysisError{Message: "failed to sync posterior", Err: err}
	}

	snapshot.FinishedAt = time.Now()
	u.mu.Lock()
	u.snapshots = append(u.snapshots, snapshot)
	u.mu.Unlock()

	logger := u.logger.Info().
		Str("source_case", snapshot.SourceCase).
		Str("target_case", snapshot.TargetCase).
		Int("realizations", len(realizations)).
		Int("parameters", len(snapshot.Parameters)).
		Dur("duration", snapshot.Duration())

	if u.config.LogPath != "" {
		path, err := WriteReport(u.config.LogPath, snapshot)
		if err != nil {
			u.logger.Warn().Err(err).Msg("Failed to write update report")
		} else {
			logger = logger.Str("report", path)
		}
	}
	logger.Msg("Update completed")
	return nil
}

func (u *Updater) assertEnoughRealizations(active int) error {
	if active < u.config.MinRealizations {
		return &AnalysisError{Message: fmt.Sprintf(
			"There are %d active realisations left, which is less than the minimum specified - stopping assimilation.",
			active)}
	}
	return nil
}

func (u *Updater) updateParameter(
	ctx context.Context,
	meta parameters.Meta,
	prior, posterior engine.EnsembleStore,
	realizations []int,
) (ParameterSnapshot, error) {
	ps := ParameterSnapshot{Key: meta.Key, Impl: meta.Impl}
	wrap := func(real int, err error) error {
		return &AnalysisError{Message: fmt.Sprintf("failed to update %s for realization %d", meta.Key, real), Err: err}
	}

	switch meta.Impl {
	case parameters.ImplExtParam:
		for _, real := range realizations {
			data, err := prior.LoadExtParam(ctx, meta.Key, real)
			if err != nil {
				return ps, wrap(real, err)
			}
			if err := posterior.SaveExtParam(ctx, meta.Key, real, data); err != nil {
				return ps, wrap(real, err)
			}
		}
		return ps, nil

	case parameters.ImplGenKw:
		values := make([]parameters.GenKwValues, len(realizations))
		matrix := make([][]float64, len(realizations))
		for i, real := range realizations {
			v, err := prior.LoadGenKw(ctx, meta.Key, real)
			if err != nil {
				return ps, wrap(real, err)
			}
			values[i] = parameters.GenKwValues{Keys: v.Keys, Values: append([]float64(nil), v.Values...)}
			matrix[i] = values[i].Values
		}
		if err := u.apply(ctx, &ps, realizations, matrix); err != nil {
			return ps, err
		}
		for i, real := range realizations {
			if err := posterior.SaveGenKw(ctx, meta.Key, real, values[i]); err != nil {
				return ps, wrap(real, err)
			}
		}
		return ps, nil

	default:
		arrays := make([]parameters.Array, len(realizations))
		matrix := make([][]float64, len(realizations))
		for i, real := range realizations {
			a, err := prior.LoadArray(ctx, meta.Key, real)
			if err != nil {
				return ps, wrap(real, err)
			}
			arrays[i] = parameters.Array{Shape: a.Shape, Data: append([]float64(nil), a.Data...)}
			matrix[i] = arrays[i].Data
		}
		if err := u.apply(ctx, &ps, realizations, matrix); err != nil {
			return ps, err
		}
		for i, real := range realizations {
			if err := posterior.SaveArray(ctx, meta.Key, real, arrays[i]); err != nil {
				return ps, wrap(real, err)
			}
		}
		return ps, nil
	}
}

func (u *Updater) apply(ctx context.Context, ps *ParameterSnapshot, realizations []int, matrix [][]float64) error {
	if len(matrix) > 0 {
		ps.Size = len(matrix[0])
	}
	if u.transform == nil {
		return nil
	}
	if err := u.transform(ctx, ps.Key, realizations, matrix); err != nil {
		return &AnalysisError{Message: fmt.Sprintf("update of %s failed", ps.Key), Err: err}
	}
	ps.Transformed = true
	return nil
}
