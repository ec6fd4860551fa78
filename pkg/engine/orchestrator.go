package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/histmatch/pkg/parameters"
	"github.com/openfroyo/histmatch/pkg/runpaths"
	"github.com/openfroyo/histmatch/pkg/substitution"
)

// DefaultGenKwExportName is the base name of the parameter export files.
const DefaultGenKwExportName = "parameters"

var tracer = otel.Tracer("github.com/openfroyo/histmatch/pkg/engine")

// Options configures an Orchestrator.
type Options struct {
	// ConfigFile is the experiment configuration file. It provides
	// <CONFIG_PATH>, <CONFIG_FILE> and <CONFIG_FILE_BASE>.
	ConfigFile string

	// EnsembleConfig holds the configured parameters and responses.
	EnsembleConfig *parameters.EnsembleConfig

	// Defines are user substitutions, applied after the built-in ones.
	Defines substitution.Context

	// JobnameFormat, RunpathFormat and ManifestFile control run paths.
	// Empty values select the defaults of package runpaths.
	JobnameFormat string
	RunpathFormat string
	ManifestFile  string

	// EclBase is the simulator base name format exposed as <ECL_BASE>.
	// It defaults to the job name format.
	EclBase string

	// NumCPU is exposed as <NUM_CPU>.
	NumCPU int

	// RandomSeed seeds prior sampling. A fresh seed is drawn and logged when empty.
	RandomSeed string

	// Templates are rendered into every run path.
	Templates []Template

	// ForwardModel is written into jobs.json.
	ForwardModel []ForwardModelStep

	// EnvVars become the global environment in jobs.json.
	EnvVars map[string]string

	// UpdatePath entries are prepended to path-like variables by the job runner.
	UpdatePath map[string]string

	// GenKwExportName is the base name of the export files.
	GenKwExportName string

	// MaxParallel bounds realization-parallel work.
	MaxParallel int

	// Hooks runs workflows, may be nil.
	Hooks HookRunner

	// Events receives progress events, may be nil.
	Events EventPublisher

	// Metrics receives measurements, may be nil.
	Metrics MetricsRecorder

	Logger zerolog.Logger
}

// Orchestrator is the top-level coordinator of an experiment. It builds run
// contexts, samples priors, creates run paths and loads forward model results.
type Orchestrator struct {
	ensembleConfig *parameters.EnsembleConfig
	subst          substitution.Context
	seed           parameters.Seed

	jobnameFormat string
	runpathFormat string
	manifestPath  string

	templates    []Template
	forwardModel []ForwardModelStep
	envVars      map[string]string
	updatePath   map[string]string
	exportName   string

	hooks     HookRunner
	events    EventPublisher
	metrics   MetricsRecorder
	scheduler *RealizationScheduler
	logger    zerolog.Logger
}

// NewOrchestrator creates an orchestrator and its base substitutions.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.EnsembleConfig == nil {
		opts.EnsembleConfig = parameters.NewEnsembleConfig()
	}
	if opts.GenKwExportName == "" {
		opts.GenKwExportName = DefaultGenKwExportName
	}
	if opts.JobnameFormat == "" {
		opts.JobnameFormat = runpaths.DefaultJobnameFormat
	}
	if opts.RunpathFormat == "" {
		opts.RunpathFormat = runpaths.DefaultRunpathFormat
	}
	if opts.ManifestFile == "" {
		opts.ManifestFile = runpaths.DefaultManifestFile
	}
	if opts.NumCPU <= 0 {
		opts.NumCPU = 1
	}

	logger := opts.Logger.With().Str("component", "orchestrator").Logger()

	configDir := ""
	if opts.ConfigFile != "" {
		abs, err := filepath.Abs(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config file: %w", err)
		}
		opts.ConfigFile = abs
		configDir = filepath.Dir(abs)
	}

	// Relative paths are relative to the config file.
	manifest := opts.ManifestFile
	if !filepath.IsAbs(manifest) && configDir != "" {
		manifest = filepath.Join(configDir, manifest)
	}
	if !filepath.IsAbs(opts.RunpathFormat) && configDir != "" {
		opts.RunpathFormat = filepath.Join(configDir, opts.RunpathFormat)
	}

	o := &Orchestrator{
		ensembleConfig: opts.EnsembleConfig,
		jobnameFormat:  runpaths.ConvertLegacyFormat(opts.JobnameFormat),
		runpathFormat:  runpaths.ConvertLegacyFormat(opts.RunpathFormat),
		manifestPath:   manifest,
		templates:      opts.Templates,
		forwardModel:   opts.ForwardModel,
		envVars:        opts.EnvVars,
		updatePath:     opts.UpdatePath,
		exportName:     opts.GenKwExportName,
		hooks:          opts.Hooks,
		events:         opts.Events,
		metrics:        opts.Metrics,
		scheduler:      NewRealizationScheduler(opts.MaxParallel, opts.Events, opts.Logger),
		logger:         logger,
	}

	seed, err := o.initSeed(opts.RandomSeed)
	if err != nil {
		return nil, err
	}
	o.seed = seed

	eclBase := opts.EclBase
	if eclBase == "" {
		eclBase = o.jobnameFormat
	}
	eclBase = runpaths.ConvertLegacyFormat(eclBase)

	paths, err := runpaths.New(o.jobnameFormat, o.runpathFormat, o.manifestPath, nil)
	if err != nil {
		return nil, err
	}

	subst := substitution.New()
	if opts.ConfigFile != "" {
		base := filepath.Base(opts.ConfigFile)
		subst = subst.
			With(substitution.KeyConfigPath, configDir).
			With(substitution.KeyConfigFile, base).
			With(substitution.KeyConfigBase, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	subst = subst.
		With(substitution.KeyNumCPU, strconv.Itoa(opts.NumCPU)).
		With(substitution.KeyRunpath, paths.RunpathFormat()).
		With(substitution.KeyEclBase, eclBase).
		With(substitution.KeyEclBaseAlt, eclBase)
	for _, key := range opts.Defines.Keys() {
		value, _ := opts.Defines.Get(key)
		subst = subst.With(key, value)
	}
	o.subst = subst

	return o, nil
}

func (o *Orchestrator) initSeed(configured string) (parameters.Seed, error) {
	if configured != "" {
		seed, err := parameters.ParseSeed(configured)
		if err != nil {
			return parameters.Seed{}, fmt.Errorf("invalid random seed: %w", err)
		}
		return seed, nil
	}

	seed, err := parameters.NewRandomSeed()
	if err != nil {
		return parameters.Seed{}, fmt.Errorf("failed to draw random seed: %w", err)
	}
	o.logger.Info().
		Str("random_seed", seed.String()).
		Msgf("To repeat this experiment, add the following random seed to your config file: RANDOM_SEED %s", seed)
	return seed, nil
}

// EnsembleConfig returns the configured parameters and responses.
func (o *Orchestrator) EnsembleConfig() *parameters.EnsembleConfig {
	return o.ensembleConfig
}

// Substitutions returns the base substitution context.
func (o *Orchestrator) Substitutions() substitution.Context {
	return o.subst
}

// Seed returns the experiment seed.
func (o *Orchestrator) Seed() parameters.Seed {
	return o.seed
}

// Runpaths returns run paths resolved with the base substitutions.
func (o *Orchestrator) Runpaths() (*runpaths.Runpaths, error) {
	return runpaths.New(o.jobnameFormat, o.runpathFormat, o.manifestPath, o.subst.SubstituteRealIter)
}

// EnsembleContext builds the run context of store at iteration. The
// ensemble name is bound to both case aliases in a context derived from the
// base substitutions; the base context itself is never changed.
func (o *Orchestrator) EnsembleContext(store EnsembleStore, mask []bool, iteration int) (*RunContext, error) {
	subst := o.subst.WithCase(store.Ensemble().Name)
	paths, err := runpaths.New(o.jobnameFormat, o.runpathFormat, o.manifestPath, subst.SubstituteRealIter)
	if err != nil {
		return nil, err
	}
	return NewRunContext(store, mask, iteration, paths, subst)
}

// WriteRunpathList writes the manifest for the given iterations and realizations.
func (o *Orchestrator) WriteRunpathList(iterations, realizations []int) error {
	paths, err := o.Runpaths()
	if err != nil {
		return err
	}
	return paths.WriteRunpathList(iterations, realizations)
}

// SamplePrior puts the prior of every requested realization into store.
// keys defaults to every parameter; forward-init keys are skipped. Afterwards
// every UNDEFINED or LOAD_FAILURE realization among realizations is
// INITIALIZED and the store is synced.
func (o *Orchestrator) SamplePrior(ctx context.Context, store EnsembleStore, realizations []int, keys ...string) error {
	ctx, span := tracer.Start(ctx, "engine.SamplePrior", trace.WithAttributes(
		attribute.String("ensemble", store.Ensemble().Name),
		attribute.Int("realizations", len(realizations)),
	))
	defer span.End()

	if len(keys) == 0 {
		keys = o.ensembleConfig.ParameterKeys()
	}

	for _, key := range keys {
		cfg, ok := o.ensembleConfig.Get(key)
		if !ok {
			return NewPermanentError(fmt.Sprintf("unknown parameter %s", key), nil).
				WithCode(ErrCodeNotFound).
				WithResource(key).
				WithOperation("sample_prior")
		}
		if cfg.Describe().ForwardInit {
			continue
		}
		if err := cfg.Sample(ctx, store, realizations, o.seed); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to sample %s: %w", key, err)
		}
	}

	states, err := store.RealizationStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to read realization states: %w", err)
	}
	for _, real := range realizations {
		if real < 0 || real >= len(states) {
			return fmt.Errorf("realization %d outside ensemble of size %d", real, len(states))
		}
		if states[real] != RealizationUndefined && states[real] != RealizationLoadFailure {
			continue
		}
		if err := o.transition(ctx, store, real, states[real], EventInitialize); err != nil {
			return err
		}
	}

	if err := store.Sync(ctx); err != nil {
		return fmt.Errorf("failed to sync ensemble: %w", err)
	}
	return nil
}

// CreateRunPath materializes every active realization of rc: run directory,
// templates, parameter files, exports and jobs.json. The manifest is
// written afterwards for the active realizations. Running it twice on the
// same context reproduces the same tree.
func (o *Orchestrator) CreateRunPath(ctx context.Context, rc *RunContext) error {
	ensemble := rc.Ensemble().Ensemble().Name
	ctx, span := tracer.Start(ctx, "engine.CreateRunPath", trace.WithAttributes(
		attribute.String("ensemble", ensemble),
		attribute.Int("iteration", rc.Iteration()),
		attribute.String("run_id", rc.RunID()),
	))
	defer span.End()

	err := o.scheduler.ForEach(ctx, rc.RunID(), ensemble, rc.ActiveRealizations(),
		func(ctx context.Context, real int) error {
			start := time.Now()
			err := o.createRealizationRunPath(ctx, rc, rc.At(real))
			if o.metrics != nil {
				o.metrics.RecordMaterialization(time.Since(start), err)
			}
			return err
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return rc.Runpaths().WriteRunpathList([]int{rc.Iteration()}, rc.ActiveRealizations())
}

func (o *Orchestrator) createRealizationRunPath(ctx context.Context, rc *RunContext, arg RunArg) error {
	store := rc.Ensemble()

	// Every GEN_KW vector is checked before anything is written.
	genKw, err := o.loadGenKw(ctx, store, arg)
	if err != nil {
		return err
	}

	if err := parameters.EnsureDir(arg.RunPath); err != nil {
		return err
	}
	if err := o.renderTemplates(rc, arg); err != nil {
		return err
	}
	if err := o.writeParameterFiles(ctx, store, arg, genKw); err != nil {
		return err
	}
	return o.writeJobsFile(rc, arg)
}

func (o *Orchestrator) renderTemplates(rc *RunContext, arg RunArg) error {
	subst := rc.Substituter()
	for _, tmpl := range o.templates {
		data, err := os.ReadFile(tmpl.Source)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", tmpl.Source, err)
		}
		target := subst.SubstituteRealIter(tmpl.Target, arg.Realization, arg.Iteration)
		result := subst.SubstituteRealIter(string(data), arg.Realization, arg.Iteration)
		if err := parameters.WriteFile(parameters.RunPathFile(arg.RunPath, target), []byte(result)); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromForwardModel loads the results of every active realization from
// its run path. Realizations that load move to HAS_DATA, the others to
// LOAD_FAILURE. Loading is sequential and the store is synced once.
func (o *Orchestrator) LoadFromForwardModel(ctx context.Context, store EnsembleStore, mask []bool, iteration int) (int, error) {
	rc, err := o.EnsembleContext(store, mask, iteration)
	if err != nil {
		return 0, err
	}

	ctx, span := tracer.Start(ctx, "engine.LoadFromForwardModel", trace.WithAttributes(
		attribute.String("ensemble", store.Ensemble().Name),
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	states, err := store.RealizationStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read realization states: %w", err)
	}

	loaders := o.ensembleConfig.Loaders()
	loaded := 0
	for _, real := range rc.ActiveRealizations() {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}

		arg := rc.At(real)
		var loadErr error
		for _, l := range loaders {
			if err := l.LoadFromRunPath(ctx, store, arg.RunPath, real); err != nil {
				loadErr = err
				break
			}
		}

		event := EventLoadSucceeded
		if loadErr != nil {
			event = EventLoadFailed
			o.logger.Error().Err(loadErr).Int("realization", real).Str("run_path", arg.RunPath).
				Msg("Failed to load results")
		}

		current := states[real]
		switch {
		case loadErr == nil && current == RealizationHasData:
			loaded++
		case loadErr != nil && current == RealizationLoadFailure:
		default:
			if err := o.transition(ctx, store, real, current, event); err != nil {
				o.logger.Warn().Err(err).Int("realization", real).Msg("Realization state not updated")
				continue
			}
			if loadErr == nil {
				loaded++
			}
		}
	}

	if err := store.Sync(ctx); err != nil {
		return loaded, fmt.Errorf("failed to sync ensemble: %w", err)
	}
	span.SetAttributes(attribute.Int("loaded", loaded))
	return loaded, nil
}

// MarkFailed moves realizations whose forward model failed to LOAD_FAILURE,
// so later state filters leave them out. Realizations already in
// LOAD_FAILURE are left as they are. The store is synced once.
func (o *Orchestrator) MarkFailed(ctx context.Context, store EnsembleStore, realizations []int) error {
	if len(realizations) == 0 {
		return nil
	}
	states, err := store.RealizationStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to read realization states: %w", err)
	}

	for _, real := range realizations {
		if real < 0 || real >= len(states) {
			return fmt.Errorf("realization %d outside ensemble of size %d", real, len(states))
		}
		current := states[real]
		if current == RealizationLoadFailure {
			continue
		}
		if err := o.transition(ctx, store, real, current, EventLoadFailed); err != nil {
			o.logger.Warn().Err(err).Int("realization", real).Msg("Realization state not updated")
		}
	}

	if err := store.Sync(ctx); err != nil {
		return fmt.Errorf("failed to sync ensemble: %w", err)
	}
	return nil
}

// RunWorkflows runs the workflows bound to hook. Without a hook runner it does nothing.
func (o *Orchestrator) RunWorkflows(ctx context.Context, hook HookPoint, storage Storage, ensemble EnsembleStore) error {
	if o.hooks == nil {
		return nil
	}
	return o.hooks.RunWorkflows(ctx, hook, storage, ensemble)
}

func (o *Orchestrator) transition(ctx context.Context, store EnsembleStore, real int, current RealizationState, event RealizationEvent) error {
	m := NewRealizationStateMachine(real, current, func(r int, from, to RealizationState) {
		o.logger.Debug().Int("realization", r).Str("from", string(from)).Str("to", string(to)).
			Msg("Realization state changed")
		if o.metrics != nil {
			o.metrics.RecordStateTransition(from, to)
		}
	})
	if err := m.Fire(ctx, event); err != nil {
		return err
	}
	if err := store.SetRealizationState(ctx, real, m.State()); err != nil {
		return fmt.Errorf("failed to store state of realization %d: %w", real, err)
	}
	return nil
}
