package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/histmatch/pkg/config"
	"github.com/openfroyo/histmatch/pkg/engine"
	ssht "github.com/openfroyo/histmatch/pkg/transports/ssh"
)

var tracer = otel.Tracer("github.com/openfroyo/histmatch/pkg/evaluator")

// Driver names accepted in the evaluator configuration.
const (
	DriverLocal = "local"
	DriverQueue = "queue"
	DriverSSH   = "ssh"
)

// DefaultMaxSubmit is the number of attempts per realization when none is configured.
const DefaultMaxSubmit = 1

// Driver runs the forward model of one realization. It returns nil only
// when every job succeeded.
type Driver interface {
	Name() string
	Run(ctx context.Context, arg engine.RunArg) error
}

// ResultLoader loads forward model output into an ensemble and records
// realizations whose forward model failed. *engine.Orchestrator implements it.
type ResultLoader interface {
	LoadFromForwardModel(ctx context.Context, store engine.EnsembleStore, mask []bool, iteration int) (int, error)
	MarkFailed(ctx context.Context, store engine.EnsembleStore, realizations []int) error
}

// Evaluator runs a driver over every active realization of a run context
// and loads the results of the realizations that succeeded.
type Evaluator struct {
	driver     Driver
	loader     ResultLoader
	maxRunning int
	maxSubmit  int
	timeout    time.Duration
	events     engine.EventPublisher
	logger     zerolog.Logger
}

var _ engine.Evaluator = (*Evaluator)(nil)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// WithEvents publishes realization events to events.
func WithEvents(events engine.EventPublisher) Option {
	return func(e *Evaluator) { e.events = events }
}

// WithMaxRunning bounds concurrently running realizations.
func WithMaxRunning(n int) Option {
	return func(e *Evaluator) { e.maxRunning = n }
}

// WithMaxSubmit sets the number of attempts per realization.
func WithMaxSubmit(n int) Option {
	return func(e *Evaluator) { e.maxSubmit = n }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// New creates an evaluator around driver.
func New(driver Driver, loader ResultLoader, opts ...Option) (*Evaluator, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("result loader is required")
	}

	e := &Evaluator{
		driver:     driver,
		loader:     loader,
		maxRunning: engine.DefaultMaxParallel,
		maxSubmit:  DefaultMaxSubmit,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxSubmit <= 0 {
		e.maxSubmit = DefaultMaxSubmit
	}
	e.logger = e.logger.With().Str("component", "evaluator").Str("driver", driver.Name()).Logger()
	return e, nil
}

// FromConfig builds the driver named by cfg. Options given after the
// configuration values override them.
func FromConfig(cfg config.EvaluatorConfig, loader ResultLoader, opts ...Option) (*Evaluator, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	probe := &Evaluator{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(probe)
	}

	var driver Driver
	switch cfg.Driver {
	case "", DriverLocal:
		driver = NewLocalDriver(probe.logger)
	case DriverQueue:
		driver, err = NewQueueDriver(cfg.SubmitCommand, probe.logger)
	case DriverSSH:
		if cfg.SSH == nil {
			return nil, fmt.Errorf("ssh driver requires an ssh section")
		}
		driver, err = NewSSHDriverFromConfig(*cfg.SSH, probe.logger)
	default:
		return nil, fmt.Errorf("unknown evaluator driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	base := []Option{WithTimeout(timeout)}
	if cfg.MaxRunning > 0 {
		base = append(base, WithMaxRunning(cfg.MaxRunning))
	}
	if cfg.MaxSubmit > 0 {
		base = append(base, WithMaxSubmit(cfg.MaxSubmit))
	}
	return New(driver, loader, append(base, opts...)...)
}

// Driver returns the driver in use.
func (e *Evaluator) Driver() Driver {
	return e.driver
}

// Close releases driver resources such as SSH connections.
func (e *Evaluator) Close() error {
	if c, ok := e.driver.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Evaluate runs every active realization and returns the number of
// realizations whose results were loaded.
func (e *Evaluator) Evaluate(ctx context.Context, rc *engine.RunContext) (int, error) {
	ensemble := rc.Ensemble().Ensemble()
	active := rc.ActiveRealizations()

	ctx, span := tracer.Start(ctx, "evaluator.Evaluate", trace.WithAttributes(
		attribute.String("driver", e.driver.Name()),
		attribute.String("ensemble", ensemble.Name),
		attribute.Int("iteration", rc.Iteration()),
		attribute.Int("active", len(active)),
	))
	defer span.End()

	logger := e.logger.With().Str("ensemble", ensemble.Name).Int("iteration", rc.Iteration()).Logger()
	logger.Info().Int("active", len(active)).Int("max_running", e.maxRunning).Msg("Evaluating ensemble")

	scheduler := engine.NewRealizationScheduler(e.maxRunning, e.events, logger)
	failed := scheduler.Collect(ctx, rc.RunID(), ensemble.Name, active, func(ctx context.Context, real int) error {
		return e.runRealization(ctx, rc.At(real))
	})
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	success := make([]bool, rc.Len())
	var failedReals []int
	for _, real := range active {
		if err, bad := failed[real]; bad {
			logger.Error().Err(err).Int("realization", real).Msg("Realization failed")
			failedReals = append(failedReals, real)
			continue
		}
		success[real] = true
	}

	if err := e.loader.MarkFailed(ctx, rc.Ensemble(), failedReals); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to record failed realizations: %w", err)
	}

	loaded, err := e.loader.LoadFromForwardModel(ctx, rc.Ensemble(), success, rc.Iteration())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return loaded, fmt.Errorf("failed to load results: %w", err)
	}

	span.SetAttributes(attribute.Int("failed", len(failed)), attribute.Int("loaded", loaded))
	logger.Info().Int("failed", len(failed)).Int("loaded", loaded).Msg("Ensemble evaluated")
	return loaded, nil
}

// runRealization makes up to maxSubmit attempts. Every failed attempt
// leaves an ERROR file in the run path.
func (e *Evaluator) runRealization(ctx context.Context, arg engine.RunArg) error {
	var err error
	for attempt := 1; attempt <= e.maxSubmit; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ClearStatus(arg.RunPath); err != nil {
			return err
		}

		err = e.attempt(ctx, arg)
		if err == nil {
			return nil
		}

		if status, _, serr := ReadStatus(arg.RunPath); serr == nil && status != StatusError {
			je := &JobError{Reason: err.Error()}
			errors.As(err, &je)
			if werr := WriteError(arg.RunPath, je); werr != nil {
				e.logger.Warn().Err(werr).Int("realization", arg.Realization).Msg("Failed to write ERROR file")
			}
		}

		e.logger.Warn().Err(err).
			Int("realization", arg.Realization).
			Int("attempt", attempt).
			Int("max_submit", e.maxSubmit).
			Msg("Forward model attempt failed")
	}
	return err
}

func (e *Evaluator) attempt(ctx context.Context, arg engine.RunArg) error {
	if e.timeout <= 0 {
		return e.driver.Run(ctx, arg)
	}

	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	err := e.driver.Run(actx, arg)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("timed out after %s: %w", e.timeout, err)
	}
	return err
}

// NewSSHDriverFromConfig connects lazily to the host in cfg.
func NewSSHDriverFromConfig(cfg config.SSHConfig, logger zerolog.Logger) (*SSHDriver, error) {
	tc := ssht.NewConfig(cfg.Host, cfg.User)
	if cfg.Port > 0 {
		tc.Port = cfg.Port
	}
	tc.Password = cfg.Password
	tc.KeyFile = cfg.KeyFile
	if cfg.KnownHostsFile != "" {
		tc.KnownHostsFile = cfg.KnownHostsFile
	}

	client, err := ssht.NewClient(tc, logger)
	if err != nil {
		return nil, err
	}
	return NewSSHDriver(client, cfg.RemoteDir, logger), nil
}
