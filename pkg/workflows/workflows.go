package workflows

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/openfroyo/histmatch/pkg/config"
	"github.com/openfroyo/histmatch/pkg/engine"
)

// DefaultTimeout bounds one workflow script.
const DefaultTimeout = 5 * time.Minute

// Workflow is a Starlark script bound to one or more hook points.
type Workflow struct {
	Name   string
	Path   string
	Source string
	Hooks  []engine.HookPoint
}

// Runner executes workflows at hook points. It implements engine.HookRunner.
type Runner struct {
	workflows []Workflow
	eval      *config.StarlarkEvaluator
	logger    zerolog.Logger
}

var _ engine.HookRunner = (*Runner)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the per-script timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.eval = config.NewStarlarkEvaluator(d)
	}
}

// WithLogger sets the logger. Script print() output is logged at info level.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner reads every hook script. Relative script paths resolve against baseDir.
func NewRunner(hooks []config.HookConfig, baseDir string, opts ...Option) (*Runner, error) {
	r := &Runner{
		eval:   config.NewStarlarkEvaluator(DefaultTimeout),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "workflows").Logger()

	for _, h := range hooks {
		path := h.HookScript(baseDir)
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow %s: %w", h.Name, err)
		}

		wf := Workflow{Name: h.Name, Path: path, Source: string(src)}
		for _, rt := range h.Runtime {
			hp := engine.HookPoint(rt)
			if err := hp.Validate(); err != nil {
				return nil, fmt.Errorf("workflow %s: %w", h.Name, err)
			}
			wf.Hooks = append(wf.Hooks, hp)
		}
		r.workflows = append(r.workflows, wf)
	}
	return r, nil
}

// Add registers a workflow.
func (r *Runner) Add(wf Workflow) error {
	for _, hp := range wf.Hooks {
		if err := hp.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", wf.Name, err)
		}
	}
	r.workflows = append(r.workflows, wf)
	return nil
}

// Workflows returns the workflows bound to hook, in registration order.
func (r *Runner) Workflows(hook engine.HookPoint) []Workflow {
	var out []Workflow
	for _, wf := range r.workflows {
		for _, hp := range wf.Hooks {
			if hp == hook {
				out = append(out, wf)
				break
			}
		}
	}
	return out
}

// RunWorkflows runs every workflow bound to hook. The first failing script
// stops the remaining ones and its error is returned.
func (r *Runner) RunWorkflows(ctx context.Context, hook engine.HookPoint, storage engine.Storage, ensemble engine.EnsembleStore) error {
	workflows := r.Workflows(hook)
	if len(workflows) == 0 {
		return nil
	}

	ens, err := ensembleValue(ctx, ensemble)
	if err != nil {
		return err
	}

	for _, wf := range workflows {
		logger := r.logger.With().Str("workflow", wf.Name).Str("hook", string(hook)).Logger()
		logger.Info().Msg("Running workflow")

		predeclared := config.Predeclared()
		predeclared["hook"] = starlark.String(hook)
		predeclared["ensemble"] = ens
		predeclared["ensembles"] = starlark.NewBuiltin("ensembles", ensemblesBuiltin(ctx, storage, ensemble))
		predeclared["gen_kw"] = starlark.NewBuiltin("gen_kw", genKwBuiltin(ctx, ensemble))

		eval := *r.eval
		eval.Print = func(msg string) {
			logger.Info().Msg(msg)
		}

		start := time.Now()
		if _, err := eval.Exec(ctx, wf.Path, wf.Source, predeclared); err != nil {
			logger.Error().Err(err).Msg("Workflow failed")
			return fmt.Errorf("workflow %s failed at %s: %w", wf.Name, hook, err)
		}
		logger.Debug().Dur("duration", time.Since(start)).Msg("Workflow finished")
	}
	return nil
}
