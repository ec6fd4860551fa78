package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/config"
	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
)

// Engine evaluates Rego policies against experiment configurations.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	order    []string
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStore(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// BuildInput converts an experiment configuration into policy input.
func BuildInput(cfg *config.ExperimentConfig, evalCtx *Context) (*Input, error) {
	raw, err := cfg.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode experiment: %w", err)
	}
	var experiment map[string]interface{}
	if err := json.Unmarshal(raw, &experiment); err != nil {
		return nil, fmt.Errorf("failed to decode experiment: %w", err)
	}

	mask, err := cfg.ActiveMask()
	if err != nil {
		return nil, fmt.Errorf("invalid active_realizations: %w", err)
	}

	if evalCtx == nil {
		evalCtx = &Context{}
	}
	if evalCtx.Timestamp.IsZero() {
		evalCtx.Timestamp = time.Now()
	}

	kw := cfg.Keywords()
	keywords := make([]Keyword, 0)
	for _, group := range []struct {
		kind  parameters.ImplType
		lines [][]string
	}{
		{parameters.ImplGenKw, kw.GenKw},
		{parameters.ImplField, kw.Field},
		{parameters.ImplSurface, kw.Surface},
		{parameters.ImplGenData, kw.GenData},
		{parameters.ImplExtParam, kw.ExtParam},
	} {
		for _, args := range group.lines {
			if len(args) == 0 {
				continue
			}
			keywords = append(keywords, Keyword{
				Kind:    string(group.kind),
				Key:     args[0],
				Args:    args,
				Options: parameters.OptionDict(args, 1),
			})
		}
	}

	return &Input{
		Experiment:         experiment,
		Keywords:           keywords,
		ActiveRealizations: engine.CountActive(mask),
		Context:            evalCtx,
	}, nil
}

// Evaluate builds the input for cfg and evaluates every enabled policy.
func (e *Engine) Evaluate(ctx context.Context, cfg *config.ExperimentConfig, evalCtx *Context) (*Result, error) {
	input, err := BuildInput(cfg, evalCtx)
	if err != nil {
		return nil, err
	}
	return e.EvaluateInput(ctx, input)
}

// EvaluateInput evaluates every enabled policy against input. A policy that
// fails to evaluate aborts the evaluation.
func (e *Engine) EvaluateInput(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: start}
	for _, name := range e.order {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("policies", len(result.EvaluatedPolicies)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// LoadPolicies loads and compiles policy files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.AddPolicy(ctx, policies[i]); err != nil {
			return err
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// AddPolicy compiles p and registers it, replacing a policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if err := e.compileAndStore(ctx, &p); err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
	}
	return nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// createViolation accepts plain string messages and objects with message,
// severity and field.
func createViolation(p *Policy, result interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch d := result.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if field, ok := d["field"].(string); ok {
			v.Field = field
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

func (e *Engine) compileAndStore(ctx context.Context, p *Policy) error {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.policies[p.Name]; !exists {
		e.order = append(e.order, p.Name)
	}
	e.policies[p.Name] = &compiledPolicy{policy: p, query: query, compiled: time.Now()}

	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all policies in registration order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.order))
	for _, name := range e.order {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
