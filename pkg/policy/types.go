package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run.
	SeverityCritical Severity = "critical"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Blocking reports whether violations of this severity stop a run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set is evaluated against an experiment.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy source. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity of violations that carry none.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from. Empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Field is the configuration path the violation refers to, if any.
	Field string `json:"field,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", v.Policy, v.Field, v.Message)
	}
	return fmt.Sprintf("[%s] %s", v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns a *DeniedError when the result is not allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &DeniedError{Violations: r.Violations}
}

// DeniedError reports blocking policy violations.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	if len(e.Violations) == 1 {
		return "policy check failed: " + e.Violations[0].String()
	}
	lines := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		lines = append(lines, "  "+v.String())
	}
	return fmt.Sprintf("policy check failed (%d violations):\n%s", len(e.Violations), strings.Join(lines, "\n"))
}

// Input is the document policies see as input.
type Input struct {
	// Experiment is the experiment configuration as JSON.
	Experiment map[string]interface{} `json:"experiment"`

	// Keywords lists every parameter and response keyword line.
	Keywords []Keyword `json:"keywords"`

	// ActiveRealizations is the number of realizations selected to run.
	ActiveRealizations int `json:"active_realizations"`

	// Context describes the evaluation.
	Context *Context `json:"context"`
}

// Keyword is one parameter or response definition split into its parts.
type Keyword struct {
	// Kind is GEN_KW, FIELD, SURFACE, GEN_DATA or EXT_PARAM.
	Kind string `json:"kind"`

	// Key is the first argument, the parameter name.
	Key string `json:"key"`

	// Args are the raw arguments including the key.
	Args []string `json:"args"`

	// Options holds the KEY:VALUE arguments.
	Options map[string]string `json:"options"`
}

// Context provides information about the evaluation.
type Context struct {
	// Operation is the CLI operation, such as "run" or "validate".
	Operation string `json:"operation,omitempty"`

	// ConfigFile is the experiment source file.
	ConfigFile string `json:"config_file,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
