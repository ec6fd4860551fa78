package config

import (
	"fmt"
	"time"
)

// ExperimentConfig is the authored description of one history-matching experiment.
type ExperimentConfig struct {
	// Name identifies the experiment in storage.
	Name string `json:"name" yaml:"name" validate:"required"`

	// NumRealizations is the ensemble size.
	NumRealizations int `json:"num_realizations" yaml:"num_realizations" validate:"required,gt=0"`

	// MinRealizations is the number of realizations that must succeed.
	// Zero means all of them.
	MinRealizations int `json:"min_realizations,omitempty" yaml:"min_realizations" validate:"gte=0"`

	// ActiveRealizations is a range string such as "0-4,7" selecting the
	// realizations to run. Empty means all.
	ActiveRealizations string `json:"active_realizations,omitempty" yaml:"active_realizations"`

	// RandomSeed makes prior sampling reproducible.
	RandomSeed string `json:"random_seed,omitempty" yaml:"random_seed"`

	// NumCPU is exposed as <NUM_CPU>.
	NumCPU int `json:"num_cpu,omitempty" yaml:"num_cpu" validate:"gte=0"`

	// EclBase is the simulator base name format, exposed as <ECLBASE>.
	EclBase string `json:"eclbase,omitempty" yaml:"eclbase"`

	// Runpath controls run path layout.
	Runpath RunpathConfig `json:"runpath" yaml:"runpath"`

	// GenKwExportName is the base name of the parameter export files.
	GenKwExportName string `json:"gen_kw_export_name,omitempty" yaml:"gen_kw_export_name"`

	// Defines are user substitutions such as "<USER>": "alice".
	Defines map[string]string `json:"defines,omitempty" yaml:"defines" validate:"dive,keys,startswith=<,endswith=>,endkeys"`

	// Templates are rendered into every run path.
	Templates []TemplateConfig `json:"templates,omitempty" yaml:"templates" validate:"dive"`

	// ForwardModel is the ordered job list.
	ForwardModel []StepConfig `json:"forward_model,omitempty" yaml:"forward_model" validate:"dive"`

	// EnvVars become the global environment of every job.
	EnvVars map[string]string `json:"env_vars,omitempty" yaml:"env_vars"`

	// UpdatePath entries are prepended to path-like variables.
	UpdatePath map[string]string `json:"update_path,omitempty" yaml:"update_path"`

	// Grid is a GRDECL file with a SPECGRID keyword, required by FIELD parameters.
	Grid string `json:"grid,omitempty" yaml:"grid"`

	// Parameters holds the parameter and response keyword lines.
	Parameters ParametersConfig `json:"parameters" yaml:"parameters"`

	// Hooks are workflows bound to hook points.
	Hooks []HookConfig `json:"hooks,omitempty" yaml:"hooks" validate:"dive"`

	// Analysis configures the update step.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Evaluator configures how the forward model runs.
	Evaluator EvaluatorConfig `json:"evaluator" yaml:"evaluator"`

	// Policies lists additional .rego or .json policy files.
	Policies []string `json:"policies,omitempty" yaml:"policies"`
}

// RunpathConfig controls run path layout.
type RunpathConfig struct {
	JobnameFormat string `json:"jobname_format,omitempty" yaml:"jobname_format"`
	RunpathFormat string `json:"runpath_format,omitempty" yaml:"runpath_format"`
	ManifestFile  string `json:"manifest_file,omitempty" yaml:"manifest_file"`
}

// TemplateConfig is a file rendered into every run path.
type TemplateConfig struct {
	Source string `json:"source" yaml:"source" validate:"required"`
	Target string `json:"target" yaml:"target" validate:"required"`
}

// StepConfig is one forward model job.
type StepConfig struct {
	Name              string            `json:"name" yaml:"name" validate:"required"`
	Executable        string            `json:"executable" yaml:"executable" validate:"required"`
	Arguments         []string          `json:"arglist,omitempty" yaml:"arglist"`
	TargetFile        string            `json:"target_file,omitempty" yaml:"target_file"`
	ErrorFile         string            `json:"error_file,omitempty" yaml:"error_file"`
	StartFile         string            `json:"start_file,omitempty" yaml:"start_file"`
	Stdin             string            `json:"stdin,omitempty" yaml:"stdin"`
	Environment       map[string]string `json:"environment,omitempty" yaml:"environment"`
	ExecEnv           map[string]string `json:"exec_env,omitempty" yaml:"exec_env"`
	MaxRunningMinutes int               `json:"max_running_minutes,omitempty" yaml:"max_running_minutes" validate:"gte=0"`
}

// ParametersConfig holds keyword lines in the traditional
// "NAME ARG... KEY:VALUE..." form, one entry per parameter.
type ParametersConfig struct {
	GenKw    []string `json:"gen_kw,omitempty" yaml:"gen_kw"`
	Field    []string `json:"field,omitempty" yaml:"field"`
	Surface  []string `json:"surface,omitempty" yaml:"surface"`
	GenData  []string `json:"gen_data,omitempty" yaml:"gen_data"`
	ExtParam []string `json:"ext_param,omitempty" yaml:"ext_param"`
}

// HookConfig binds a Starlark workflow to hook points.
type HookConfig struct {
	Name    string   `json:"name" yaml:"name" validate:"required"`
	Script  string   `json:"script" yaml:"script" validate:"required"`
	Runtime []string `json:"runtime" yaml:"runtime" validate:"required,dive,oneof=PRE_EXPERIMENT PRE_SIMULATION POST_SIMULATION PRE_FIRST_UPDATE PRE_UPDATE POST_UPDATE POST_EXPERIMENT"`
}

// AnalysisConfig configures the update step.
type AnalysisConfig struct {
	// CurrentCase names the prior ensemble. Defaults to "default".
	CurrentCase string `json:"current_case,omitempty" yaml:"current_case"`

	// TargetCase names the posterior. Defaults to "<current_case>_smoother_update".
	TargetCase string `json:"target_case,omitempty" yaml:"target_case"`

	// Module selects the update transform. Only "copy" ships.
	Module string `json:"module,omitempty" yaml:"module" validate:"omitempty,oneof=copy"`

	// LogPath is the directory update reports are written to.
	LogPath string `json:"log_path,omitempty" yaml:"log_path"`
}

// EvaluatorConfig configures how the forward model runs.
type EvaluatorConfig struct {
	// Driver is local, queue or ssh. Defaults to local.
	Driver string `json:"driver,omitempty" yaml:"driver" validate:"omitempty,oneof=local queue ssh"`

	// MaxRunning bounds concurrently running realizations.
	MaxRunning int `json:"max_running,omitempty" yaml:"max_running" validate:"gte=0"`

	// MaxSubmit is the number of attempts per realization.
	MaxSubmit int `json:"max_submit,omitempty" yaml:"max_submit" validate:"gte=0"`

	// Timeout bounds one realization, as a Go duration string.
	Timeout string `json:"timeout,omitempty" yaml:"timeout"`

	// SubmitCommand is invoked as "<command> <runpath> <jobname>" by the queue driver.
	SubmitCommand string `json:"submit_command,omitempty" yaml:"submit_command" validate:"required_if=Driver queue"`

	// SSH configures the ssh driver.
	SSH *SSHConfig `json:"ssh,omitempty" yaml:"ssh" validate:"required_if=Driver ssh,omitempty"`
}

// SSHConfig configures the ssh evaluator driver.
type SSHConfig struct {
	Host           string `json:"host" yaml:"host" validate:"required"`
	Port           int    `json:"port,omitempty" yaml:"port" validate:"gte=0,lte=65535"`
	User           string `json:"user" yaml:"user" validate:"required"`
	KeyFile        string `json:"key_file,omitempty" yaml:"key_file"`
	Password       string `json:"password,omitempty" yaml:"password"`
	KnownHostsFile string `json:"known_hosts_file,omitempty" yaml:"known_hosts_file"`
	RemoteDir      string `json:"remote_dir" yaml:"remote_dir" validate:"required"`
}

// TimeoutDuration parses Timeout. Empty means no timeout.
func (e EvaluatorConfig) TimeoutDuration() (time.Duration, error) {
	if e.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid evaluator timeout %q: %w", e.Timeout, err)
	}
	return d, nil
}

// ParsedConfig is a loaded experiment configuration.
type ParsedConfig struct {
	// Experiment is the decoded configuration. It is nil when decoding failed.
	Experiment *ExperimentConfig `json:"experiment,omitempty"`

	// SourceFile is the absolute path of the configuration file. Relative
	// paths inside the configuration resolve against its directory.
	SourceFile string `json:"source_file"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err joins Errors into a single error, or returns nil.
func (pc *ParsedConfig) Err() error {
	if len(pc.Errors) == 0 {
		return nil
	}
	return &ConfigError{Errors: pc.Errors}
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "forward_model[0].name").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

func (v ValidationError) String() string {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", v.File, v.Line, v.Column)
	}
	switch {
	case loc != "" && v.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, v.Path, v.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, v.Message)
	case v.Path != "":
		return fmt.Sprintf("%s: %s", v.Path, v.Message)
	default:
		return v.Message
	}
}

// ConfigError reports every validation error of a configuration.
type ConfigError struct {
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid configuration: " + e.Errors[0].String()
	}
	msg := fmt.Sprintf("invalid configuration (%d errors):", len(e.Errors))
	for _, v := range e.Errors {
		msg += "\n  " + v.String()
	}
	return msg
}
