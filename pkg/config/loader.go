package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Supported experiment file formats, by extension.
const (
	FormatCUE      = ".cue"
	FormatYAML     = ".yaml"
	FormatYML      = ".yml"
	FormatStarlark = ".star"
)

// Loader reads experiment configurations from CUE, YAML or Starlark files
// and validates them against the experiment schema and struct tags.
type Loader struct {
	schemas  *SchemaRegistry
	starlark *StarlarkEvaluator
	validate *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Loader{
		schemas:  NewSchemaRegistry(),
		starlark: NewStarlarkEvaluator(DefaultStarlarkTimeout),
		validate: v,
	}
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load parses and validates the configuration at path. A directory is
// loaded as a CUE package. Problems with the content are reported in
// ParsedConfig.Errors; the error return is for unreadable input.
func (l *Loader) Load(ctx context.Context, path string) (*ParsedConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
	}

	pc := &ParsedConfig{SourceFile: abs, ParsedAt: time.Now()}

	format := strings.ToLower(filepath.Ext(abs))
	if info.IsDir() {
		format = FormatCUE
	}

	switch format {
	case FormatCUE:
		l.parseCUE(abs, pc)
	case FormatYAML, FormatYML:
		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		l.parseYAML(abs, content, pc)
	case FormatStarlark:
		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		l.parseStarlark(ctx, abs, content, pc)
	default:
		return nil, fmt.Errorf("unsupported configuration format %q (want .cue, .yaml, .yml or .star)", format)
	}

	if pc.Experiment != nil && len(pc.Errors) == 0 {
		pc.Errors = append(pc.Errors, l.validateStruct(abs, pc.Experiment)...)
	}
	if len(pc.Errors) > 0 {
		pc.Experiment = nil
	}
	return pc, nil
}

// LoadExperiment is Load that returns validation problems as a *ConfigError.
func (l *Loader) LoadExperiment(ctx context.Context, path string) (*ExperimentConfig, string, error) {
	pc, err := l.Load(ctx, path)
	if err != nil {
		return nil, "", err
	}
	if err := pc.Err(); err != nil {
		return nil, pc.SourceFile, err
	}
	return pc.Experiment, pc.SourceFile, nil
}

// Validate checks an in-memory configuration against the experiment schema
// and struct tags.
func (l *Loader) Validate(cfg *ExperimentConfig) []ValidationError {
	if errs := l.schemas.ValidateAgainstSchema(SchemaExperiment, cfg); len(errs) > 0 {
		return errs
	}
	return l.validateStruct("", cfg)
}

func (l *Loader) parseYAML(path string, content []byte, pc *ParsedConfig) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg ExperimentConfig
	if err := dec.Decode(&cfg); err != nil {
		pc.Errors = append(pc.Errors, yamlErrors(path, err)...)
		return
	}

	if errs := l.schemas.ValidateAgainstSchema(SchemaExperiment, &cfg); len(errs) > 0 {
		pc.Errors = append(pc.Errors, withFile(path, errs)...)
		return
	}
	pc.Experiment = &cfg
}

// parseStarlark runs the script and decodes its experiment global.
func (l *Loader) parseStarlark(ctx context.Context, path string, content []byte, pc *ParsedConfig) {
	globals, err := l.starlark.Run(ctx, filepath.Base(path), string(content), map[string]any{
		"config_dir": filepath.Dir(path),
	})
	if err != nil {
		pc.Errors = append(pc.Errors, ValidationError{File: path, Message: err.Error(), Severity: "error"})
		return
	}

	raw, ok := globals[experimentPath]
	if !ok {
		pc.Errors = append(pc.Errors, ValidationError{
			File:     path,
			Message:  fmt.Sprintf("script does not define %q", experimentPath),
			Severity: "error",
		})
		return
	}

	var cfg ExperimentConfig
	if err := DecodeValue(raw, &cfg); err != nil {
		pc.Errors = append(pc.Errors, ValidationError{File: path, Path: experimentPath, Message: err.Error(), Severity: "error"})
		return
	}

	if errs := l.schemas.ValidateAgainstSchema(SchemaExperiment, &cfg); len(errs) > 0 {
		pc.Errors = append(pc.Errors, withFile(path, errs)...)
		return
	}
	pc.Experiment = &cfg
}

func (l *Loader) validateStruct(path string, cfg *ExperimentConfig) []ValidationError {
	err := l.validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{File: path, Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msg := fmt.Sprintf("failed on the %q rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on the %q rule (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{File: path, Path: field, Message: msg, Severity: "error"})
	}
	return out
}

// yamlErrors maps yaml.v3 errors, which carry "line N: " prefixes, to
// located validation errors.
func yamlErrors(path string, err error) []ValidationError {
	var messages []string
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		messages = typeErr.Errors
	} else {
		messages = []string{strings.TrimPrefix(err.Error(), "yaml: ")}
	}

	out := make([]ValidationError, 0, len(messages))
	for _, msg := range messages {
		ve := ValidationError{File: path, Message: msg, Severity: "error"}
		var line int
		if n, _ := fmt.Sscanf(msg, "line %d:", &line); n == 1 {
			ve.Line = line
			ve.Message = strings.TrimSpace(msg[strings.Index(msg, ":")+1:])
		}
		out = append(out, ve)
	}
	return out
}

// withFile attributes schema errors of a decoded config to its source file.
// Their positions point into the built-in schema and are dropped.
func withFile(path string, errs []ValidationError) []ValidationError {
	for i := range errs {
		errs[i].File = path
		errs[i].Line = 0
		errs[i].Column = 0
	}
	return errs
}
