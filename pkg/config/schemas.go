package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for validation. All schemas and every
// value validated against them share one cue.Context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// Built-in schema names.
const (
	SchemaExperiment = "experiment"
	SchemaStep       = "step"
)

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaExperiment, "#Experiment", builtinExperimentSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaStep, "#Step", builtinExperimentSchema); err != nil {
		panic(err)
	}
	return sr
}

// Context returns the registry's cue.Context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) []ValidationError {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return []ValidationError{{Message: fmt.Sprintf("failed to encode data: %v", err), Severity: "error"}}
	}
	return sr.ValidateValue(schemaName, dataVal)
}

// ValidateValue unifies a CUE value with a named schema and reports every
// violation. The value must come from the registry's context.
func (sr *SchemaRegistry) ValidateValue(schemaName string, val cue.Value) []ValidationError {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("schema %s not found", schemaName), Severity: "error"}}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	return validationErrors
}

const builtinExperimentSchema = `
#Experiment: {
	name:              string & !=""
	num_realizations:  int & >0
	min_realizations?: int & >=0 & <=num_realizations

	// "0-4,7" style selection
	active_realizations?: string & =~"^[0-9]+(-[0-9]+)?(,[0-9]+(-[0-9]+)?)*$"

	random_seed?:        string & !=""
	num_cpu?:            int & >=0
	eclbase?:            string
	runpath?:            #Runpath
	gen_kw_export_name?: string & =~"^[^/]+$"
	defines?: [=~"^<.+>$"]: string
	templates?: [...#Template]
	forward_model?: [...#Step]
	env_vars?: [string]:    string
	update_path?: [string]: string
	grid?:       string
	parameters?: #Parameters
	hooks?: [...#Hook]
	analysis?:  #Analysis
	evaluator?: #Evaluator
	policies?: [...string]
}

#Runpath: {
	jobname_format?: string & !=""
	runpath_format?: string & !=""
	manifest_file?:  string & !=""
}

#Template: {
	source: string & !=""
	target: string & !=""
}

#Step: {
	name:       string & =~"^[A-Za-z0-9_.-]+$"
	executable: string & !=""
	arglist?: [...string]
	target_file?: string
	error_file?:  string
	start_file?:  string
	stdin?:       string
	environment?: [string]: string
	exec_env?: [string]:    string
	max_running_minutes?: int & >=0
}

#Parameters: {
	gen_kw?: [...string]
	field?: [...string]
	surface?: [...string]
	gen_data?: [...string]
	ext_param?: [...string]
}

#HookPoint: "PRE_EXPERIMENT" | "PRE_SIMULATION" | "POST_SIMULATION" | "PRE_FIRST_UPDATE" | "PRE_UPDATE" | "POST_UPDATE" | "POST_EXPERIMENT"

#Hook: {
	name:   string & !=""
	script: string & !=""
	runtime: [#HookPoint, ...#HookPoint]
}

#Analysis: {
	current_case?: string & !=""
	target_case?:  string & !=""
	module?:       "copy"
	log_path?:     string
}

#Evaluator: {
	driver?:         "local" | "queue" | "ssh"
	max_running?:    int & >=0
	max_submit?:     int & >=0
	timeout?:        string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
	submit_command?: string
	ssh?:            #SSH
}

#SSH: {
	host:              string & !=""
	port?:             int & >0 & <=65535
	user:              string & !=""
	key_file?:         string
	password?:         string
	known_hosts_file?: string
	remote_dir:        string & !=""
}
`
