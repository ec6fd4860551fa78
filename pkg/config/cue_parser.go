package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/load"
)

// experimentPath is the top-level field holding the experiment in CUE files.
const experimentPath = "experiment"

// parseCUE compiles a CUE file or package directory and decodes its
// experiment field after unifying it with the experiment schema, so schema
// violations point at the user's source.
func (l *Loader) parseCUE(path string, pc *ParsedConfig) {
	var val cue.Value
	var errs []ValidationError

	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		val, errs = l.loadDirectory(path)
	} else {
		val, errs = l.loadFile(path)
	}
	if len(errs) > 0 {
		pc.Errors = append(pc.Errors, errs...)
		return
	}

	exp := val.LookupPath(cue.ParsePath(experimentPath))
	if !exp.Exists() {
		pc.Errors = append(pc.Errors, ValidationError{
			File:     path,
			Message:  fmt.Sprintf("no %q field found", experimentPath),
			Severity: "error",
		})
		return
	}

	if errs := l.schemas.ValidateValue(SchemaExperiment, exp); len(errs) > 0 {
		pc.Errors = append(pc.Errors, errs...)
		return
	}

	schema, _ := l.schemas.GetSchema(SchemaExperiment)
	var cfg ExperimentConfig
	if err := schema.Unify(exp).Decode(&cfg); err != nil {
		pc.Errors = append(pc.Errors, convertCUEErrors(err)...)
		return
	}
	pc.Experiment = &cfg
}

// loadDirectory loads a directory as a CUE package.
func (l *Loader) loadDirectory(dir string) (cue.Value, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, convertCUEErrors(inst.Err)
	}

	val := l.schemas.Context().BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// loadFile loads a single CUE file.
func (l *Loader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := l.schemas.Context().CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}
