// Package config loads and validates experiment configurations.
//
// An experiment is authored in one of three formats, chosen by extension:
//
//   - .cue: a CUE file (or package directory) with a top-level experiment field
//   - .yaml / .yml: the same structure as YAML
//   - .star: a Starlark script that assigns an experiment dict
//
// Every format is checked against the built-in #Experiment CUE schema and
// the struct tags of ExperimentConfig. Errors carry file positions when the
// source format provides them:
//
//	loader := config.NewLoader()
//	cfg, source, err := loader.LoadExperiment(ctx, "poly.cue")
//	if err != nil {
//	    return err
//	}
//	ensembleConfig, err := cfg.EnsembleConfig(filepath.Dir(source))
//
// Relative paths inside a configuration resolve against the directory of
// the configuration file.
//
// # Settings
//
// LoadSettings reads CLI settings that apply to every experiment, such as
// the storage location and log level. Values are layered with koanf:
// defaults, histmatch.yaml, HISTMATCH_ environment variables, then flags.
//
// # Starlark
//
// StarlarkEvaluator runs scripts with a timeout and the struct, json and
// math modules predeclared. The workflows package reuses it for hooks.
package config
