package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
	"github.com/openfroyo/histmatch/pkg/substitution"
)

// Keywords splits the configured parameter lines into keyword arguments.
func (c *ExperimentConfig) Keywords() parameters.Keywords {
	split := func(lines []string) [][]string {
		if len(lines) == 0 {
			return nil
		}
		out := make([][]string, 0, len(lines))
		for _, line := range lines {
			out = append(out, parameters.SplitKeyword(line))
		}
		return out
	}
	return parameters.Keywords{
		GenKw:    split(c.Parameters.GenKw),
		Field:    split(c.Parameters.Field),
		Surface:  split(c.Parameters.Surface),
		GenData:  split(c.Parameters.GenData),
		ExtParam: split(c.Parameters.ExtParam),
	}
}

// EnsembleConfig parses every parameter and response definition. Relative
// paths resolve against baseDir.
func (c *ExperimentConfig) EnsembleConfig(baseDir string) (*parameters.EnsembleConfig, error) {
	var grid *parameters.Grid
	if c.Grid != "" {
		g, err := parameters.GRDECLGridLoader{}.LoadGrid(resolve(c.Grid, baseDir))
		if err != nil {
			return nil, fmt.Errorf("failed to load grid: %w", err)
		}
		grid = &g
	}
	return parameters.BuildEnsembleConfig(c.Keywords(), grid, baseDir)
}

// ActiveMask returns the realization mask selected by ActiveRealizations.
func (c *ExperimentConfig) ActiveMask() ([]bool, error) {
	if c.ActiveRealizations == "" {
		return engine.FullMask(c.NumRealizations), nil
	}
	indices, err := parameters.ParseRangeString(c.ActiveRealizations)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, c.NumRealizations)
	for _, i := range indices {
		if i < 0 || i >= c.NumRealizations {
			return nil, fmt.Errorf("active realization %d outside ensemble of size %d", i, c.NumRealizations)
		}
		mask[i] = true
	}
	return mask, nil
}

// CurrentCase returns the configured prior name or the default.
func (c *ExperimentConfig) CurrentCase() string {
	if c.Analysis.CurrentCase == "" {
		return engine.DefaultCurrentCase
	}
	return c.Analysis.CurrentCase
}

// TargetCase returns the configured posterior name or the default.
func (c *ExperimentConfig) TargetCase() string {
	if c.Analysis.TargetCase == "" {
		return c.CurrentCase() + engine.SmootherUpdateSuffix
	}
	return c.Analysis.TargetCase
}

// JSON returns the configuration as recorded with the experiment.
func (c *ExperimentConfig) JSON() (json.RawMessage, error) {
	return json.Marshal(c)
}

// EngineOptions converts the configuration to orchestrator options.
// Collaborators such as hooks, events and the logger are left to the caller.
func (c *ExperimentConfig) EngineOptions(sourceFile string, ensembleConfig *parameters.EnsembleConfig) engine.Options {
	baseDir := filepath.Dir(sourceFile)

	templates := make([]engine.Template, 0, len(c.Templates))
	for _, t := range c.Templates {
		templates = append(templates, engine.Template{
			Source: resolve(t.Source, baseDir),
			Target: t.Target,
		})
	}

	steps := make([]engine.ForwardModelStep, 0, len(c.ForwardModel))
	for _, s := range c.ForwardModel {
		steps = append(steps, engine.ForwardModelStep{
			Name:              s.Name,
			Executable:        s.Executable,
			Arguments:         s.Arguments,
			TargetFile:        s.TargetFile,
			ErrorFile:         s.ErrorFile,
			StartFile:         s.StartFile,
			Stdin:             s.Stdin,
			Environment:       s.Environment,
			ExecEnv:           s.ExecEnv,
			MaxRunningMinutes: s.MaxRunningMinutes,
		})
	}

	return engine.Options{
		ConfigFile:      sourceFile,
		EnsembleConfig:  ensembleConfig,
		Defines:         substitution.FromMap(c.Defines),
		JobnameFormat:   c.Runpath.JobnameFormat,
		RunpathFormat:   c.Runpath.RunpathFormat,
		ManifestFile:    c.Runpath.ManifestFile,
		EclBase:         c.EclBase,
		NumCPU:          c.NumCPU,
		RandomSeed:      c.RandomSeed,
		Templates:       templates,
		ForwardModel:    steps,
		EnvVars:         c.EnvVars,
		UpdatePath:      c.UpdatePath,
		GenKwExportName: c.GenKwExportName,
		MaxParallel:     c.Evaluator.MaxRunning,
	}
}

// HookScript returns the absolute path of a hook's script.
func (h HookConfig) HookScript(baseDir string) string {
	return resolve(h.Script, baseDir)
}

// PolicyFiles returns the absolute paths of the configured policy files.
func (c *ExperimentConfig) PolicyFiles(baseDir string) []string {
	out := make([]string, 0, len(c.Policies))
	for _, p := range c.Policies {
		out = append(out, resolve(p, baseDir))
	}
	return out
}

func resolve(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
