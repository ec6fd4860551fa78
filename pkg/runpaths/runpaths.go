// Package runpaths computes the per-realization, per-iteration workspace
// directories and job names of an ensemble, and writes the runpath manifest
// consumed by external tooling.
package runpaths

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/histmatch/pkg/substitution"
)

const (
	// DefaultRunpathFormat is used when an experiment does not configure one.
	DefaultRunpathFormat = "simulations/realization-<IENS>/iter-<ITER>"

	// DefaultJobnameFormat is used when an experiment does not configure one.
	DefaultJobnameFormat = "<CONFIG_FILE>-<IENS>"

	// DefaultManifestFile is the default manifest file name.
	DefaultManifestFile = ".ert_runpath_list"
)

// SubstituteFunc resolves placeholders in s for one realization and iteration.
type SubstituteFunc func(s string, realization, iteration int) string

// Identity performs no substitution.
func Identity(s string, _, _ int) string { return s }

// Runpaths derives run paths and job names from two format strings.
// All methods are pure given the formats and the substitution function,
// except WriteRunpathList which writes the manifest file.
type Runpaths struct {
	jobnameFormat string
	runpathFormat string
	manifestPath  string
	substitute    SubstituteFunc
}

// New creates Runpaths. Legacy "%d" formats are converted to placeholders and
// the runpath format is resolved to an absolute, cleaned path. A nil
// substitute disables substitution.
func New(jobnameFormat, runpathFormat, manifestPath string, substitute SubstituteFunc) (*Runpaths, error) {
	if runpathFormat == "" {
		runpathFormat = DefaultRunpathFormat
	}
	if jobnameFormat == "" {
		jobnameFormat = DefaultJobnameFormat
	}
	if manifestPath == "" {
		manifestPath = DefaultManifestFile
	}
	if substitute == nil {
		substitute = Identity
	}

	absRunpath, err := filepath.Abs(ConvertLegacyFormat(runpathFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve runpath format %q: %w", runpathFormat, err)
	}

	return &Runpaths{
		jobnameFormat: ConvertLegacyFormat(jobnameFormat),
		runpathFormat: absRunpath,
		manifestPath:  manifestPath,
		substitute:    substitute,
	}, nil
}

// ConvertLegacyFormat turns a printf style format into placeholders: the
// first "%d" becomes <IENS> and the second <ITER>. Further occurrences are
// left untouched.
func ConvertLegacyFormat(format string) string {
	format = strings.Replace(format, "%d", substitution.KeyRealization, 1)
	return strings.Replace(format, "%d", substitution.KeyIteration, 1)
}

// RunpathFormat returns the absolute runpath format.
func (r *Runpaths) RunpathFormat() string {
	return r.runpathFormat
}

// JobnameFormat returns the job name format.
func (r *Runpaths) JobnameFormat() string {
	return r.jobnameFormat
}

// ManifestPath returns the manifest file location.
func (r *Runpaths) ManifestPath() string {
	return r.manifestPath
}

// GetPaths returns the run path of each realization at iteration.
func (r *Runpaths) GetPaths(realizations []int, iteration int) []string {
	out := make([]string, len(realizations))
	for i, real := range realizations {
		out[i] = r.runpath(real, iteration)
	}
	return out
}

func (r *Runpaths) runpath(realization, iteration int) string {
	return filepath.Clean(r.substitute(r.runpathFormat, realization, iteration))
}

// GetJobnames returns the job name of each realization at iteration.
func (r *Runpaths) GetJobnames(realizations []int, iteration int) []string {
	out := make([]string, len(realizations))
	for i, real := range realizations {
		out[i] = r.substitute(r.jobnameFormat, real, iteration)
	}
	return out
}

// WriteRunpathList overwrites the manifest with one line per (iteration,
// realization) pair, iterations outermost:
//
//	003  /cwd/realization-3/iteration-0  job3  000
//
// Parent directories of the manifest are created when missing.
func (r *Runpaths) WriteRunpathList(iterations, realizations []int) error {
	if dir := filepath.Dir(r.manifestPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}

	f, err := os.Create(r.manifestPath)
	if err != nil {
		return fmt.Errorf("failed to create runpath manifest: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, iter := range iterations {
		for _, real := range realizations {
			jobName := r.substitute(r.jobnameFormat, real, iter)
			runpath := r.runpath(real, iter)
			if _, err := fmt.Fprintf(w, "%03d  %s  %s  %03d\n", real, runpath, jobName, iter); err != nil {
				return fmt.Errorf("failed to write runpath manifest: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write runpath manifest: %w", err)
	}
	return f.Close()
}
