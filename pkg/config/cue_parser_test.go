package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const pollCUE = `
package poly

experiment: {
	name:             "poly"
	num_realizations: 5
	min_realizations: 3
	random_seed:      "123"
	runpath: runpath_format: "poly_out/realization-<IENS>/iter-<ITER>"
	defines: "<USER>": "alice"
	forward_model: [{
		name:       "poly_eval"
		executable: "poly_eval.py"
		arglist: ["<IENS>"]
	}]
	parameters: {
		gen_kw: ["COEFFS coeffs.tmpl coeffs.json coeff_priors"]
		gen_data: ["POLY_RES RESULT_FILE:poly.out"]
	}
	analysis: {}
	evaluator: max_running: 2
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoader_CUEFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "poly.cue", pollCUE)

	pc, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", pc.Errors)
	}

	cfg := pc.Experiment
	if cfg.Name != "poly" {
		t.Errorf("expected name poly, got %s", cfg.Name)
	}
	if cfg.NumRealizations != 5 || cfg.MinRealizations != 3 {
		t.Errorf("unexpected realization counts: %d/%d", cfg.NumRealizations, cfg.MinRealizations)
	}
	if cfg.Defines["<USER>"] != "alice" {
		t.Errorf("expected define <USER>=alice, got %v", cfg.Defines)
	}
	if len(cfg.ForwardModel) != 1 || cfg.ForwardModel[0].Arguments[0] != "<IENS>" {
		t.Errorf("unexpected forward model: %+v", cfg.ForwardModel)
	}
	if cfg.Evaluator.MaxRunning != 2 {
		t.Errorf("expected max_running 2, got %d", cfg.Evaluator.MaxRunning)
	}
	if pc.SourceFile != path {
		t.Errorf("expected source %s, got %s", path, pc.SourceFile)
	}
}

func TestLoader_CUEDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "poly.cue", pollCUE)
	writeFile(t, dir, "extra.cue", "package poly\n\nexperiment: num_cpu: 4\n")

	pc, err := NewLoader().Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(pc.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", pc.Errors)
	}
	if pc.Experiment.NumCPU != 4 {
		t.Errorf("expected files to unify into num_cpu 4, got %d", pc.Experiment.NumCPU)
	}
}

func TestLoader_CUESchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name: "zero realizations",
			content: `experiment: {
	name: "x"
	num_realizations: 0
	runpath: {}
	parameters: {}
	analysis: {}
	evaluator: {}
}`,
			wantMsg: "num_realizations",
		},
		{
			name: "min above size",
			content: `experiment: {
	name: "x"
	num_realizations: 2
	min_realizations: 3
	runpath: {}
	parameters: {}
	analysis: {}
	evaluator: {}
}`,
			wantMsg: "min_realizations",
		},
		{
			name: "unknown field",
			content: `experiment: {
	name: "x"
	num_realizations: 2
	queue_system: "LSF"
	runpath: {}
	parameters: {}
	analysis: {}
	evaluator: {}
}`,
			wantMsg: "queue_system",
		},
		{
			name: "unknown driver",
			content: `experiment: {
	name: "x"
	num_realizations: 2
	runpath: {}
	parameters: {}
	analysis: {}
	evaluator: driver: "slurm"
}`,
			wantMsg: "driver",
		},
		{
			name:    "missing experiment",
			content: `name: "x"`,
			wantMsg: "experiment",
		},
		{
			name:    "syntax error",
			content: `experiment: {`,
			wantMsg: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "bad.cue", tt.content)

			pc, err := NewLoader().Load(context.Background(), path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(pc.Errors) == 0 {
				t.Fatal("expected validation errors")
			}
			if pc.Experiment != nil {
				t.Error("expected no experiment on error")
			}
			if pc.Err() == nil {
				t.Error("expected Err to be non-nil")
			}

			found := false
			for _, ve := range pc.Errors {
				if strings.Contains(ve.String(), tt.wantMsg) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error mentioning %q, got %v", tt.wantMsg, pc.Errors)
			}
		})
	}
}

func TestLoader_CUEErrorPositions(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pos.cue", `experiment: {
	name: "x"
	num_realizations: -1
	runpath: {}
	parameters: {}
	analysis: {}
	evaluator: {}
}`)

	pc, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(pc.Errors) == 0 {
		t.Fatal("expected validation errors")
	}

	located := false
	for _, ve := range pc.Errors {
		if ve.Line > 0 && ve.File != "" {
			located = true
		}
	}
	if !located {
		t.Errorf("expected at least one located error, got %v", pc.Errors)
	}
}

func TestLoader_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, t.TempDir(), "poly.toml", "")

	if _, err := NewLoader().Load(context.Background(), path); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoader_MissingFile(t *testing.T) {
	if _, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.cue")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
