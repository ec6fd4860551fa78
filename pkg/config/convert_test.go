package config

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/openfroyo/histmatch/pkg/engine"
)

func TestExperimentConfig_Keywords(t *testing.T) {
	cfg := &ExperimentConfig{
		Parameters: ParametersConfig{
			GenKw:    []string{"COEFFS  coeffs.tmpl coeffs.json\tpriors"},
			ExtParam: []string{"CONTROLS KEYS:a,b"},
		},
	}

	kw := cfg.Keywords()
	want := [][]string{{"COEFFS", "coeffs.tmpl", "coeffs.json", "priors"}}
	if !reflect.DeepEqual(kw.GenKw, want) {
		t.Errorf("GenKw = %v, want %v", kw.GenKw, want)
	}
	if len(kw.ExtParam) != 1 || kw.ExtParam[0][1] != "KEYS:a,b" {
		t.Errorf("unexpected ExtParam %v", kw.ExtParam)
	}
	if kw.Field != nil || kw.Surface != nil || kw.GenData != nil {
		t.Error("expected unset keywords to stay nil")
	}
}

func TestExperimentConfig_EnsembleConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "coeffs.tmpl", "a: <a>\n")
	writeFile(t, dir, "priors", "a UNIFORM 0 1\n")
	writeFile(t, dir, "grid.grdecl", "SPECGRID\n 2 2 1 1 F /\n")

	cfg := &ExperimentConfig{
		Grid: "grid.grdecl",
		Parameters: ParametersConfig{
			GenKw:    []string{"COEFFS coeffs.tmpl coeffs.json priors"},
			GenData:  []string{"POLY_RES RESULT_FILE:poly.out"},
			ExtParam: []string{"CONTROLS KEYS:x,y"},
		},
	}

	ec, err := cfg.EnsembleConfig(dir)
	if err != nil {
		t.Fatalf("EnsembleConfig failed: %v", err)
	}
	if got := ec.Keys(); len(got) != 3 {
		t.Errorf("expected 3 keys, got %v", got)
	}
	if got := ec.ResponseKeys(); len(got) != 1 || got[0] != "POLY_RES" {
		t.Errorf("unexpected response keys %v", got)
	}
}

func TestExperimentConfig_EnsembleConfigErrors(t *testing.T) {
	dir := t.TempDir()

	cfg := &ExperimentConfig{Grid: "missing.grdecl"}
	if _, err := cfg.EnsembleConfig(dir); err == nil {
		t.Error("expected error for missing grid")
	}

	cfg = &ExperimentConfig{Parameters: ParametersConfig{GenKw: []string{"COEFFS missing.tmpl out priors"}}}
	if _, err := cfg.EnsembleConfig(dir); err == nil {
		t.Error("expected error for missing template")
	}
}

func TestExperimentConfig_ActiveMask(t *testing.T) {
	tests := []struct {
		name    string
		active  string
		want    []bool
		wantErr bool
	}{
		{name: "all", active: "", want: []bool{true, true, true, true}},
		{name: "range", active: "0-1,3", want: []bool{true, true, false, true}},
		{name: "out of range", active: "2-4", wantErr: true},
		{name: "garbage", active: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ExperimentConfig{NumRealizations: 4, ActiveRealizations: tt.active}
			got, err := cfg.ActiveMask()
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr %v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ActiveMask() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExperimentConfig_Cases(t *testing.T) {
	cfg := &ExperimentConfig{}
	if cfg.CurrentCase() != "default" || cfg.TargetCase() != "default_smoother_update" {
		t.Errorf("unexpected defaults %s/%s", cfg.CurrentCase(), cfg.TargetCase())
	}

	cfg.Analysis = AnalysisConfig{CurrentCase: "prior"}
	if cfg.TargetCase() != "prior_smoother_update" {
		t.Errorf("unexpected target %s", cfg.TargetCase())
	}

	cfg.Analysis.TargetCase = "post"
	if cfg.TargetCase() != "post" {
		t.Errorf("unexpected target %s", cfg.TargetCase())
	}
}

func TestExperimentConfig_EngineOptions(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "poly.yaml")

	cfg := &ExperimentConfig{
		Name:            "poly",
		NumRealizations: 2,
		NumCPU:          4,
		RandomSeed:      "42",
		Runpath:         RunpathConfig{JobnameFormat: "job-<IENS>"},
		Defines:         map[string]string{"<B>": "2", "<A>": "1"},
		Templates:       []TemplateConfig{{Source: "tmpl/input.tmpl", Target: "input.txt"}},
		ForwardModel: []StepConfig{{
			Name:       "poly_eval",
			Executable: "poly_eval.py",
			Arguments:  []string{"<IENS>"},
			ExecEnv:    map[string]string{"MODE": "fast"},
		}},
		Evaluator: EvaluatorConfig{MaxRunning: 3},
	}

	opts := cfg.EngineOptions(source, nil)

	if opts.ConfigFile != source || opts.NumCPU != 4 || opts.RandomSeed != "42" || opts.MaxParallel != 3 {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.JobnameFormat != "job-<IENS>" {
		t.Errorf("unexpected jobname format %s", opts.JobnameFormat)
	}
	if got := opts.Defines.Keys(); !reflect.DeepEqual(got, []string{"<A>", "<B>"}) {
		t.Errorf("expected sorted defines, got %v", got)
	}
	if opts.Templates[0].Source != filepath.Join(dir, "tmpl/input.tmpl") {
		t.Errorf("expected template source relative to config, got %s", opts.Templates[0].Source)
	}
	want := engine.ForwardModelStep{
		Name:       "poly_eval",
		Executable: "poly_eval.py",
		Arguments:  []string{"<IENS>"},
		ExecEnv:    map[string]string{"MODE": "fast"},
	}
	if !reflect.DeepEqual(opts.ForwardModel[0], want) {
		t.Errorf("step = %+v, want %+v", opts.ForwardModel[0], want)
	}
}

func TestExperimentConfig_JSON(t *testing.T) {
	cfg := &ExperimentConfig{Name: "poly", NumRealizations: 2}

	raw, err := cfg.JSON()
	if err != nil {
		t.Fatalf("JSON failed: %v", err)
	}

	var back ExperimentConfig
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Name != "poly" || back.NumRealizations != 2 {
		t.Errorf("unexpected round trip %+v", back)
	}
}

func TestExperimentConfig_PolicyFiles(t *testing.T) {
	cfg := &ExperimentConfig{Policies: []string{"/abs/p.rego", "rel/q.rego"}}

	got := cfg.PolicyFiles("/cfg")
	want := []string{"/abs/p.rego", "/cfg/rel/q.rego"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PolicyFiles() = %v, want %v", got, want)
	}
}
