package config

import (
	"strings"
	"testing"
)

func TestSchemaRegistry_BuiltIns(t *testing.T) {
	sr := NewSchemaRegistry()

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != SchemaExperiment || names[1] != SchemaStep {
		t.Fatalf("unexpected schemas: %v", names)
	}

	if _, ok := sr.GetSchema("resource"); ok {
		t.Error("expected unknown schema lookup to fail")
	}
}

func TestSchemaRegistry_ValidateStep(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		step    StepConfig
		wantErr bool
	}{
		{
			name: "valid step",
			step: StepConfig{Name: "eclipse100", Executable: "run_eclipse", Arguments: []string{"<ECLBASE>"}},
		},
		{
			name:    "name with spaces",
			step:    StepConfig{Name: "bad name", Executable: "x"},
			wantErr: true,
		},
		{
			name:    "missing executable",
			step:    StepConfig{Name: "ok"},
			wantErr: true,
		},
		{
			name:    "negative runtime",
			step:    StepConfig{Name: "ok", Executable: "x", MaxRunningMinutes: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := sr.ValidateAgainstSchema(SchemaStep, tt.step)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("wantErr %v, got %v", tt.wantErr, errs)
			}
		})
	}
}

func TestSchemaRegistry_ValidateExperiment(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		cfg     ExperimentConfig
		wantErr string
	}{
		{
			name: "minimal",
			cfg:  ExperimentConfig{Name: "poly", NumRealizations: 1},
		},
		{
			name:    "empty name",
			cfg:     ExperimentConfig{NumRealizations: 1},
			wantErr: "name",
		},
		{
			name:    "bad range",
			cfg:     ExperimentConfig{Name: "poly", NumRealizations: 3, ActiveRealizations: "0..2"},
			wantErr: "active_realizations",
		},
		{
			name:    "bad timeout",
			cfg:     ExperimentConfig{Name: "poly", NumRealizations: 3, Evaluator: EvaluatorConfig{Timeout: "ten minutes"}},
			wantErr: "timeout",
		},
		{
			name: "valid timeout",
			cfg:  ExperimentConfig{Name: "poly", NumRealizations: 3, Evaluator: EvaluatorConfig{Timeout: "1h30m"}},
		},
		{
			name:    "unknown module",
			cfg:     ExperimentConfig{Name: "poly", NumRealizations: 3, Analysis: AnalysisConfig{Module: "IES_ENKF"}},
			wantErr: "module",
		},
		{
			name:    "export name with separator",
			cfg:     ExperimentConfig{Name: "poly", NumRealizations: 3, GenKwExportName: "a/b"},
			wantErr: "gen_kw_export_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := sr.ValidateAgainstSchema(SchemaExperiment, &tt.cfg)
			if tt.wantErr == "" {
				if len(errs) > 0 {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatalf("expected error mentioning %s", tt.wantErr)
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e.String(), tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error mentioning %s, got %v", tt.wantErr, errs)
			}
		})
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("seed", "#Seed", `#Seed: string & =~"^[0-9]+$"`); err != nil {
		t.Fatalf("RegisterSchema failed: %v", err)
	}
	if errs := sr.ValidateAgainstSchema("seed", "12345"); len(errs) > 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if errs := sr.ValidateAgainstSchema("seed", "abc"); len(errs) == 0 {
		t.Error("expected error for non-numeric seed")
	}

	if err := sr.RegisterSchema("broken", "#X", `#X: {`); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("missing", "#Y", `#X: int`); err == nil {
		t.Error("expected error for missing definition")
	}
}
