package parameters

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseGenData(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantSteps []int
		wantErr   bool
	}{
		{"single step default", []string{"WPR", "RESULT_FILE:wpr.txt"}, []int{0}, false},
		{"steps", []string{"WPR", "RESULT_FILE:wpr_%d.txt", "REPORT_STEPS:1-2,5"}, []int{1, 2, 5}, false},
		{"missing result file", []string{"WPR"}, nil, true},
		{"steps without placeholder", []string{"WPR", "RESULT_FILE:wpr.txt", "REPORT_STEPS:1"}, nil, true},
		{"bad range", []string{"WPR", "RESULT_FILE:wpr_%d.txt", "REPORT_STEPS:x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseGenData(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGenData() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(cfg.ReportSteps(), tt.wantSteps) {
				t.Errorf("ReportSteps() = %v, want %v", cfg.ReportSteps(), tt.wantSteps)
			}
			if meta := cfg.Describe(); meta.Var != VarDynamicResult || meta.Impl != ImplGenData {
				t.Errorf("unexpected meta %+v", meta)
			}
		})
	}
}

func TestGenDataLoadFromRunPath(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "wpr_1.txt"), "1.0\n2.0 3.0\n")

	cfg, err := ParseGenData([]string{"WPR", "RESULT_FILE:wpr_%d.txt", "REPORT_STEPS:1,2"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	store := newMemStore()

	err = cfg.LoadFromRunPath(ctx, store, dir, 0)
	if err == nil {
		t.Fatal("expected error for the missing step 2 file")
	}

	arr, lerr := store.LoadArray(ctx, ResponseName("WPR", 1), 0)
	if lerr != nil {
		t.Fatalf("step 1 not stored: %v", lerr)
	}
	if !reflect.DeepEqual(arr.Data, []float64{1, 2, 3}) {
		t.Errorf("step 1 = %v", arr.Data)
	}

	writeTestFile(t, filepath.Join(dir, "wpr_2.txt"), "4\n")
	if err := cfg.LoadFromRunPath(ctx, store, dir, 0); err != nil {
		t.Errorf("LoadFromRunPath() error = %v", err)
	}
}

func TestEnsembleConfig(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "t.tmpl"), "<A>")
	writeTestFile(t, filepath.Join(dir, "p.txt"), "A UNIFORM 0 1\n")

	kw := Keywords{
		GenKw:    [][]string{SplitKeyword("KW t.tmpl kw.txt p.txt")},
		GenData:  [][]string{SplitKeyword("WPR RESULT_FILE:wpr.txt")},
		ExtParam: [][]string{SplitKeyword("EXT KEYS:a,b")},
	}
	ec, err := BuildEnsembleConfig(kw, nil, dir)
	if err != nil {
		t.Fatalf("BuildEnsembleConfig() error = %v", err)
	}

	if got := ec.ParameterKeys(); !reflect.DeepEqual(got, []string{"KW", "EXT"}) {
		t.Errorf("ParameterKeys() = %v", got)
	}
	if got := ec.ResponseKeys(); !reflect.DeepEqual(got, []string{"WPR"}) {
		t.Errorf("ResponseKeys() = %v", got)
	}
	if got := ec.GenKwKeys(); !reflect.DeepEqual(got, []string{"KW"}) {
		t.Errorf("GenKwKeys() = %v", got)
	}
	if !ec.ForwardInit("WPR") || ec.ForwardInit("KW") || ec.ForwardInit("missing") {
		t.Error("unexpected ForwardInit result")
	}
	if len(ec.Loaders()) != 1 {
		t.Errorf("expected one run path loader, got %d", len(ec.Loaders()))
	}
	if err := ec.Add(NewExtParamConfig("KW", "", nil)); err == nil {
		t.Error("expected duplicate key error")
	}
}

func TestBuildEnsembleConfigJoinsErrors(t *testing.T) {
	kw := Keywords{
		Field:   [][]string{SplitKeyword("PORO PARAMETER poro.grdecl")},
		GenData: [][]string{SplitKeyword("WPR")},
	}
	_, err := BuildEnsembleConfig(kw, nil, t.TempDir())
	if err == nil {
		t.Fatal("expected error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Name != "WPR" {
		t.Errorf("expected joined ValidationError for WPR, got %v", err)
	}
}
