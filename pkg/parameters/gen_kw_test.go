package parameters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func setupGenKw(t *testing.T, dir string) *GenKwConfig {
	t.Helper()
	writeTestFile(t, filepath.Join(dir, "template.txt"), "MULT <A>\nPORO < B >\nKEEP <UNKNOWN>\n")
	writeTestFile(t, filepath.Join(dir, "priors.txt"), "A UNIFORM 0 1\nB NORMAL 0 1\n")

	cfg, err := ParseGenKw([]string{"KW", "template.txt", "out/kw.txt", "priors.txt"}, dir)
	if err != nil {
		t.Fatalf("ParseGenKw() error = %v", err)
	}
	return cfg
}

func TestParseGenKw(t *testing.T) {
	dir := t.TempDir()
	cfg := setupGenKw(t, dir)

	meta := cfg.Describe()
	if meta.Key != "KW" || meta.Impl != ImplGenKw || meta.Var != VarParameter {
		t.Errorf("unexpected meta %+v", meta)
	}
	if meta.ForwardInit {
		t.Error("expected FORWARD_INIT default false")
	}
	if !reflect.DeepEqual(cfg.Keys(), []string{"A", "B"}) {
		t.Errorf("Keys() = %v", cfg.Keys())
	}
	if cfg.TemplateFile() != filepath.Join(dir, "template.txt") {
		t.Errorf("TemplateFile() = %s", cfg.TemplateFile())
	}
}

func TestParseGenKwMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "priors.txt"), "A UNIFORM 0 1\n")

	_, err := ParseGenKw([]string{"KW", "missing.txt", "out.txt", "priors.txt"}, dir)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestGenKwSampleDeterministic(t *testing.T) {
	dir := t.TempDir()
	cfg := setupGenKw(t, dir)
	seed, _ := ParseSeed("abc")
	ctx := context.Background()

	s1, s2 := newMemStore(), newMemStore()
	if err := cfg.Sample(ctx, s1, []int{0, 1, 2}, seed); err != nil {
		t.Fatal(err)
	}
	// Sampling a subset in another order must reproduce the same vectors.
	if err := cfg.Sample(ctx, s2, []int{2, 0}, seed); err != nil {
		t.Fatal(err)
	}
	for _, real := range []int{0, 2} {
		a, _ := s1.LoadGenKw(ctx, "KW", real)
		b, _ := s2.LoadGenKw(ctx, "KW", real)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("realization %d differs: %v != %v", real, a, b)
		}
	}
	a, _ := s1.LoadGenKw(ctx, "KW", 0)
	b, _ := s1.LoadGenKw(ctx, "KW", 1)
	if reflect.DeepEqual(a.Values, b.Values) {
		t.Error("realizations 0 and 1 drew identical values")
	}
	if v := a.Values[0]; v < 0 || v > 1 {
		t.Errorf("uniform value %v out of range", v)
	}
}

func TestGenKwSampleFromInitFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "template.txt"), "<A> <B>")
	writeTestFile(t, filepath.Join(dir, "priors.txt"), "A UNIFORM 0 1\nB UNIFORM 0 1\n")
	writeTestFile(t, filepath.Join(dir, "init0.txt"), "B 2.5\nA 1.5\n")
	writeTestFile(t, filepath.Join(dir, "init1.txt"), "3\n4\n")
	writeTestFile(t, filepath.Join(dir, "init2.txt"), "3\n")

	cfg, err := ParseGenKw([]string{"KW", "template.txt", "out.txt", "priors.txt", "INIT_FILES:init%d.txt"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	store := newMemStore()
	if err := cfg.Sample(ctx, store, []int{0, 1}, Seed{}); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	v0, _ := store.LoadGenKw(ctx, "KW", 0)
	v1, _ := store.LoadGenKw(ctx, "KW", 1)
	if !reflect.DeepEqual(v0.Values, []float64{1.5, 2.5}) {
		t.Errorf("named init values = %v", v0.Values)
	}
	if !reflect.DeepEqual(v1.Values, []float64{3, 4}) {
		t.Errorf("positional init values = %v", v1.Values)
	}

	err = cfg.Sample(ctx, store, []int{2}, Seed{})
	var mismatch *SizeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SizeMismatchError, got %v", err)
	}
}

func TestGenKwMaterialize(t *testing.T) {
	dir := t.TempDir()
	cfg := setupGenKw(t, dir)
	ctx := context.Background()
	store := newMemStore()
	_ = store.SaveGenKw(ctx, "KW", 0, GenKwValues{Keys: []string{"A", "B"}, Values: []float64{0.123456789, 1234567}})

	runPath := filepath.Join(dir, "run0")
	if err := cfg.Materialize(ctx, store, runPath, 0); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	got := readTestFile(t, filepath.Join(runPath, "out", "kw.txt"))
	want := "MULT 0.123457\nPORO 1.23457e+06\nKEEP <UNKNOWN>\n"
	if got != want {
		t.Errorf("rendered template = %q, want %q", got, want)
	}
}

func TestGenKwMaterializeSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := setupGenKw(t, dir)
	ctx := context.Background()
	store := newMemStore()
	_ = store.SaveGenKw(ctx, "KW", 0, GenKwValues{Keys: []string{"A"}, Values: []float64{1}})

	runPath := filepath.Join(dir, "run0")
	err := cfg.Materialize(ctx, store, runPath, 0)
	var mismatch *SizeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected SizeMismatchError, got %v", err)
	}
	if mismatch.Declared != 2 || mismatch.Got != 1 {
		t.Errorf("unexpected mismatch %+v", mismatch)
	}
	if _, err := os.Stat(filepath.Join(runPath, "out", "kw.txt")); !os.IsNotExist(err) {
		t.Error("output written despite size mismatch")
	}
}

func TestRenderTemplate(t *testing.T) {
	values := GenKwValues{Keys: []string{"X", "Y"}, Values: []float64{1, 0.5}}
	tests := []struct {
		tmpl string
		want string
	}{
		{"<X>", "1"},
		{"a=<X> b=<Y>", "a=1 b=0.5"},
		{"< X >", "1"},
		{"<Z>", "<Z>"},
		{"no tags", "no tags"},
	}
	for _, tt := range tests {
		if got := RenderTemplate(tt.tmpl, values); got != tt.want {
			t.Errorf("RenderTemplate(%q) = %q, want %q", tt.tmpl, got, tt.want)
		}
	}
}

func TestFormatSignificant(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1"},
		{0.1, "0.1"},
		{3.14159265, "3.14159"},
		{1e-5, "1e-05"},
		{123456789, "1.23457e+08"},
	}
	for _, tt := range tests {
		if got := FormatSignificant(tt.in); got != tt.want {
			t.Errorf("FormatSignificant(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
