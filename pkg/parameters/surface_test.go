package parameters

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

const testIrap = `-996 2 25.0 25.0
0.0 25.0 0.0 50.0
2 0.0 0.0 0.0
0 0 0 0 0 0 0
1.0 2.0 3.0 4.0
`

func TestReadIrapSurface(t *testing.T) {
	path := writeTestFile(t, filepath.Join(t.TempDir(), "base.irap"), testIrap)
	s, err := ReadIrapSurface(path)
	if err != nil {
		t.Fatalf("ReadIrapSurface() error = %v", err)
	}
	if s.NX != 2 || s.NY != 2 {
		t.Errorf("dimensions = %dx%d", s.NX, s.NY)
	}
	if !reflect.DeepEqual(s.Values, []float64{1, 2, 3, 4}) {
		t.Errorf("values = %v", s.Values)
	}
}

func TestParseSurfaceCollectsAllErrors(t *testing.T) {
	_, err := ParseSurface([]string{"TOP", "INIT_FILES:top.irap", "BASE_SURFACE:missing.irap"}, t.TempDir())

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 errors (OUTPUT_FILE, INIT_FILES %%d, BASE_SURFACE), got %v", verr.Errors)
	}
}

func TestParseSurfaceForwardInitAllowsPlainInitFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "base.irap"), testIrap)

	cfg, err := ParseSurface([]string{
		"TOP", "OUTPUT_FILE:surf.irap", "INIT_FILES:top.irap", "BASE_SURFACE:base.irap", "FORWARD_INIT:True",
	}, dir)
	if err != nil {
		t.Fatalf("ParseSurface() error = %v", err)
	}
	if !cfg.Describe().ForwardInit {
		t.Error("expected forward init")
	}
}

func TestSurfaceSampleAndMaterialize(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "base.irap"), testIrap)
	writeTestFile(t, filepath.Join(dir, "init", "top_0.irap"), testIrap)

	cfg, err := ParseSurface([]string{
		"TOP", "OUTPUT_FILE:surf/top.irap", "INIT_FILES:init/top_%d.irap", "BASE_SURFACE:base.irap",
	}, dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	store := newMemStore()
	if err := cfg.Sample(ctx, store, []int{0}, Seed{}); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	arr, _ := store.LoadArray(ctx, "TOP", 0)
	arr.Data = []float64{5, 6, 7, 8}
	_ = store.SaveArray(ctx, "TOP", 0, arr)

	runPath := filepath.Join(dir, "run")
	if err := cfg.Materialize(ctx, store, runPath, 0); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	out, err := ReadIrapSurface(filepath.Join(runPath, "surf", "top.irap"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.Header, cfg.base.Header) {
		t.Errorf("header not preserved: %v", out.Header)
	}
	if !reflect.DeepEqual(out.Values, []float64{5, 6, 7, 8}) {
		t.Errorf("values = %v", out.Values)
	}
}
