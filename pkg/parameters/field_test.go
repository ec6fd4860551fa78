package parameters

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestReadGRDECL(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, filepath.Join(dir, "poro.grdecl"), `-- header comment
PORO
0.1 0.2 -- inline comment
3*0.5
0.7 /
`)
	got, err := ReadGRDECL(path, "PORO")
	if err != nil {
		t.Fatalf("ReadGRDECL() error = %v", err)
	}
	want := []float64{0.1, 0.2, 0.5, 0.5, 0.5, 0.7}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadGRDECL() = %v, want %v", got, want)
	}

	if _, err := ReadGRDECL(path, "PERMX"); err == nil {
		t.Error("expected error for missing keyword")
	}
}

func TestWriteGRDECLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.grdecl")
	values := []float64{1, 2.5, 3, 4, 5, 6, 7.25}

	if err := WriteGRDECL(path, "PERMX", values); err != nil {
		t.Fatal(err)
	}
	text := readTestFile(t, path)
	if !strings.HasPrefix(text, "PERMX\n1 2.5 3 4 5 6\n7.25\n/\n") {
		t.Errorf("unexpected layout:\n%s", text)
	}
	got, err := ReadGRDECL(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, values) {
		t.Errorf("round trip = %v, want %v", got, values)
	}
}

func TestGRDECLGridLoader(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, filepath.Join(dir, "grid.grdecl"), "SPECGRID\n 2 3 1 1 F /\n")

	grid, err := GRDECLGridLoader{}.LoadGrid(path)
	if err != nil {
		t.Fatalf("LoadGrid() error = %v", err)
	}
	if grid != (Grid{NX: 2, NY: 3, NZ: 1}) || grid.Size() != 6 {
		t.Errorf("LoadGrid() = %+v", grid)
	}
}

func TestParseFieldRequiresGrid(t *testing.T) {
	if _, err := ParseField([]string{"PORO", "PARAMETER", "poro.grdecl", "INIT_FILES:p%d.grdecl"}, nil, "."); err == nil {
		t.Fatal("expected error without a grid")
	}
}

func TestParseFieldValidation(t *testing.T) {
	grid := &Grid{NX: 2, NY: 1, NZ: 1}
	_, err := ParseField([]string{"PORO", "PARAMETER", "poro.roff", "OUTPUT_TRANSFORM:NOPE", "MIN:x"}, grid, ".")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 4 {
		t.Errorf("expected 4 collected errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestFieldSampleAndMaterialize(t *testing.T) {
	dir := t.TempDir()
	grid := &Grid{NX: 2, NY: 2, NZ: 1}
	for _, real := range []string{"0", "1"} {
		writeTestFile(t, filepath.Join(dir, "init", "poro"+real+".grdecl"), "PORO\n1 10 100 1000 /\n")
	}

	cfg, err := ParseField([]string{
		"PORO", "PARAMETER", "poro.grdecl",
		"INIT_FILES:init/poro%d.grdecl", "INIT_TRANSFORM:LOG10", "OUTPUT_TRANSFORM:POW10", "MAX:500",
	}, grid, dir)
	if err != nil {
		t.Fatalf("ParseField() error = %v", err)
	}

	ctx := context.Background()
	store := newMemStore()
	if err := cfg.Sample(ctx, store, []int{0, 1}, Seed{}); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	arr, _ := store.LoadArray(ctx, "PORO", 1)
	if !reflect.DeepEqual(arr.Shape, []int{2, 2, 1}) {
		t.Errorf("shape = %v", arr.Shape)
	}
	if math.Abs(arr.Data[3]-3) > 1e-12 {
		t.Errorf("init transform not applied: %v", arr.Data)
	}

	runPath := filepath.Join(dir, "run")
	if err := cfg.Materialize(ctx, store, runPath, 1); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	got, err := ReadGRDECL(filepath.Join(runPath, "poro.grdecl"), "PORO")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 10, 100, 500}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("value %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFieldForwardInitLoadsFromRunPath(t *testing.T) {
	dir := t.TempDir()
	grid := &Grid{NX: 1, NY: 1, NZ: 2}
	cfg, err := ParseField([]string{"PERM", "PARAMETER", "perm.grdecl", "INIT_FILES:perm.grdecl", "FORWARD_INIT:TRUE"}, grid, dir)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Describe().ForwardInit {
		t.Fatal("expected forward init")
	}

	runPath := filepath.Join(dir, "run")
	writeTestFile(t, filepath.Join(runPath, "perm.grdecl"), "PERM\n5 6 /\n")

	ctx := context.Background()
	store := newMemStore()
	if err := cfg.LoadFromRunPath(ctx, store, runPath, 4); err != nil {
		t.Fatalf("LoadFromRunPath() error = %v", err)
	}
	arr, err := store.LoadArray(ctx, "PERM", 4)
	if err != nil || !reflect.DeepEqual(arr.Data, []float64{5, 6}) {
		t.Errorf("loaded %v, %v", arr.Data, err)
	}
}

func TestWriteFileReplacesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := writeTestFile(t, filepath.Join(dir, "target.txt"), "original")
	link := filepath.Join(dir, "run", "out.txt")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	if err := WriteFile(link, []byte("fresh")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	info, err := os.Lstat(link)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("symlink was not replaced")
	}
	if got := readTestFile(t, target); got != "original" {
		t.Errorf("write went through the symlink, target = %q", got)
	}
	if got := readTestFile(t, link); got != "fresh" {
		t.Errorf("file content = %q", got)
	}
}

func TestEnsureDirReplacesSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "elsewhere")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "run")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}

	if err := EnsureDir(link); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	info, err := os.Lstat(link)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
		t.Errorf("expected a plain directory, got mode %v", info.Mode())
	}
}

func TestRunPathFile(t *testing.T) {
	if got := RunPathFile("/run/0", "/abs/out.txt"); got != "/run/0/abs/out.txt" {
		t.Errorf("RunPathFile() = %s", got)
	}
	if got := RunPathFile("/run/0", "rel/out.txt"); got != "/run/0/rel/out.txt" {
		t.Errorf("RunPathFile() = %s", got)
	}
}
