package runpaths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/histmatch/pkg/substitution"
)

func substituter() SubstituteFunc {
	return substitution.Context{}.SubstituteRealIter
}

func TestWriteRunpathList(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	rp, err := New("job%d", "realization-%d/iteration-%d", "manifest/runpath_list", substituter())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := rp.WriteRunpathList([]int{0, 1}, []int{3, 4}); err != nil {
		t.Fatalf("WriteRunpathList failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "manifest", "runpath_list"))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}

	expected := strings.Join([]string{
		"003  " + cwd + "/realization-3/iteration-0  job3  000",
		"004  " + cwd + "/realization-4/iteration-0  job4  000",
		"003  " + cwd + "/realization-3/iteration-1  job3  001",
		"004  " + cwd + "/realization-4/iteration-1  job4  001",
	}, "\n") + "\n"

	if string(data) != expected {
		t.Errorf("unexpected manifest:\n%s\nexpected:\n%s", data, expected)
	}
}

func TestWriteRunpathListOverwrites(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "list")

	rp, err := New("job<IENS>", filepath.Join(dir, "r<IENS>"), manifest, substituter())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := rp.WriteRunpathList([]int{0}, []int{0, 1, 2}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := rp.WriteRunpathList([]int{1}, []int{5}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	data, _ := os.ReadFile(manifest)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected manifest to be overwritten, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "005  ") || !strings.HasSuffix(lines[0], "  001") {
		t.Errorf("unexpected line %q", lines[0])
	}
}

func TestGetPathsAreAbsoluteAndResolved(t *testing.T) {
	t.Chdir(t.TempDir())

	rp, err := New("", "", "", substituter())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	paths := rp.GetPaths([]int{0, 1, 2}, 4)
	for i, p := range paths {
		if !filepath.IsAbs(p) {
			t.Errorf("path %d is not absolute: %s", i, p)
		}
		if strings.Contains(p, "<IENS>") || strings.Contains(p, "<ITER>") {
			t.Errorf("path %d has unresolved placeholders: %s", i, p)
		}
		if !strings.HasSuffix(p, filepath.Join("simulations", "realization-"+string(rune('0'+i)), "iter-4")) {
			t.Errorf("unexpected path %s", p)
		}
	}
}

func TestGetJobnames(t *testing.T) {
	c := substitution.New("<CONFIG_FILE>", "snake_oil")
	rp, err := New("", "", "", c.SubstituteRealIter)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	names := rp.GetJobnames([]int{0, 10}, 0)
	if names[0] != "snake_oil-0" || names[1] != "snake_oil-10" {
		t.Errorf("unexpected job names %v", names)
	}
}

func TestConvertLegacyFormat(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"job%d", "job<IENS>"},
		{"real-%d/iter-%d", "real-<IENS>/iter-<ITER>"},
		{"a%d%d%d", "a<IENS><ITER>%d"},
		{"no-format", "no-format"},
	}
	for _, tt := range tests {
		if got := ConvertLegacyFormat(tt.in); got != tt.out {
			t.Errorf("ConvertLegacyFormat(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}
}

func TestNewWithoutSubstitution(t *testing.T) {
	rp, err := New("job", "/abs/path", "m", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := rp.GetPaths([]int{1}, 0)[0]; got != "/abs/path" {
		t.Errorf("unexpected path %s", got)
	}
}
