package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.starlark.net/starlark"
)

func TestStarlarkEvaluator_Run(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	tests := []struct {
		name    string
		script  string
		input   map[string]any
		global  string
		want    string
		wantErr bool
	}{
		{name: "arithmetic", script: "result = 2 + 2\n", global: "result", want: "4"},
		{
			name:   "input globals",
			script: "doubled = [n * 2 for n in counts]\n",
			input:  map[string]any{"counts": []int{1, 2}},
			global: "doubled",
			want:   "[2, 4]",
		},
		{
			name:   "nested input",
			script: "size = ensemble[\"size\"]\n",
			input:  map[string]any{"ensemble": map[string]any{"name": "prior", "size": 10}},
			global: "size",
			want:   "10",
		},
		{name: "math module", script: "root = math.sqrt(16.0)\n", global: "root", want: "4.0"},
		{name: "json module", script: "s = json.encode({\"b\": True})\n", global: "s", want: `"{\"b\":true}"`},
		{name: "syntax error", script: "x = \n", wantErr: true},
		{name: "runtime failure", script: "fail(\"nope\")\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			globals, err := evaluator.Run(context.Background(), "test.star", tt.script, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr {
				if !strings.HasPrefix(err.Error(), "test.star") {
					t.Errorf("expected the file name in %q", err)
				}
				return
			}
			if got := globals[tt.global].String(); got != tt.want {
				t.Errorf("%s = %s, want %s", tt.global, got, tt.want)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50 * time.Millisecond)

	start := time.Now()
	_, err := evaluator.Run(context.Background(), "loop.star", `
def spin():
    x = 0
    for i in range(100000000):
        x += i
    return x

result = spin()
`, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout in error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation took too long")
	}
}

func TestStarlarkEvaluator_ContextCancel(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := evaluator.Run(ctx, "loop.star", "x = [i for i in range(100000000)]\n", nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if strings.Contains(err.Error(), "timeout") {
		t.Errorf("cancellation reported as timeout: %v", err)
	}
}

func TestStarlarkEvaluator_Print(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Second)
	var lines []string
	evaluator.Print = func(msg string) { lines = append(lines, msg) }

	if _, err := evaluator.Run(context.Background(), "print.star", "print(\"hello\", 1)\n", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(lines) != 1 || lines[0] != "hello 1" {
		t.Errorf("unexpected print output %v", lines)
	}
}

func TestToStarlarkValue(t *testing.T) {
	v, err := ToStarlarkValue(map[string]any{
		"b": []string{"x"},
		"a": map[string]int{"n": 1},
	})
	if err != nil {
		t.Fatalf("ToStarlarkValue failed: %v", err)
	}

	dict, ok := v.(*starlark.Dict)
	if !ok {
		t.Fatalf("expected dict, got %s", v.Type())
	}
	keys := dict.Keys()
	if len(keys) != 2 || keys[0] != starlark.String("a") {
		t.Errorf("expected sorted keys, got %v", keys)
	}

	if _, err := ToStarlarkValue(make(chan int)); err == nil {
		t.Error("expected error for a value without JSON form")
	}
}

func TestDecodeValue(t *testing.T) {
	globals, err := NewStarlarkEvaluator(time.Second).Run(context.Background(), "decode.star", `
ok = struct(name = "x", num_realizations = 3)
extra = {"name": "x", "bogus": True}
`, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var cfg ExperimentConfig
	if err := DecodeValue(globals["ok"], &cfg); err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	if cfg.Name != "x" || cfg.NumRealizations != 3 {
		t.Errorf("unexpected config %+v", cfg)
	}

	if err := DecodeValue(globals["extra"], &ExperimentConfig{}); err == nil {
		t.Error("expected error for an unknown field")
	}
}
