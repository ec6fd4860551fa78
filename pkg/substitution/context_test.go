package substitution

import "testing"

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := New("<A>", "1")
	next := base.With("<B>", "2")

	if base.Has("<B>") {
		t.Fatal("With mutated the receiver")
	}
	if !next.Has("<A>") || !next.Has("<B>") {
		t.Fatalf("expected both keys in derived context, got %v", next.Keys())
	}
}

func TestWithOverwriteKeepsPosition(t *testing.T) {
	c := New("<A>", "1", "<B>", "2").With("<A>", "3")

	keys := c.Keys()
	if len(keys) != 2 || keys[0] != "<A>" || keys[1] != "<B>" {
		t.Fatalf("unexpected key order: %v", keys)
	}
	if v, _ := c.Get("<A>"); v != "3" {
		t.Errorf("expected overwritten value 3, got %s", v)
	}
}

func TestWithCaseSetsBothAliases(t *testing.T) {
	c := Context{}.WithCase("prior")

	for _, key := range []string{KeyCase, KeyCaseAlt} {
		v, ok := c.Get(key)
		if !ok || v != "prior" {
			t.Errorf("expected %s=prior, got %q (present=%v)", key, v, ok)
		}
	}

	renamed := c.WithCase("posterior")
	if v, _ := renamed.Get(KeyCaseAlt); v != "posterior" {
		t.Errorf("aliases out of sync after rename: %s", v)
	}
	if v, _ := c.Get(KeyCase); v != "prior" {
		t.Errorf("original context changed: %s", v)
	}
}

func TestSubstitute(t *testing.T) {
	c := New(
		KeyEclBase, "name<IENS>",
		"<CASE_DIR>", "/data/<ERTCASE>",
	).WithCase("prior")

	tests := []struct {
		name     string
		input    string
		real     int
		iter     int
		expected string
	}{
		{
			name:     "realization and iteration",
			input:    "realization-<IENS>/iter-<ITER>",
			real:     3,
			iter:     1,
			expected: "realization-3/iter-1",
		},
		{
			name:     "nested placeholder",
			input:    "<ECL_BASE>.DATA",
			real:     7,
			expected: "name7.DATA",
		},
		{
			name:     "case alias chain",
			input:    "<CASE_DIR>/<IENS>",
			real:     0,
			expected: "/data/prior/0",
		},
		{
			name:     "unknown placeholder left verbatim",
			input:    "<UNKNOWN>/<IENS>",
			real:     2,
			expected: "<UNKNOWN>/2",
		},
		{
			name:     "no placeholders",
			input:    "plain",
			expected: "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.SubstituteRealIter(tt.input, tt.real, tt.iter)
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSubstituteIsIdempotent(t *testing.T) {
	c := New("<A>", "alpha", "<B>", "<A>-beta")

	once := c.Substitute("<B>/<A>")
	twice := c.Substitute(once)
	if once != twice {
		t.Errorf("substitution not idempotent: %q then %q", once, twice)
	}
	if once != "alpha-beta/alpha" {
		t.Errorf("unexpected result %q", once)
	}
}

func TestSubstituteTerminatesOnCycles(t *testing.T) {
	c := New("<A>", "<B>x", "<B>", "<A>")

	// Must return rather than loop forever.
	_ = c.Substitute("<A>")
}

func TestFromMapIsDeterministic(t *testing.T) {
	m := map[string]string{"<Z>": "z", "<A>": "a", "<M>": "m"}

	keys := FromMap(m).Keys()
	if len(keys) != 3 || keys[0] != "<A>" || keys[1] != "<M>" || keys[2] != "<Z>" {
		t.Fatalf("unexpected key order: %v", keys)
	}
}
