package evaluator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/runpaths"
	"github.com/openfroyo/histmatch/pkg/stores"
	"github.com/openfroyo/histmatch/pkg/substitution"
)

func writeJobs(t *testing.T, runPath string, jobs ...engine.JobEntry) *engine.JobsFile {
	t.Helper()
	for i := range jobs {
		if jobs[i].Stdout == "" {
			jobs[i].Stdout = jobs[i].Name + ".stdout." + string(rune('0'+i))
		}
		if jobs[i].Stderr == "" {
			jobs[i].Stderr = jobs[i].Name + ".stderr." + string(rune('0'+i))
		}
	}
	jf := &engine.JobsFile{
		GlobalEnvironment: map[string]string{},
		GlobalUpdatePath:  map[string]string{},
		JobList:           jobs,
		RunID:             "run_0",
	}
	writeJobsFile(t, runPath, jf)
	return jf
}

func writeJobsFile(t *testing.T, runPath string, jf *engine.JobsFile) {
	t.Helper()
	data, err := json.MarshalIndent(jf, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal jobs: %v", err)
	}
	if err := os.MkdirAll(runPath, 0o755); err != nil {
		t.Fatalf("failed to create run path: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runPath, engine.JobsFileName), data, 0o644); err != nil {
		t.Fatalf("failed to write jobs file: %v", err)
	}
}

func shellJob(name, script string) engine.JobEntry {
	return engine.JobEntry{
		Name:       name,
		Executable: "sh",
		ArgList:    []string{"-c", script},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func assertStatus(t *testing.T, runPath string, want Status, contains ...string) {
	t.Helper()
	status, content, err := ReadStatus(runPath)
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if status != want {
		t.Fatalf("expected status %s, got %s (%s)", want, status, content)
	}
	for _, c := range contains {
		if !strings.Contains(content, c) {
			t.Errorf("expected ERROR to contain %q, got:\n%s", c, content)
		}
	}
}

// newRunContext creates an ensemble in a temporary SQLite store and a run
// context whose run paths live under a temp directory.
func newRunContext(t *testing.T, mask []bool) *engine.RunContext {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "storage.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	expID, err := store.CreateExperiment(ctx, "exp", nil)
	if err != nil {
		t.Fatalf("failed to create experiment: %v", err)
	}
	ens, err := store.CreateEnsemble(ctx, expID, "prior", len(mask), 0, nil)
	if err != nil {
		t.Fatalf("failed to create ensemble: %v", err)
	}

	subst := substitution.New()
	root := t.TempDir()
	paths, err := runpaths.New("sim-<IENS>", filepath.Join(root, runpaths.DefaultRunpathFormat), "", subst.SubstituteRealIter)
	if err != nil {
		t.Fatalf("failed to create runpaths: %v", err)
	}

	rc, err := engine.NewRunContext(ens, mask, 0, paths, subst)
	if err != nil {
		t.Fatalf("failed to create run context: %v", err)
	}
	for _, real := range rc.ActiveRealizations() {
		if err := os.MkdirAll(rc.At(real).RunPath, 0o755); err != nil {
			t.Fatalf("failed to create run path: %v", err)
		}
	}
	return rc
}

// fakeLoader records the mask it was asked to load and the realizations
// marked as failed.
type fakeLoader struct {
	mu        sync.Mutex
	mask      []bool
	failed    []int
	iteration int
	calls     int
	err       error
}

func (l *fakeLoader) MarkFailed(_ context.Context, _ engine.EnsembleStore, realizations []int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, realizations...)
	return nil
}

func (l *fakeLoader) LoadFromForwardModel(_ context.Context, _ engine.EnsembleStore, mask []bool, iteration int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.mask = append([]bool(nil), mask...)
	l.iteration = iteration
	if l.err != nil {
		return 0, l.err
	}
	return engine.CountActive(mask), nil
}

// funcDriver adapts a function to Driver.
type funcDriver func(ctx context.Context, arg engine.RunArg) error

func (f funcDriver) Name() string { return "func" }

func (f funcDriver) Run(ctx context.Context, arg engine.RunArg) error { return f(ctx, arg) }

// recordingEvents collects published events.
type recordingEvents struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *recordingEvents) Publish(_ context.Context, e *engine.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *recordingEvents) Subscribe(context.Context, engine.EventFilter) (<-chan engine.Event, error) {
	return nil, nil
}

func (r *recordingEvents) Unsubscribe(context.Context, string) error { return nil }

func (r *recordingEvents) count(t engine.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
