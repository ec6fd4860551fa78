package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

// memEnsemble is an in-memory EnsembleStore for tests.
type memEnsemble struct {
	mu     sync.Mutex
	meta   *Ensemble
	states []RealizationState
	genKw  map[string]parameters.GenKwValues
	ext    map[string]json.RawMessage
	arrays map[string]parameters.Array
	syncs  int
}

func newMemEnsemble(name string, size, iteration int) *memEnsemble {
	states := make([]RealizationState, size)
	for i := range states {
		states[i] = RealizationUndefined
	}
	return &memEnsemble{
		meta:   &Ensemble{ID: uuid.New().String(), Name: name, Size: size, Iteration: iteration},
		states: states,
		genKw:  make(map[string]parameters.GenKwValues),
		ext:    make(map[string]json.RawMessage),
		arrays: make(map[string]parameters.Array),
	}
}

func cell(name string, real int) string {
	return fmt.Sprintf("%s/%d", name, real)
}

func (m *memEnsemble) Ensemble() *Ensemble { return m.meta }

func (m *memEnsemble) SaveGenKw(_ context.Context, name string, real int, v parameters.GenKwValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genKw[cell(name, real)] = v
	return nil
}

func (m *memEnsemble) LoadGenKw(_ context.Context, name string, real int) (parameters.GenKwValues, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.genKw[cell(name, real)]
	if !ok {
		return parameters.GenKwValues{}, fmt.Errorf("no %s for realization %d", name, real)
	}
	return v, nil
}

func (m *memEnsemble) SaveExtParam(_ context.Context, name string, real int, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ext[cell(name, real)] = data
	return nil
}

func (m *memEnsemble) LoadExtParam(_ context.Context, name string, real int) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.ext[cell(name, real)]
	if !ok {
		return nil, fmt.Errorf("no %s for realization %d", name, real)
	}
	return v, nil
}

func (m *memEnsemble) SaveArray(_ context.Context, name string, real int, arr parameters.Array) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrays[cell(name, real)] = arr
	return nil
}

func (m *memEnsemble) LoadArray(_ context.Context, name string, real int) (parameters.Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.arrays[cell(name, real)]
	if !ok {
		return parameters.Array{}, fmt.Errorf("no %s for realization %d", name, real)
	}
	return v, nil
}

func (m *memEnsemble) RealizationStates(context.Context) ([]RealizationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RealizationState(nil), m.states...), nil
}

func (m *memEnsemble) SetRealizationState(_ context.Context, real int, state RealizationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[real] = state
	return nil
}

func (m *memEnsemble) RealizationMaskFromStates(_ context.Context, states ...RealizationState) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mask := make([]bool, len(m.states))
	for i, s := range m.states {
		for _, want := range states {
			if s == want {
				mask[i] = true
			}
		}
	}
	return mask, nil
}

func (m *memEnsemble) Sync(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

func (m *memEnsemble) state(real int) RealizationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[real]
}

// memStorage is an in-memory Storage for tests.
type memStorage struct {
	mu        sync.Mutex
	ensembles []*memEnsemble
}

func (s *memStorage) CreateExperiment(context.Context, string, json.RawMessage) (string, error) {
	return uuid.New().String(), nil
}

func (s *memStorage) CreateEnsemble(_ context.Context, expID, name string, size, iteration int, prior EnsembleStore) (EnsembleStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := newMemEnsemble(name, size, iteration)
	e.meta.ExperimentID = expID
	if prior != nil {
		e.meta.PriorID = prior.Ensemble().ID
	}
	s.ensembles = append(s.ensembles, e)
	return e, nil
}

func (s *memStorage) GetEnsemble(_ context.Context, id string) (EnsembleStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.ensembles {
		if e.meta.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("ensemble %s not found", id)
}

func (s *memStorage) GetEnsembleByName(_ context.Context, expID, name string) (EnsembleStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.ensembles {
		if e.meta.ExperimentID == expID && e.meta.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("ensemble %s not found", name)
}

func (s *memStorage) ListEnsembles(_ context.Context, expID string) ([]*Ensemble, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Ensemble
	for _, e := range s.ensembles {
		if e.meta.ExperimentID == expID {
			out = append(out, e.meta)
		}
	}
	return out, nil
}

// mockEventPublisher records published events.
type mockEventPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockEventPublisher) Publish(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventPublisher) Subscribe(context.Context, EventFilter) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

func (m *mockEventPublisher) Unsubscribe(context.Context, string) error {
	return nil
}

func (m *mockEventPublisher) ofType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// testSetup holds an orchestrator over a temporary experiment directory with
// one GEN_KW parameter "COEFFS" of two scalars.
type testSetup struct {
	dir  string
	orch *Orchestrator
	kw   *parameters.GenKwConfig
}

func newTestSetup(t *testing.T, mutate func(*Options)) *testSetup {
	t.Helper()
	dir := t.TempDir()

	tmpl := writeTestFile(t, filepath.Join(dir, "coeffs.tmpl"), "A = <A>\nB = <B>\n")
	a, err := parameters.NewPrior("A", parameters.PriorUniform, []float64{0, 1})
	if err != nil {
		t.Fatalf("NewPrior: %v", err)
	}
	b, err := parameters.NewPrior("B", parameters.PriorNormal, []float64{10, 2})
	if err != nil {
		t.Fatalf("NewPrior: %v", err)
	}
	kw := parameters.NewGenKwConfig("COEFFS", tmpl, "coeffs.txt", []parameters.Prior{a, b})

	ec := parameters.NewEnsembleConfig()
	if err := ec.Add(kw); err != nil {
		t.Fatalf("Add: %v", err)
	}

	opts := Options{
		ConfigFile:     filepath.Join(dir, "model.ert"),
		EnsembleConfig: ec,
		RunpathFormat:  "simulations/realization-<IENS>/iter-<ITER>",
		JobnameFormat:  "job<IENS>",
		RandomSeed:     "42",
		ForwardModel: []ForwardModelStep{{
			Name:       "SIM",
			Executable: "/bin/echo",
			Arguments:  []string{"<IENS>", "<ITER>", "<ERT-CASE>"},
		}},
		EnvVars: map[string]string{"CASE": "<ERTCASE>"},
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	orch, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &testSetup{dir: dir, orch: orch, kw: kw}
}

func writeTestFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
