package parameters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu     sync.Mutex
	genKw  map[string]GenKwValues
	ext    map[string]json.RawMessage
	arrays map[string]Array
}

func newMemStore() *memStore {
	return &memStore{
		genKw:  make(map[string]GenKwValues),
		ext:    make(map[string]json.RawMessage),
		arrays: make(map[string]Array),
	}
}

func cell(name string, real int) string {
	return fmt.Sprintf("%s/%d", name, real)
}

func (m *memStore) SaveGenKw(_ context.Context, name string, real int, v GenKwValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genKw[cell(name, real)] = v
	return nil
}

func (m *memStore) LoadGenKw(_ context.Context, name string, real int) (GenKwValues, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.genKw[cell(name, real)]
	if !ok {
		return GenKwValues{}, fmt.Errorf("no %s for realization %d", name, real)
	}
	return v, nil
}

func (m *memStore) SaveExtParam(_ context.Context, name string, real int, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ext[cell(name, real)] = data
	return nil
}

func (m *memStore) LoadExtParam(_ context.Context, name string, real int) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.ext[cell(name, real)]
	if !ok {
		return nil, fmt.Errorf("no %s for realization %d", name, real)
	}
	return v, nil
}

func (m *memStore) SaveArray(_ context.Context, name string, real int, arr Array) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arrays[cell(name, real)] = arr
	return nil
}

func (m *memStore) LoadArray(_ context.Context, name string, real int) (Array, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.arrays[cell(name, real)]
	if !ok {
		return Array{}, fmt.Errorf("no %s for realization %d", name, real)
	}
	return v, nil
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
