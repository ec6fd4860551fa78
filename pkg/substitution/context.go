// Package substitution provides the placeholder context used to resolve
// run paths, job names, templates and forward-model arguments for a given
// realization and iteration.
package substitution

import (
	"sort"
	"strconv"
	"strings"
)

// Well-known placeholder keys.
const (
	KeyRealization = "<IENS>"
	KeyIteration   = "<ITER>"
	KeyRunpath     = "<RUNPATH>"
	KeyEclBase     = "<ECL_BASE>"
	KeyEclBaseAlt  = "<ECLBASE>"
	KeyConfigPath  = "<CONFIG_PATH>"
	KeyConfigFile  = "<CONFIG_FILE>"
	KeyConfigBase  = "<CONFIG_FILE_BASE>"
	KeyNumCPU      = "<NUM_CPU>"

	// KeyCase and KeyCaseAlt both resolve to the current ensemble name.
	KeyCase    = "<ERT-CASE>"
	KeyCaseAlt = "<ERTCASE>"
)

// maxDepth bounds repeated substitution passes so that self-referencing
// definitions terminate.
const maxDepth = 100

// Context is an ordered, immutable mapping from placeholder to value.
// Every mutating method returns a new Context; the receiver is never changed.
// The zero value is an empty context ready for use.
type Context struct {
	keys   []string
	values map[string]string
}

// New creates a context from alternating key/value arguments.
// A trailing key without a value is ignored.
func New(pairs ...string) Context {
	c := Context{}
	for i := 0; i+1 < len(pairs); i += 2 {
		c = c.With(pairs[i], pairs[i+1])
	}
	return c
}

// FromMap creates a context from a map. Keys are inserted in sorted order
// so the result is deterministic.
func FromMap(m map[string]string) Context {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := Context{}
	for _, k := range keys {
		c = c.With(k, m[k])
	}
	return c
}

// With returns a copy of the context with key bound to value. Overwriting an
// existing key keeps its original position.
func (c Context) With(key, value string) Context {
	next := Context{
		keys:   make([]string, len(c.keys), len(c.keys)+1),
		values: make(map[string]string, len(c.values)+1),
	}
	copy(next.keys, c.keys)
	for k, v := range c.values {
		next.values[k] = v
	}
	if _, exists := next.values[key]; !exists {
		next.keys = append(next.keys, key)
	}
	next.values[key] = value
	return next
}

// WithCase binds both ensemble-name aliases to name.
func (c Context) WithCase(name string) Context {
	return c.With(KeyCase, name).With(KeyCaseAlt, name)
}

// Get returns the value bound to key.
func (c Context) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is bound.
func (c Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns the bound keys in insertion order.
func (c Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of bound keys.
func (c Context) Len() int {
	return len(c.keys)
}

// ToMap returns a copy of the bindings.
func (c Context) ToMap() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Substitute replaces every bound key occurring in s with its value.
// Passes repeat until the text stops changing, so values that contain other
// placeholders are resolved as well. Unbound placeholders are left verbatim.
func (c Context) Substitute(s string) string {
	if len(c.keys) == 0 || s == "" {
		return s
	}
	for depth := 0; depth < maxDepth; depth++ {
		next := s
		for _, k := range c.keys {
			if k == "" {
				continue
			}
			next = strings.ReplaceAll(next, k, c.values[k])
		}
		if next == s {
			return next
		}
		s = next
	}
	return s
}

// SubstituteRealIter substitutes s with the realization and iteration
// placeholders bound in addition to the context's own keys.
func (c Context) SubstituteRealIter(s string, realization, iteration int) string {
	return c.
		With(KeyRealization, strconv.Itoa(realization)).
		With(KeyIteration, strconv.Itoa(iteration)).
		Substitute(s)
}
