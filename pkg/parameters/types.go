package parameters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ImplType identifies the concrete parameter variant.
type ImplType string

const (
	// ImplGenKw is a named scalar vector sampled from priors and rendered into a template.
	ImplGenKw ImplType = "GEN_KW"

	// ImplExtParam is an opaque JSON value provided from outside the orchestrator.
	ImplExtParam ImplType = "EXT_PARAM"

	// ImplField is a 3D grid property.
	ImplField ImplType = "FIELD"

	// ImplSurface is a 2D surface.
	ImplSurface ImplType = "SURFACE"

	// ImplGenData is a report-step indexed result vector produced by the forward model.
	ImplGenData ImplType = "GEN_DATA"
)

// Validate checks if the implementation type is known.
func (t ImplType) Validate() error {
	switch t {
	case ImplGenKw, ImplExtParam, ImplField, ImplSurface, ImplGenData:
		return nil
	default:
		return fmt.Errorf("invalid parameter implementation type: %s", t)
	}
}

// VarType classifies how a configured key takes part in an experiment.
type VarType string

const (
	// VarParameter is sampled or loaded before the forward model runs and updated by analysis.
	VarParameter VarType = "PARAMETER"

	// VarDynamicResult is produced by the forward model.
	VarDynamicResult VarType = "DYNAMIC_RESULT"

	// VarExtParameter is a parameter whose values are supplied externally.
	VarExtParameter VarType = "EXT_PARAMETER"
)

// IsParameter reports whether keys of this type are written into run paths
// before the forward model runs.
func (v VarType) IsParameter() bool {
	return v == VarParameter || v == VarExtParameter
}

// Meta describes a configured key independently of its variant.
type Meta struct {
	// Key is the unique name of the parameter or response.
	Key string `json:"key"`

	// Impl is the variant tag.
	Impl ImplType `json:"impl_type"`

	// Var is the variable type tag.
	Var VarType `json:"var_type"`

	// ForwardInit marks values that are produced by the first simulation
	// instead of being sampled up front.
	ForwardInit bool `json:"forward_init"`

	// InitFile is an optional initialization file pattern. "%d" is replaced
	// by the realization index.
	InitFile string `json:"init_file,omitempty"`

	// OutputFile is where the value is written inside a run path.
	OutputFile string `json:"output_file,omitempty"`
}

// Config is the closed set of parameter variants. Every variant can
// describe itself, sample or load its prior values into a store, and
// materialize stored values into a run path.
type Config interface {
	// Describe returns the variant-independent metadata.
	Describe() Meta

	// Sample populates the store with prior values for the given realizations,
	// either by drawing from the configured distribution or by loading
	// initialization files.
	Sample(ctx context.Context, store Store, realizations []int, seed Seed) error

	// Materialize writes the stored value of one realization into runPath.
	Materialize(ctx context.Context, store Store, runPath string, realization int) error

	isConfig()
}

// RunPathLoader is implemented by variants whose values are read back from a
// run path after the forward model has completed.
type RunPathLoader interface {
	LoadFromRunPath(ctx context.Context, store Store, runPath string, realization int) error
}

// Store is the subset of the ensemble storage that parameter variants read
// and write. Implementations must be safe for concurrent reads.
type Store interface {
	// SaveGenKw stores the scalar vector of one realization.
	SaveGenKw(ctx context.Context, name string, realization int, values GenKwValues) error

	// LoadGenKw loads the scalar vector of one realization.
	LoadGenKw(ctx context.Context, name string, realization int) (GenKwValues, error)

	// SaveExtParam stores an opaque JSON value.
	SaveExtParam(ctx context.Context, name string, realization int, data json.RawMessage) error

	// LoadExtParam loads an opaque JSON value.
	LoadExtParam(ctx context.Context, name string, realization int) (json.RawMessage, error)

	// SaveArray stores a numeric array.
	SaveArray(ctx context.Context, name string, realization int, arr Array) error

	// LoadArray loads a numeric array.
	LoadArray(ctx context.Context, name string, realization int) (Array, error)
}

// GenKwValues is an ordered scalar vector keyed by scalar name.
type GenKwValues struct {
	Keys   []string  `json:"keys"`
	Values []float64 `json:"values"`
}

// Len returns the number of scalars.
func (v GenKwValues) Len() int {
	return len(v.Values)
}

// Get returns the value of a named scalar.
func (v GenKwValues) Get(name string) (float64, bool) {
	for i, k := range v.Keys {
		if k == name && i < len(v.Values) {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Array is a dense numeric array with an explicit shape.
type Array struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"-"`
}

// Size returns the element count implied by the shape.
func (a Array) Size() int {
	if len(a.Shape) == 0 {
		return len(a.Data)
	}
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// SizeMismatchError reports a stored vector whose length disagrees with the
// declared configuration.
type SizeMismatchError struct {
	Key      string
	Declared int
	Got      int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("the configuration of %s parameter %s is of size %d, expected %d",
		ImplGenKw, e.Key, e.Declared, e.Got)
}

// ValidationError collects every problem found in one keyword definition.
type ValidationError struct {
	Keyword string
	Name    string
	Errors  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s incorrectly configured: %s", e.Keyword, e.Name, strings.Join(e.Errors, "\n"))
}

// realizationFile replaces the first "%d" in pattern with the realization index.
func realizationFile(pattern string, realization int) string {
	return strings.Replace(pattern, "%d", fmt.Sprintf("%d", realization), 1)
}
