package parameters

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// TransformFunc maps one cell value.
type TransformFunc func(float64) float64

// Transforms lists the FIELD transform functions by name.
var Transforms = map[string]TransformFunc{
	"LN":          math.Log,
	"LOG":         math.Log,
	"LN0":         func(x float64) float64 { return math.Log(x + 0.000001) },
	"LOG10":       math.Log10,
	"EXP":         math.Exp,
	"EXP0":        func(x float64) float64 { return math.Exp(x) - 0.000001 },
	"POW10":       func(x float64) float64 { return math.Pow(10, x) },
	"TRUNC_POW10": func(x float64) float64 { return math.Max(math.Pow(10, x), 0.001) },
}

// FieldConfig is a 3D grid property parameter.
type FieldConfig struct {
	key             string
	grid            Grid
	outputFile      string
	initFiles       string
	forwardInit     bool
	inputTransform  string
	outputTransform string
	truncMin        *float64
	truncMax        *float64
}

// ParseField parses "NAME PARAMETER OUTPUT [INIT_FILES:..] [INIT_TRANSFORM:..]
// [OUTPUT_TRANSFORM:..] [MIN:..] [MAX:..] [FORWARD_INIT:..]". A grid is required.
func ParseField(args []string, grid *Grid, baseDir string) (*FieldConfig, error) {
	if grid == nil {
		return nil, fmt.Errorf("in order to use the FIELD keyword, a GRID must be supplied")
	}
	if len(args) < 3 {
		return nil, fmt.Errorf("FIELD needs NAME PARAMETER OUTPUT, got %q", strings.Join(args, " "))
	}
	name := args[0]
	options := OptionDict(args, 2)

	if _, ok := options[OptInputTransform]; ok {
		log.Warn().Str("field", name).
			Msgf("Got INPUT_TRANSFORM for FIELD: %s, this has no effect and can be removed", name)
	}

	cfg := &FieldConfig{
		key:             name,
		grid:            *grid,
		outputFile:      args[2],
		forwardInit:     ParseBool(valueOr(options, OptForwardInit, "FALSE")),
		inputTransform:  options[OptInitTransform],
		outputTransform: options[OptOutputTransform],
	}
	cfg.initFiles = options[OptInitFiles]
	if !cfg.forwardInit {
		cfg.initFiles = resolvePath(cfg.initFiles, baseDir)
	}

	var errs []string
	if cfg.inputTransform != "" {
		if _, ok := Transforms[cfg.inputTransform]; !ok {
			errs = append(errs, fmt.Sprintf("FIELD INIT_TRANSFORM:%s is an invalid function", cfg.inputTransform))
		}
	}
	if cfg.outputTransform != "" {
		if _, ok := Transforms[cfg.outputTransform]; !ok {
			errs = append(errs, fmt.Sprintf("FIELD OUTPUT_TRANSFORM:%s is an invalid function", cfg.outputTransform))
		}
	}
	if cfg.initFiles == "" {
		errs = append(errs, "Missing required INIT_FILES")
	}
	if ext := strings.ToLower(filepath.Ext(cfg.outputFile)); ext != ".grdecl" {
		errs = append(errs, fmt.Sprintf("unsupported output format %q, only .grdecl is supported", ext))
	}
	for opt, dst := range map[string]**float64{OptMin: &cfg.truncMin, OptMax: &cfg.truncMax} {
		raw, ok := options[opt]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s value %q", opt, raw))
			continue
		}
		*dst = &v
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Keyword: string(ImplField), Name: name, Errors: errs}
	}
	return cfg, nil
}

// Describe implements Config.
func (c *FieldConfig) Describe() Meta {
	return Meta{
		Key:         c.key,
		Impl:        ImplField,
		Var:         VarParameter,
		ForwardInit: c.forwardInit,
		InitFile:    c.initFiles,
		OutputFile:  c.outputFile,
	}
}

// Grid returns the field's grid dimensions.
func (c *FieldConfig) Grid() Grid {
	return c.grid
}

// Sample implements Config by loading the per-realization init files.
func (c *FieldConfig) Sample(ctx context.Context, store Store, realizations []int, _ Seed) error {
	for _, real := range realizations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.load(ctx, store, realizationFile(c.initFiles, real), real); err != nil {
			return err
		}
	}
	return nil
}

// LoadFromRunPath implements RunPathLoader for forward-initialised fields.
func (c *FieldConfig) LoadFromRunPath(ctx context.Context, store Store, runPath string, realization int) error {
	if !c.forwardInit {
		return nil
	}
	return c.load(ctx, store, RunPathFile(runPath, realizationFile(c.initFiles, realization)), realization)
}

func (c *FieldConfig) load(ctx context.Context, store Store, path string, realization int) error {
	values, err := ReadGRDECL(path, "")
	if err != nil {
		return fmt.Errorf("failed to load field %s: %w", c.key, err)
	}
	if len(values) != c.grid.Size() {
		return fmt.Errorf("field %s from %s has %d values, grid has %d cells", c.key, path, len(values), c.grid.Size())
	}
	if fn := Transforms[c.inputTransform]; fn != nil {
		for i, v := range values {
			values[i] = fn(v)
		}
	}
	arr := Array{Shape: []int{c.grid.NX, c.grid.NY, c.grid.NZ}, Data: values}
	return store.SaveArray(ctx, c.key, realization, arr)
}

// Materialize implements Config.
func (c *FieldConfig) Materialize(ctx context.Context, store Store, runPath string, realization int) error {
	arr, err := store.LoadArray(ctx, c.key, realization)
	if err != nil {
		return fmt.Errorf("failed to load field %s for realization %d: %w", c.key, realization, err)
	}

	out := make([]float64, len(arr.Data))
	fn := Transforms[c.outputTransform]
	for i, v := range arr.Data {
		if fn != nil {
			v = fn(v)
		}
		if c.truncMin != nil && v < *c.truncMin {
			v = *c.truncMin
		}
		if c.truncMax != nil && v > *c.truncMax {
			v = *c.truncMax
		}
		out[i] = v
	}
	return WriteGRDECL(RunPathFile(runPath, c.outputFile), c.key, out)
}

func (c *FieldConfig) isConfig() {}
