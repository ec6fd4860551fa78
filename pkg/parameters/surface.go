package parameters

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// irapHeaderLen is the number of header tokens of an IRAP classic ASCII file.
const irapHeaderLen = 19

// IrapUndefined marks an undefined node in IRAP files.
const IrapUndefined = 9999900.0

// Surface is a regular 2D surface read from an IRAP classic ASCII file.
type Surface struct {
	// Header keeps the raw header tokens so geometry round-trips exactly.
	Header []string

	NX, NY int

	Values []float64
}

// ReadIrapSurface reads an IRAP classic ASCII surface.
func ReadIrapSurface(path string) (*Surface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open surface %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)

	s := &Surface{}
	for len(s.Header) < irapHeaderLen && scanner.Scan() {
		s.Header = append(s.Header, scanner.Text())
	}
	if len(s.Header) < irapHeaderLen {
		return nil, fmt.Errorf("%s: truncated IRAP header", path)
	}
	if s.NY, err = strconv.Atoi(s.Header[1]); err != nil {
		return nil, fmt.Errorf("%s: invalid NY %q", path, s.Header[1])
	}
	if s.NX, err = strconv.Atoi(s.Header[8]); err != nil {
		return nil, fmt.Errorf("%s: invalid NX %q", path, s.Header[8])
	}

	s.Values = make([]float64, 0, s.NX*s.NY)
	for scanner.Scan() {
		v, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid value %q", path, scanner.Text())
		}
		s.Values = append(s.Values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(s.Values) != s.NX*s.NY {
		return nil, fmt.Errorf("%s: expected %d values, found %d", path, s.NX*s.NY, len(s.Values))
	}
	return s, nil
}

// Write writes the surface with values replacing its own.
func (s *Surface) Write(path string, values []float64) error {
	var buf bytes.Buffer
	for i, tok := range s.Header {
		buf.WriteString(tok)
		switch i {
		case 3, 7, 11, 18:
			buf.WriteByte('\n')
		default:
			buf.WriteByte(' ')
		}
	}
	for i, v := range values {
		buf.WriteString(strconv.FormatFloat(v, 'f', 4, 64))
		if (i+1)%6 == 0 || i == len(values)-1 {
			buf.WriteByte('\n')
		} else {
			buf.WriteByte(' ')
		}
	}
	return WriteFile(path, buf.Bytes())
}

// SurfaceConfig is a 2D surface parameter.
type SurfaceConfig struct {
	key         string
	outputFile  string
	initFiles   string
	baseSurface string
	forwardInit bool
	base        *Surface
}

// ParseSurface parses "NAME OUTPUT_FILE:.. INIT_FILES:.. BASE_SURFACE:.. [FORWARD_INIT:..]".
// Every problem with the definition is reported in one error.
func ParseSurface(args []string, baseDir string) (*SurfaceConfig, error) {
	if len(args) < 1 || args[0] == "" {
		return nil, fmt.Errorf("SURFACE needs a NAME")
	}
	name := args[0]
	options := OptionDict(args, 1)

	cfg := &SurfaceConfig{
		key:         name,
		outputFile:  options[OptOutputFile],
		initFiles:   options[OptInitFiles],
		baseSurface: resolvePath(options[OptBaseSurface], baseDir),
		forwardInit: ParseBool(valueOr(options, OptForwardInit, "FALSE")),
	}
	if !cfg.forwardInit {
		cfg.initFiles = resolvePath(cfg.initFiles, baseDir)
	}

	var errs []string
	if cfg.outputFile == "" {
		errs = append(errs, "Missing required OUTPUT_FILE")
	}
	switch {
	case cfg.initFiles == "":
		errs = append(errs, "Missing required INIT_FILES")
	case !cfg.forwardInit && !strings.Contains(cfg.initFiles, "%d"):
		errs = append(errs, "INIT_FILES must contain %d when FORWARD_INIT:FALSE")
	}
	if cfg.baseSurface == "" {
		errs = append(errs, "Missing required BASE_SURFACE")
	} else if _, err := os.Stat(cfg.baseSurface); err != nil {
		errs = append(errs, fmt.Sprintf("BASE_SURFACE:%s not found", cfg.baseSurface))
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Keyword: string(ImplSurface), Name: name, Errors: errs}
	}

	base, err := ReadIrapSurface(cfg.baseSurface)
	if err != nil {
		return nil, &ValidationError{Keyword: string(ImplSurface), Name: name, Errors: []string{err.Error()}}
	}
	cfg.base = base
	return cfg, nil
}

// Describe implements Config.
func (c *SurfaceConfig) Describe() Meta {
	return Meta{
		Key:         c.key,
		Impl:        ImplSurface,
		Var:         VarParameter,
		ForwardInit: c.forwardInit,
		InitFile:    c.initFiles,
		OutputFile:  c.outputFile,
	}
}

// Sample implements Config by loading the per-realization init files.
func (c *SurfaceConfig) Sample(ctx context.Context, store Store, realizations []int, _ Seed) error {
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

// LoadFromRunPath implements RunPathLoader for forward-initialised surfaces.
func (c *SurfaceConfig) LoadFromRunPath(ctx context.Context, store Store, runPath string, realization int) error {
	if !c.forwardInit {
		return nil
	}
	return c.load(ctx, store, RunPathFile(runPath, realizationFile(c.initFiles, realization)), realization)
}

func (c *SurfaceConfig) load(ctx context.Context, store Store, path string, realization int) error {
	s, err := ReadIrapSurface(path)
	if err != nil {
		return fmt.Errorf("failed to load surface %s: %w", c.key, err)
	}
	if s.NX != c.base.NX || s.NY != c.base.NY {
		return fmt.Errorf("surface %s from %s is %dx%d, base surface is %dx%d",
			c.key, path, s.NX, s.NY, c.base.NX, c.base.NY)
	}
	return store.SaveArray(ctx, c.key, realization, Array{Shape: []int{s.NX, s.NY}, Data: s.Values})
}

// Materialize implements Config.
func (c *SurfaceConfig) Materialize(ctx context.Context, store Store, runPath string, realization int) error {
	arr, err := store.LoadArray(ctx, c.key, realization)
	if err != nil {
		return fmt.Errorf("failed to load surface %s for realization %d: %w", c.key, realization, err)
	}
	if len(arr.Data) != len(c.base.Values) {
		return fmt.Errorf("surface %s has %d values, base surface has %d", c.key, len(arr.Data), len(c.base.Values))
	}
	return c.base.Write(RunPathFile(runPath, c.outputFile), arr.Data)
}

func (c *SurfaceConfig) isConfig() {}
