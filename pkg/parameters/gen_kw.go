package parameters

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// templateTag matches "<name>" with optional inner whitespace.
var templateTag = regexp.MustCompile(`<\s*([A-Za-z_][A-Za-z0-9_:.\-]*)\s*>`)

// GenKwConfig is a scalar vector parameter drawn from named priors and
// rendered into a text template.
type GenKwConfig struct {
	key          string
	templateFile string
	outputFile   string
	priorsFile   string
	initFiles    string
	forwardInit  bool
	priors       []Prior
}

// NewGenKwConfig builds a GEN_KW parameter from already parsed priors.
func NewGenKwConfig(key, templateFile, outputFile string, priors []Prior) *GenKwConfig {
	return &GenKwConfig{
		key:          key,
		templateFile: templateFile,
		outputFile:   outputFile,
		priors:       priors,
	}
}

// ParseGenKw parses "NAME TEMPLATE OUTPUT PRIORS [INIT_FILES:..] [FORWARD_INIT:..]".
// Relative paths are resolved against baseDir.
func ParseGenKw(args []string, baseDir string) (*GenKwConfig, error) {
	if len(args) < 4 {
		return nil, fmt.Errorf("GEN_KW needs NAME TEMPLATE OUTPUT PRIORS, got %q", strings.Join(args, " "))
	}
	options := OptionDict(args, 4)

	cfg := &GenKwConfig{
		key:          args[0],
		templateFile: resolvePath(args[1], baseDir),
		outputFile:   args[2],
		priorsFile:   resolvePath(args[3], baseDir),
		initFiles:    resolvePath(options[OptInitFiles], baseDir),
		forwardInit:  ParseBool(valueOr(options, OptForwardInit, "FALSE")),
	}

	if _, err := os.Stat(cfg.templateFile); err != nil {
		return nil, &ValidationError{Keyword: string(ImplGenKw), Name: cfg.key,
			Errors: []string{fmt.Sprintf("template file %s not found", cfg.templateFile)}}
	}

	priors, err := ReadPriors(cfg.priorsFile)
	if err != nil {
		return nil, &ValidationError{Keyword: string(ImplGenKw), Name: cfg.key, Errors: []string{err.Error()}}
	}
	if len(priors) == 0 {
		return nil, &ValidationError{Keyword: string(ImplGenKw), Name: cfg.key,
			Errors: []string{"priors file declares no parameters"}}
	}
	cfg.priors = priors
	return cfg, nil
}

// Describe implements Config.
func (c *GenKwConfig) Describe() Meta {
	return Meta{
		Key:         c.key,
		Impl:        ImplGenKw,
		Var:         VarParameter,
		ForwardInit: c.forwardInit,
		InitFile:    c.initFiles,
		OutputFile:  c.outputFile,
	}
}

// Len returns the number of declared scalars.
func (c *GenKwConfig) Len() int {
	return len(c.priors)
}

// Keys returns the declared scalar names in declaration order.
func (c *GenKwConfig) Keys() []string {
	keys := make([]string, len(c.priors))
	for i, p := range c.priors {
		keys[i] = p.Name
	}
	return keys
}

// Priors returns the declared priors.
func (c *GenKwConfig) Priors() []Prior {
	return c.priors
}

// TemplateFile returns the absolute template path.
func (c *GenKwConfig) TemplateFile() string {
	return c.templateFile
}

// Sample implements Config. Values are read from the init files when
// configured and drawn from the priors otherwise.
func (c *GenKwConfig) Sample(ctx context.Context, store Store, realizations []int, seed Seed) error {
	keys := c.Keys()

	if c.initFiles != "" {
		log.Info().Str("parameter", c.key).Str("init_file", c.initFiles).
			Msgf("Reading from init file %s for %s", c.initFiles, c.key)
	} else {
		log.Info().Str("parameter", c.key).Msgf("Sampling parameter %s", c.key)
	}

	for _, real := range realizations {
		if err := ctx.Err(); err != nil {
			return err
		}

		var values []float64
		var err error
		if c.initFiles != "" {
			values, err = c.valuesFromFile(realizationFile(c.initFiles, real))
		} else {
			values = c.SampleValues(seed, real)
		}
		if err != nil {
			return err
		}

		if err := store.SaveGenKw(ctx, c.key, real, GenKwValues{Keys: keys, Values: values}); err != nil {
			return fmt.Errorf("failed to save %s for realization %d: %w", c.key, real, err)
		}
	}
	return nil
}

// SampleValues draws the scalar vector of one realization.
func (c *GenKwConfig) SampleValues(seed Seed, realization int) []float64 {
	rng := seed.Stream(c.key, realization)
	values := make([]float64, len(c.priors))
	for i, p := range c.priors {
		values[i] = p.Transform(rng.NormFloat64())
	}
	return values
}

// valuesFromFile reads one value per line, optionally prefixed by the scalar
// name. Named lines may come in any order.
func (c *GenKwConfig) valuesFromFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open init file for %s: %w", c.key, err)
	}
	defer f.Close()

	named := make(map[string]float64)
	var positional []float64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch len(fields) {
		case 0:
			continue
		case 1:
			v, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid value %q: %w", path, fields[0], err)
			}
			positional = append(positional, v)
		default:
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid value %q: %w", path, fields[1], err)
			}
			named[fields[0]] = v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(named) > 0 {
		values := make([]float64, len(c.priors))
		for i, p := range c.priors {
			v, ok := named[p.Name]
			if !ok {
				return nil, fmt.Errorf("%s: missing value for %s", path, p.Name)
			}
			values[i] = v
		}
		return values, nil
	}

	if len(positional) != len(c.priors) {
		return nil, &SizeMismatchError{Key: c.key, Declared: len(c.priors), Got: len(positional)}
	}
	return positional, nil
}

// Load returns the stored vector of one realization after checking it
// against the declared size.
func (c *GenKwConfig) Load(ctx context.Context, store Store, realization int) (GenKwValues, error) {
	values, err := store.LoadGenKw(ctx, c.key, realization)
	if err != nil {
		return GenKwValues{}, fmt.Errorf("failed to load %s for realization %d: %w", c.key, realization, err)
	}
	if values.Len() != len(c.priors) {
		return GenKwValues{}, &SizeMismatchError{Key: c.key, Declared: len(c.priors), Got: values.Len()}
	}
	return values, nil
}

// Render writes the template with every tag replaced by its value.
func (c *GenKwConfig) Render(runPath string, values GenKwValues) error {
	tmpl, err := os.ReadFile(c.templateFile)
	if err != nil {
		return fmt.Errorf("failed to read template for %s: %w", c.key, err)
	}

	rendered := RenderTemplate(string(tmpl), values)
	return WriteFile(RunPathFile(runPath, c.outputFile), []byte(rendered))
}

// Materialize implements Config.
func (c *GenKwConfig) Materialize(ctx context.Context, store Store, runPath string, realization int) error {
	values, err := c.Load(ctx, store, realization)
	if err != nil {
		return err
	}
	return c.Render(runPath, values)
}

func (c *GenKwConfig) isConfig() {}

// RenderTemplate replaces "<name>" tags with values formatted to six
// significant digits. Tags that do not name a value are kept verbatim.
func RenderTemplate(tmpl string, values GenKwValues) string {
	return templateTag.ReplaceAllStringFunc(tmpl, func(tag string) string {
		name := templateTag.FindStringSubmatch(tag)[1]
		if v, ok := values.Get(name); ok {
			return FormatSignificant(v)
		}
		return tag
	})
}

// FormatSignificant formats v with six significant digits in the shortest
// of fixed or exponent notation.
func FormatSignificant(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func valueOr(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}
