package parameters

import (
	"errors"
	"fmt"
	"strings"
)

// Keywords holds the raw keyword lines of every parameter and response
// definition, one whitespace-split line per entry.
type Keywords struct {
	GenKw    [][]string
	Field    [][]string
	Surface  [][]string
	GenData  [][]string
	ExtParam [][]string
}

// EnsembleConfig is the ordered set of configured parameters and responses.
type EnsembleConfig struct {
	order   []string
	configs map[string]Config
}

// NewEnsembleConfig returns an empty configuration.
func NewEnsembleConfig() *EnsembleConfig {
	return &EnsembleConfig{configs: make(map[string]Config)}
}

// BuildEnsembleConfig parses every keyword line. Definition errors of all
// lines are joined so a broken configuration is reported in one go.
func BuildEnsembleConfig(kw Keywords, grid *Grid, baseDir string) (*EnsembleConfig, error) {
	ec := NewEnsembleConfig()
	var errs []error

	add := func(cfg Config, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		if err := ec.Add(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	for _, args := range kw.GenKw {
		add(ParseGenKw(args, baseDir))
	}
	for _, args := range kw.Field {
		add(ParseField(args, grid, baseDir))
	}
	for _, args := range kw.Surface {
		add(ParseSurface(args, baseDir))
	}
	for _, args := range kw.GenData {
		add(ParseGenData(args))
	}
	for _, args := range kw.ExtParam {
		add(ParseExtParam(args))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ec, nil
}

// SplitKeyword splits a keyword line on whitespace.
func SplitKeyword(line string) []string {
	return strings.Fields(line)
}

// Add registers cfg. Keys must be unique across all variants.
func (ec *EnsembleConfig) Add(cfg Config) error {
	key := cfg.Describe().Key
	if _, ok := ec.configs[key]; ok {
		return fmt.Errorf("config node with key %q already present in ensemble config", key)
	}
	ec.order = append(ec.order, key)
	ec.configs[key] = cfg
	return nil
}

// Get returns the config registered under key.
func (ec *EnsembleConfig) Get(key string) (Config, bool) {
	cfg, ok := ec.configs[key]
	return cfg, ok
}

// Keys returns every key in registration order.
func (ec *EnsembleConfig) Keys() []string {
	return append([]string(nil), ec.order...)
}

// ParameterKeys returns the keys that are written into run paths.
func (ec *EnsembleConfig) ParameterKeys() []string {
	return ec.filter(func(m Meta) bool { return m.Var.IsParameter() })
}

// ResponseKeys returns the keys produced by the forward model.
func (ec *EnsembleConfig) ResponseKeys() []string {
	return ec.filter(func(m Meta) bool { return m.Var == VarDynamicResult })
}

// GenKwKeys returns the GEN_KW keys.
func (ec *EnsembleConfig) GenKwKeys() []string {
	return ec.filter(func(m Meta) bool { return m.Impl == ImplGenKw })
}

// ForwardInit reports whether key is forward-initialised.
func (ec *EnsembleConfig) ForwardInit(key string) bool {
	cfg, ok := ec.configs[key]
	return ok && cfg.Describe().ForwardInit
}

// Loaders returns every config that reads values back from run paths, in
// registration order.
func (ec *EnsembleConfig) Loaders() []RunPathLoader {
	var loaders []RunPathLoader
	for _, key := range ec.order {
		if l, ok := ec.configs[key].(RunPathLoader); ok {
			loaders = append(loaders, l)
		}
	}
	return loaders
}

func (ec *EnsembleConfig) filter(keep func(Meta) bool) []string {
	var keys []string
	for _, key := range ec.order {
		if keep(ec.configs[key].Describe()) {
			keys = append(keys, key)
		}
	}
	return keys
}
