package parameters

import (
	"context"
	"fmt"
	"strings"
)

// ExtParamConfig is an opaque JSON parameter whose values are written into
// the store by an external producer and copied verbatim into run paths.
type ExtParamConfig struct {
	key        string
	outputFile string
	keys       []string
}

// NewExtParamConfig creates an EXT_PARAM parameter.
func NewExtParamConfig(key, outputFile string, keys []string) *ExtParamConfig {
	if outputFile == "" {
		outputFile = key + ".json"
	}
	return &ExtParamConfig{key: key, outputFile: outputFile, keys: keys}
}

// ParseExtParam parses "NAME [OUTPUT_FILE:file] [KEYS:a,b,c]".
func ParseExtParam(args []string) (*ExtParamConfig, error) {
	if len(args) < 1 || args[0] == "" {
		return nil, fmt.Errorf("EXT_PARAM needs a NAME")
	}
	options := OptionDict(args, 1)

	var keys []string
	if raw := options[OptKeys]; raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return NewExtParamConfig(args[0], options[OptOutputFile], keys), nil
}

// Describe implements Config.
func (c *ExtParamConfig) Describe() Meta {
	return Meta{
		Key:        c.key,
		Impl:       ImplExtParam,
		Var:        VarExtParameter,
		OutputFile: c.outputFile,
	}
}

// Keys returns the declared keys, if any.
func (c *ExtParamConfig) Keys() []string {
	return c.keys
}

// Sample implements Config. External parameters are never sampled.
func (c *ExtParamConfig) Sample(context.Context, Store, []int, Seed) error {
	return nil
}

// Materialize implements Config.
func (c *ExtParamConfig) Materialize(ctx context.Context, store Store, runPath string, realization int) error {
	data, err := store.LoadExtParam(ctx, c.key, realization)
	if err != nil {
		return fmt.Errorf("failed to load %s for realization %d: %w", c.key, realization, err)
	}
	return WriteFile(RunPathFile(runPath, c.outputFile), data)
}

func (c *ExtParamConfig) isConfig() {}
