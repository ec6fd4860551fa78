package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/openfroyo/histmatch/pkg/telemetry"
)

// Settings defaults.
const (
	DefaultSettingsFile = "histmatch.yaml"
	DefaultStoragePath  = "storage/histmatch.db"
	EnvPrefix           = "HISTMATCH_"
)

// Settings holds CLI settings, independent of any one experiment.
type Settings struct {
	Storage  string          `koanf:"storage"`
	Log      LogSettings     `koanf:"log"`
	Metrics  MetricsSettings `koanf:"metrics"`
	Tracing  TraceSettings   `koanf:"tracing"`
	Verbose  bool            `koanf:"verbose"`
	JSON     bool            `koanf:"json"`
	Parallel int             `koanf:"max_parallel"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Addr string `koanf:"addr"`
}

// TraceSettings configures span export.
type TraceSettings struct {
	Exporter string  `koanf:"exporter"`
	Endpoint string  `koanf:"endpoint"`
	Sampling float64 `koanf:"sampling"`
}

// flagKeys maps flag names whose settings key differs from the
// kebab-to-snake conversion.
var flagKeys = map[string]string{
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
	"trace":        "tracing.exporter",
	"max-parallel": "max_parallel",
}

// LoadSettings layers defaults, the settings file, HISTMATCH_ environment
// variables and explicitly set flags, in increasing precedence. An empty
// path looks for histmatch.yaml in the working directory.
func LoadSettings(path string, flags *pflag.FlagSet) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"storage":          DefaultStoragePath,
		"log.level":        "info",
		"log.format":       "console",
		"log.output":       "stderr",
		"tracing.exporter": "none",
		"tracing.sampling": 1.0,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(DefaultSettingsFile); err == nil {
			path = DefaultSettingsFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading settings file %s: %w", path, err)
		}
	}

	// HISTMATCH_LOG__LEVEL -> log.level, HISTMATCH_MAX_PARALLEL -> max_parallel
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unable to decode settings: %w", err)
	}

	if s.Verbose {
		s.Log.Level = "debug"
	}
	if s.JSON {
		s.Log.Format = "json"
	}
	return &s, nil
}

// TelemetryConfig derives the telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Version = version
	cfg.Logging = telemetry.LoggingConfig{Level: s.Log.Level, Format: s.Log.Format, Output: s.Log.Output}
	cfg.Metrics.ListenAddress = s.Metrics.Addr

	if s.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = s.Tracing.Exporter
		cfg.Tracing.Endpoint = s.Tracing.Endpoint
		cfg.Tracing.SamplingRate = s.Tracing.Sampling
	}
	return cfg
}
