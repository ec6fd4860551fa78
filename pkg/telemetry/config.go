package telemetry

import (
	"errors"
	"fmt"
)

// Config selects how a histmatch process reports on its runs.
type Config struct {
	// Service and Version become the service.name and service.version
	// resource attributes of exported spans.
	Service string
	Version string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog root logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn or error.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path that is appended to.
	Output string
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is otlp, stdout or none. With none the global provider is
	// left untouched and spans are dropped.
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// SamplingRate is the fraction of root spans kept.
	SamplingRate float64

	// Headers are sent with every OTLP export.
	Headers map[string]string

	// Insecure dials the collector without TLS.
	Insecure bool
}

// Enabled reports whether spans are exported.
func (c TracingConfig) Enabled() bool {
	return c.Exporter != "" && c.Exporter != "none"
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path over HTTP. Empty keeps metrics in-process.
	ListenAddress string
	Path          string

	// Namespace prefixes every metric name.
	Namespace string

	// PhaseBuckets are the histogram buckets, in seconds, of phase and
	// run durations.
	PhaseBuckets []float64
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	Enabled bool

	// BufferSize bounds the async queue and each subscriber channel.
	BufferSize int

	// EnableAsync hands events to sinks from a background goroutine.
	EnableAsync bool
}

// DefaultConfig returns the configuration of an interactive CLI run: console
// logs on stderr, no span export and in-process metrics.
func DefaultConfig() *Config {
	return &Config{
		Service: "histmatch",
		Version: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "histmatch",
			// Forward models run for minutes to hours.
			PhaseBuckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1000,
		},
	}
}

// Validate returns every problem of the configuration joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.Service == "" {
		errs = append(errs, errors.New("service name is required"))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (must be console or json)", c.Logging.Format))
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("otlp exporter needs an endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be in [0, 1], got %g", c.Tracing.SamplingRate))
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}
