package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Packages below telemetry take the
// plain zerolog.Logger returned by Zerolog.
type Logger struct {
	zlog zerolog.Logger
}

type loggerContextKey struct{}

// NewLogger opens cfg.Output and builds a logger writing to it.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var w io.Writer
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %s: %w", cfg.Output, err)
		}
		w = f
	}
	return NewLoggerTo(w, cfg), nil
}

// NewLoggerTo builds a logger writing to w. Debug and trace levels also
// record the caller.
func NewLoggerTo(w io.Writer, cfg LoggingConfig) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if level <= zerolog.DebugLevel {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger()}
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

// WithField returns a child logger with one more field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// ForEnsemble tags the logger with an ensemble and its iteration.
func (l *Logger) ForEnsemble(name string, iteration int) *Logger {
	return &Logger{zlog: l.zlog.With().Str("ensemble", name).Int("iteration", iteration).Logger()}
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or one that discards
// everything.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.Nop()}
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
