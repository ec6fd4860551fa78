package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/histmatch/pkg/engine"
)

// Metrics provides Prometheus metrics for ensemble runs. A disabled
// Metrics value accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	// Phase metrics
	phaseDuration *prometheus.HistogramVec
	realizations  *prometheus.GaugeVec

	// Realization metrics
	materializations       *prometheus.CounterVec
	materializationSeconds prometheus.Histogram
	stateTransitions       *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.MetricsRecorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.PhaseBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"mode", "status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of run phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase", "status"},
		),
		realizations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "phase_realizations",
				Help:      "Realizations active and succeeded in the last completed phase",
			},
			[]string{"phase", "kind"},
		),

		materializations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runpath_materializations_total",
				Help:      "Total number of run paths created",
			},
			[]string{"status"},
		),
		materializationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "runpath_materialization_seconds",
				Help:      "Time spent creating one run path",
				Buckets:   prometheus.DefBuckets,
			},
		),
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realization_state_transitions_total",
				Help:      "Total number of realization state changes",
			},
			[]string{"from", "to"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.phaseDuration,
		m.realizations,
		m.materializations,
		m.materializationSeconds,
		m.stateTransitions,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Registry returns the registry metrics are registered with, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a finished run with its outcome and duration.
func (m *Metrics) RecordRunCompleted(mode string, duration time.Duration, err error) {
	if m.runsCompleted == nil {
		return
	}
	status := statusLabel(err)
	m.runsCompleted.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
	m.RecordError(err)
}

// RecordPhase records the duration and outcome of a run phase.
func (m *Metrics) RecordPhase(phase string, duration time.Duration, err error) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, statusLabel(err)).Observe(duration.Seconds())
}

// RecordRealizations records how many realizations were active and succeeded in a phase.
func (m *Metrics) RecordRealizations(phase string, active, succeeded int) {
	if m.realizations == nil {
		return
	}
	m.realizations.WithLabelValues(phase, "active").Set(float64(active))
	m.realizations.WithLabelValues(phase, "succeeded").Set(float64(succeeded))
}

// RecordMaterialization records the time spent creating one run path.
func (m *Metrics) RecordMaterialization(duration time.Duration, err error) {
	if m.materializations == nil {
		return
	}
	m.materializations.WithLabelValues(statusLabel(err)).Inc()
	m.materializationSeconds.Observe(duration.Seconds())
}

// RecordStateTransition counts a realization state change.
func (m *Metrics) RecordStateTransition(from, to engine.RealizationState) {
	if m.stateTransitions == nil {
		return
	}
	m.stateTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordError records an error by class and code. Errors outside the
// engine taxonomy count as class "unknown".
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) {
		m.errorsByClass.WithLabelValues("unknown").Inc()
		return
	}
	m.errorsByClass.WithLabelValues(string(engErr.Class)).Inc()
	if engErr.Code != "" {
		m.errorsByCode.WithLabelValues(engErr.Code).Inc()
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is cancelled. It is a no-op
// when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger *Logger) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	zl := logger.Zerolog()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
