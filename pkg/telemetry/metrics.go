package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the handshake pipeline. A
// Metrics built from a disabled config is a no-op.
type Metrics struct {
	config MetricsConfig

	launches           *prometheus.CounterVec
	observations       *prometheus.CounterVec
	handshakeResults   *prometheus.CounterVec
	handshakeDuration  *prometheus.HistogramVec
	syncResults        *prometheus.CounterVec
	commands           *prometheus.CounterVec
	commandDuration    *prometheus.HistogramVec
	projectState       *prometheus.GaugeVec
	errorsByCode       *prometheus.CounterVec
	probes             *prometheus.CounterVec
	probeLatency       prometheus.Histogram
	activeHandshakes   prometheus.Gauge
	materializeRetries prometheus.Counter

	registry *prometheus.Registry
}

// projectStates lists the values exported by SetProjectState.
var projectStates = []string{"waiting", "starting", "running", "failed_to_start", "suspended"}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.HandshakeBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "worker_launches_total",
			Help:      "Worker processes launched, by intent and result",
		}, []string{"intent", "result"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "handshake_observations_total",
			Help:      "Output file observations made by the watcher",
		}, []string{"observation"}),
		handshakeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "handshakes_total",
			Help:      "Completed handshakes by terminal observation",
		}, []string{"result"}),
		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "handshake_duration_seconds",
			Help:      "Time from watch start to a terminal observation",
			Buckets:   buckets,
		}, []string{"result"}),
		syncResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "synchronizations_total",
			Help:      "Output contracts applied to project resources",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "commands_total",
			Help:      "One-shot worker commands by mode and result",
		}, []string{"mode", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "command_duration_seconds",
			Help:      "Duration of one-shot worker commands",
			Buckets:   buckets,
		}, []string{"mode"}),
		projectState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "project_state",
			Help:      "Current lifecycle state per project (1 for the active state)",
		}, []string{"project", "state"}),
		errorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Errors surfaced to callers by error code",
		}, []string{"code"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connection_probes_total",
			Help:      "Live connection probes of synchronized resources",
		}, []string{"result"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "connection_probe_duration_seconds",
			Help:      "Round trip of a connection probe",
			Buckets:   prometheus.DefBuckets,
		}),
		activeHandshakes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_handshakes",
			Help:      "Handshakes currently being watched",
		}),
		materializeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "template_materialize_retries_total",
			Help:      "Retried worker template materialization attempts",
		}),
	}

	m.registry.MustRegister(
		m.launches,
		m.observations,
		m.handshakeResults,
		m.handshakeDuration,
		m.syncResults,
		m.commands,
		m.commandDuration,
		m.projectState,
		m.errorsByCode,
		m.probes,
		m.probeLatency,
		m.activeHandshakes,
		m.materializeRetries,
	)

	return m, nil
}

// RecordLaunch counts a worker start attempt.
func (m *Metrics) RecordLaunch(intent string, err error) {
	if m == nil || m.launches == nil {
		return
	}
	m.launches.WithLabelValues(intent, resultLabel(err)).Inc()
}

// RecordObservation counts one watcher poll result.
func (m *Metrics) RecordObservation(observation string) {
	if m == nil || m.observations == nil {
		return
	}
	m.observations.WithLabelValues(observation).Inc()
}

// HandshakeStarted increments the active handshake gauge.
func (m *Metrics) HandshakeStarted() {
	if m == nil || m.activeHandshakes == nil {
		return
	}
	m.activeHandshakes.Inc()
}

// HandshakeFinished records a terminal observation and its latency.
func (m *Metrics) HandshakeFinished(result string, duration time.Duration) {
	if m == nil || m.handshakeResults == nil {
		return
	}
	m.activeHandshakes.Dec()
	m.handshakeResults.WithLabelValues(result).Inc()
	m.handshakeDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordSync counts an Apply call.
func (m *Metrics) RecordSync(err error) {
	if m == nil || m.syncResults == nil {
		return
	}
	m.syncResults.WithLabelValues(resultLabel(err)).Inc()
}

// RecordCommand counts a one-shot command and its duration.
func (m *Metrics) RecordCommand(mode string, duration time.Duration, err error) {
	if m == nil || m.commands == nil {
		return
	}
	m.commands.WithLabelValues(mode, resultLabel(err)).Inc()
	m.commandDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordProbe counts a connection probe and its round trip.
func (m *Metrics) RecordProbe(duration time.Duration, err error) {
	if m == nil || m.probes == nil {
		return
	}
	m.probes.WithLabelValues(resultLabel(err)).Inc()
	m.probeLatency.Observe(duration.Seconds())
}

// RecordMaterializeRetry counts a retried template materialization.
func (m *Metrics) RecordMaterializeRetry() {
	if m == nil || m.materializeRetries == nil {
		return
	}
	m.materializeRetries.Inc()
}

// SetProjectState marks state as the active state of project.
func (m *Metrics) SetProjectState(project, state string) {
	if m == nil || m.projectState == nil {
		return
	}
	for _, s := range projectStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.projectState.WithLabelValues(project, s).Set(value)
	}
}

// RecordError counts an error by code. Empty codes are ignored.
func (m *Metrics) RecordError(code string) {
	if m == nil || m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Timer measures an operation.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics on the configured address in the
// background. It does nothing when metrics are disabled or no address is set.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil, nil
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

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", server.Addr).Msg("metrics server stopped")
		}
	}()

	return server, nil
}
