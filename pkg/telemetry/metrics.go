package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the simulator. A nil *Metrics and
// a disabled one are both valid and record nothing.
type Metrics struct {
	config MetricsConfig

	// Simulation loop metrics
	ticks        *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	tickErrors   *prometheus.CounterVec

	// Plant state
	tagValues     *prometheus.GaugeVec
	processValues *prometheus.GaugeVec

	// Attack metrics
	attacksStarted  *prometheus.CounterVec
	attacksFinished *prometheus.CounterVec
	attackDuration  *prometheus.HistogramVec
	attackWrites    *prometheus.CounterVec
	attackErrors    *prometheus.CounterVec
	activeAttacks   prometheus.Gauge

	// Load-time and error metrics
	registryWarnings *prometheus.CounterVec
	errorsByClass    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	tickBuckets := cfg.TickBuckets
	if len(tickBuckets) == 0 {
		tickBuckets = prometheus.DefBuckets
	}
	attackBuckets := cfg.AttackBuckets
	if len(attackBuckets) == 0 {
		attackBuckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "ticks_total",
				Help:      "Total number of simulation ticks executed",
			},
			[]string{"plant"},
		),
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "tick_duration_seconds",
				Help:      "Wall time spent in one read-update-write cycle",
				Buckets:   tickBuckets,
			},
			[]string{"plant"},
		),
		tickErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "tick_errors_total",
				Help:      "Store access errors skipped by the simulation loop",
			},
			[]string{"plant", "operation"},
		),

		tagValues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "tag_value",
				Help:      "Current value of a plant tag",
			},
			[]string{"plant", "tag"},
		),
		processValues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "process_value",
				Help:      "Continuous state variable of the physics model",
			},
			[]string{"plant", "variable"},
		),

		attacksStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "attacks_started_total",
				Help:      "Total number of attacks started",
			},
			[]string{"kind", "plant"},
		),
		attacksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "attacks_finished_total",
				Help:      "Total number of attacks that reached a terminal status",
			},
			[]string{"kind", "status"},
		),
		attackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "attack_duration_seconds",
				Help:      "Lifetime of finished attacks in seconds",
				Buckets:   attackBuckets,
			},
			[]string{"kind"},
		),
		attackWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "attack_writes_total",
				Help:      "Tag values written by attack patterns",
			},
			[]string{"kind"},
		),
		attackErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "attack_access_errors_total",
				Help:      "Store access errors skipped by attack workers",
			},
			[]string{"kind"},
		),
		activeAttacks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "active_attacks",
				Help:      "Number of attacks currently running",
			},
		),

		registryWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "registry_warnings_total",
				Help:      "Advisory findings reported while loading a tag map",
			},
			[]string{"kind"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_total",
				Help:      "Errors by class",
			},
			[]string{"class"},
		),
	}

	m.registry.MustRegister(
		m.ticks,
		m.tickDuration,
		m.tickErrors,
		m.tagValues,
		m.processValues,
		m.attacksStarted,
		m.attacksFinished,
		m.attackDuration,
		m.attackWrites,
		m.attackErrors,
		m.activeAttacks,
		m.registryWarnings,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Simulation loop

// RecordTick records one completed simulation tick.
func (m *Metrics) RecordTick(plant string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.ticks.WithLabelValues(plant).Inc()
	m.tickDuration.WithLabelValues(plant).Observe(duration.Seconds())
}

// RecordTickError records a store access error skipped by the loop.
func (m *Metrics) RecordTickError(plant, operation string) {
	if !m.enabled() {
		return
	}
	m.tickErrors.WithLabelValues(plant, operation).Inc()
}

// SetTagValue exports the current value of a tag.
func (m *Metrics) SetTagValue(plant, tag string, value float64) {
	if !m.enabled() {
		return
	}
	m.tagValues.WithLabelValues(plant, tag).Set(value)
}

// SetProcessValue exports a continuous state variable.
func (m *Metrics) SetProcessValue(plant, variable string, value float64) {
	if !m.enabled() {
		return
	}
	m.processValues.WithLabelValues(plant, variable).Set(value)
}

// Attacks

// RecordAttackStarted counts a started attack.
func (m *Metrics) RecordAttackStarted(kind, plant string) {
	if !m.enabled() {
		return
	}
	m.attacksStarted.WithLabelValues(kind, plant).Inc()
}

// RecordAttackFinished counts an attack reaching a terminal status.
func (m *Metrics) RecordAttackFinished(kind, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.attacksFinished.WithLabelValues(kind, status).Inc()
	m.attackDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAttackWrites counts tag values written by one pattern tick.
func (m *Metrics) RecordAttackWrites(kind string, n int) {
	if !m.enabled() || n == 0 {
		return
	}
	m.attackWrites.WithLabelValues(kind).Add(float64(n))
}

// RecordAttackAccessError counts a store error skipped by an attack worker.
func (m *Metrics) RecordAttackAccessError(kind string) {
	if !m.enabled() {
		return
	}
	m.attackErrors.WithLabelValues(kind).Inc()
}

// SetActiveAttacks sets the number of running attacks.
func (m *Metrics) SetActiveAttacks(n int) {
	if !m.enabled() {
		return
	}
	m.activeAttacks.Set(float64(n))
}

// Errors

// RecordRegistryWarning counts an advisory load finding.
func (m *Metrics) RecordRegistryWarning(kind string) {
	if !m.enabled() {
		return
	}
	m.registryWarnings.WithLabelValues(kind).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(class string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if !m.enabled() {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
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
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background. The
// returned server is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer() *http.Server {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

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

	return server
}
