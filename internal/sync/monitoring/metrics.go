package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netsync/internal/domain/models"
)

const namespace = "netsync"

// MetricsConfig holds configuration for the metrics endpoint
type MetricsConfig struct {
	// Enabled starts the HTTP server
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED"`

	// Addr is the listen address of the HTTP server
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":9108"`

	// EnableHealthEndpoint enables /health
	EnableHealthEndpoint bool `yaml:"health" env:"METRICS_HEALTH"`
}

// DefaultMetricsConfig returns default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr:                 ":9108",
		EnableHealthEndpoint: true,
	}
}

// Metrics are the reconciliation counters. A nil *Metrics records nothing.
type Metrics struct {
	changes        *prometheus.CounterVec
	kindFailures   *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	runs           *prometheus.CounterVec
	deviceDuration prometheus.Histogram
	remoteCalls    *prometheus.CounterVec
}

// NewMetrics registers the reconciliation metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Planned and applied changes by kind, action and status",
		}, []string{"kind", "action", "status"}),
		kindFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kind_failures_total",
			Help:      "Kinds that failed as a whole for a device",
		}, []string{"kind"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_records_total",
			Help:      "Observed records rejected by normalization",
		}, []string{"kind"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		deviceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_duration_seconds",
			Help:      "Time spent reconciling one device",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		remoteCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote inventory calls by kind, operation and result",
		}, []string{"kind", "op", "result"}),
	}
}

// ObserveChange counts one change
func (m *Metrics) ObserveChange(c models.Change) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(string(c.Kind), string(c.Action), string(c.Status)).Inc()
}

// ObserveKindFailure counts a kind that failed for a device
func (m *Metrics) ObserveKindFailure(kind models.EntityKind) {
	if m == nil {
		return
	}
	m.kindFailures.WithLabelValues(string(kind)).Inc()
}

// ObserveRejected counts a record normalization rejected
func (m *Metrics) ObserveRejected(kind models.EntityKind) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(string(kind)).Inc()
}

// ObserveDevice records the duration of one device
func (m *Metrics) ObserveDevice(d time.Duration) {
	if m == nil {
		return
	}
	m.deviceDuration.Observe(d.Seconds())
}

// ObserveRun counts a finished run
func (m *Metrics) ObserveRun(dryRun bool, outcome string) {
	if m == nil {
		return
	}
	mode := "apply"
	if dryRun {
		mode = "dry-run"
	}
	m.runs.WithLabelValues(mode, outcome).Inc()
}

// ObserveCall counts a remote call
func (m *Metrics) ObserveCall(kind models.EntityKind, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.remoteCalls.WithLabelValues(string(kind), op, result).Inc()
}

// MetricsServer exposes a gatherer over HTTP
type MetricsServer struct {
	server *http.Server
	logger logr.Logger
}

// NewMetricsServer creates the /metrics server
func NewMetricsServer(gatherer prometheus.Gatherer, config MetricsConfig, logger logr.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if config.EnableHealthEndpoint {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger.WithName("metrics"),
	}
}

// Handler returns the HTTP handler
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves in the background
func (s *MetricsServer) Start() {
	go func() {
		s.logger.Info("Serving metrics", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(err, "Metrics server stopped")
		}
	}()
}

// Stop shuts the HTTP server down
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
