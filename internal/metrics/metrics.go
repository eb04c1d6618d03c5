// Package metrics exposes crawl and certification counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeAborted = "aborted"
	OutcomePanic   = "panic"
)

// Certification statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Recorder receives pipeline events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	CycleFinished(source, outcome string, elapsed time.Duration)
	Certification(source, status string)
	Cursor(source string, cursor int64)
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) CycleFinished(string, string, time.Duration) {}
func (discard) Certification(string, string)                {}
func (discard) Cursor(string, int64)                        {}

// Metrics is the Prometheus-backed Recorder. Each instance owns its
// registry, so tests and multiple processes in one binary do not collide.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	certifications *prometheus.CounterVec
	cursor         *prometheus.GaugeVec
	cycleDuration  *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "certcrawl",
		Name:      "cycles_total",
		Help:      "Crawl cycles by source and outcome",
	}, []string{"source", "outcome"})
	m.certifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "certcrawl",
		Name:      "certifications_total",
		Help:      "Ledger certification attempts by source and status",
	}, []string{"source", "status"})
	m.cursor = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "certcrawl",
		Name:      "cursor",
		Help:      "Last persisted cursor per source",
	}, []string{"source"})
	m.cycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "certcrawl",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one crawl cycle",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"source"})

	m.registry.MustRegister(
		m.cycles, m.certifications, m.cursor, m.cycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// CycleFinished implements Recorder.
func (m *Metrics) CycleFinished(source, outcome string, elapsed time.Duration) {
	m.cycles.WithLabelValues(source, outcome).Inc()
	m.cycleDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// Certification implements Recorder.
func (m *Metrics) Certification(source, status string) {
	m.certifications.WithLabelValues(source, status).Inc()
}

// Cursor implements Recorder.
func (m *Metrics) Cursor(source string, cursor int64) {
	m.cursor.WithLabelValues(source).Set(float64(cursor))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server for addr.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve blocks until the server stops. http.ErrServerClosed is not an error.
func (s *Server) Serve() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
