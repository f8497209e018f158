// Package observability provides the HTTP server for health checks,
// Prometheus metrics, and the last-outcome status endpoint.
//
// # Endpoints
//
//   - GET /healthz: Health check endpoint. Returns 200 if the adapter process
//     is running.
//
//   - GET /readyz: Readiness check endpoint. Returns 200 once the probe loop
//     has started.
//
//   - GET /metrics: Prometheus metrics in text exposition format.
//
//   - GET /status: JSON map of table name to the last observed fetch outcome.
//
// # Custom Metrics
//
//	┌──────────────────────────────────────┬─────────┬─────────────────────────────────────┐
//	│ Metric Name                          │ Type    │ Description                         │
//	├──────────────────────────────────────┼─────────┼─────────────────────────────────────┤
//	│ adapter_fetch_total                  │ Counter │ Fetch outcomes by table and kind    │
//	│ adapter_fetch_duration_seconds       │ Hist    │ End-to-end fetch duration           │
//	│ adapter_sn_api_requests_total        │ Counter │ Total ServiceNow API requests       │
//	│ adapter_sn_api_errors_total          │ Counter │ ServiceNow API errors (by code)     │
//	│ adapter_sn_api_latency_seconds       │ Hist    │ ServiceNow API response latency     │
//	│ adapter_report_published_total       │ Counter │ Outcome events produced to Kafka    │
//	│ adapter_report_errors_total          │ Counter │ Outcome event publication failures  │
//	└──────────────────────────────────────┴─────────┴─────────────────────────────────────┘
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics used by the adapter, registered with
// the default registry.
var Metrics = struct {
	// Fetch metrics
	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	// ServiceNow API metrics
	SNAPIRequestsTotal *prometheus.CounterVec
	SNAPIErrorsTotal   *prometheus.CounterVec
	SNAPILatency       *prometheus.HistogramVec

	// Report metrics
	ReportPublishedTotal *prometheus.CounterVec
	ReportErrorsTotal    *prometheus.CounterVec
}{
	FetchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_fetch_total",
		Help: "Total number of first-record fetches by classified outcome.",
	}, []string{"table", "outcome"}),

	FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adapter_fetch_duration_seconds",
		Help:    "Duration of first-record fetches including rate limiter wait.",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"}),

	SNAPIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_sn_api_requests_total",
		Help: "Total number of ServiceNow API requests.",
	}, []string{"method", "endpoint"}),

	SNAPIErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_sn_api_errors_total",
		Help: "Total number of ServiceNow API errors by status code.",
	}, []string{"method", "status_code"}),

	SNAPILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adapter_sn_api_latency_seconds",
		Help:    "ServiceNow API response latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "endpoint"}),

	ReportPublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_report_published_total",
		Help: "Total number of outcome events produced to Kafka.",
	}, []string{"topic", "outcome"}),

	ReportErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_report_errors_total",
		Help: "Total number of outcome event publication failures.",
	}, []string{"topic", "error_type"}),
}

// StatusSource exposes the last observed outcome per table. The returned value
// must be safe to encode as JSON.
type StatusSource interface {
	SnapshotJSON() any
}

// Server provides HTTP endpoints for health checks, readiness probes,
// Prometheus metrics and outcome status.
type Server struct {
	addr   string
	ready  atomic.Bool
	status StatusSource
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new observability HTTP server. status may be nil, in
// which case /status reports an empty object.
func NewServer(addr string, status StatusSource, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		status: status,
		logger: logger.With("component", "observability"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until ctx is cancelled and then shuts down with a 5s grace period.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("observability server listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down observability server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// SetReady flips the /readyz answer.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("readiness state changed", "ready", ready)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady answers 503 until the probe loop has started.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body any = map[string]any{}
	if s.status != nil {
		body = s.status.SnapshotJSON()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}
