// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package observability serves metrics and health probes.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether one dependency is ready. A nil error
// means ready.
type ReadinessChecker func() error

// Metrics holds the HTTP API metrics.
type Metrics struct {
	APIRequests *prometheus.CounterVec
}

// NewMetrics creates the HTTP API metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bastion_api_requests_total",
				Help: "Total number of permission API requests by route and status class",
			},
			[]string{"route", "status"},
		),
	}
	reg.MustRegister(m.APIRequests)
	return m
}

// RecordAPIRequest counts one API response.
func (m *Metrics) RecordAPIRequest(route string, status int) {
	m.APIRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Server serves /metrics and the /healthz probes.
//
// Application metrics register with Registry(). Metrics registered with the
// default Prometheus registerer, along with the Go and process collectors,
// are served as well.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	checks     map[string]ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a server listening on addr ("127.0.0.1:9100", ":0").
func NewServer(addr string) *Server {
	registry := prometheus.NewRegistry()
	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		checks:   make(map[string]ReadinessChecker),
	}
}

// Registry is the registry application metrics should register with.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Metrics returns the HTTP API metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// AddReadinessCheck registers a named readiness check. Call before Start.
func (s *Server) AddReadinessCheck(name string, check ReadinessChecker) {
	s.checks[name] = check
}

// Start serves in the background. The returned channel receives a serve
// failure and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{s.registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown observability server").Wrap(err)
		}
	}
	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness is 200 when every check passes, otherwise 503 listing
// the failing checks.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	var failing []string
	for name, check := range s.checks {
		if err := check(); err != nil {
			failing = append(failing, name+": "+err.Error())
		}
	}
	if len(failing) == 0 {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // client may disconnect
	w.Write([]byte("not ready\n" + strings.Join(failing, "\n") + "\n"))
}
