// Package server exposes the run resolver over HTTP.
//
// Routes:
//
//	GET    /api/fetch_run_data/?runid=ID            raw summary record
//	GET    /api/fetch_graph_data/?run_id1=A[&run_id2=B]
//	GET    /api/fetch_multiple_runs/?run_ids=A,B,C
//	GET    /api/cache/                              cache contents
//	DELETE /api/cache/                              clear the cache
//	GET    /healthz
//	GET    /metrics
//
// Errors are returned as {"error": "message"}: 400 for invalid input, 500
// for failed upstream requests.
package server

import (
	"context"
	"errors"
	"log/slog"
	nethttp "net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/perfdash"
	"github.com/meigma/perfdash/metrics"
)

// Backend resolves runs. *perfdash.Resolver satisfies it.
type Backend interface {
	Resolve(ctx context.Context, runID string) (*perfdash.RunData, error)
	ResolveBatch(ctx context.Context, runIDs []string) *perfdash.BatchResult
	FetchRunRecord(ctx context.Context, runID string) (perfdash.Response, error)
}

// CacheAdmin inspects and clears the result cache. *disk.Cache satisfies it.
type CacheAdmin interface {
	MaxSize() int
	Keys() []string
	Clear()
}

// Server serves the API.
type Server struct {
	backend   Backend
	cache     CacheAdmin
	gatherer  prometheus.Gatherer
	batchFile string

	logger  *slog.Logger
	metrics *metrics.Metrics

	handler nethttp.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithCache enables the cache inspection routes.
func WithCache(c CacheAdmin) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// WithGatherer enables /metrics, serving the given gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithBatchFile sets the file each batch result is also written to.
// Empty disables the side file.
func WithBatchFile(path string) Option {
	return func(s *Server) {
		s.batchFile = path
	}
}

// WithLogger sets the logger for access logs and handler errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the collectors updated per request.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Server backed by backend.
func New(backend Backend, opts ...Option) (*Server, error) {
	if backend == nil {
		return nil, errors.New("server: backend is nil")
	}
	s := &Server{
		backend: backend,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}
	s.handler = gzhttp.GzipHandler(s.withRequestID(s.routes()))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *nethttp.ServeMux {
	mux := nethttp.NewServeMux()
	s.handle(mux, "GET /api/fetch_run_data/{$}", "fetch_run_data", s.handleRunRecord)
	s.handle(mux, "GET /api/fetch_graph_data/{$}", "fetch_graph_data", s.handleGraphData)
	s.handle(mux, "GET /api/fetch_multiple_runs/{$}", "fetch_multiple_runs", s.handleMultipleRuns)
	if s.cache != nil {
		s.handle(mux, "GET /api/cache/{$}", "cache", s.handleCacheInfo)
		s.handle(mux, "DELETE /api/cache/{$}", "cache_clear", s.handleCacheClear)
	}
	s.handle(mux, "GET /healthz", "healthz", handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
