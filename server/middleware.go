package server

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds inbound identifiers that are echoed back.
const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestID returns the identifier assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string) //nolint:errcheck // absent means ""
	return id
}

// withRequestID assigns each request an identifier, reusing a sane inbound
// one, and writes the access log line.
func (s *Server) withRequestID(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

// handle registers h under pattern and counts its responses by route.
func (s *Server) handle(mux *nethttp.ServeMux, pattern, route string, h nethttp.HandlerFunc) {
	mux.HandleFunc(pattern, func(w nethttp.ResponseWriter, r *nethttp.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		h(rec, r)
		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	nethttp.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() nethttp.ResponseWriter {
	return r.ResponseWriter
}
