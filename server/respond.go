package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	nethttp "net/http"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/perfdash"
)

const contentTypeJSON = "application/json"

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v and writes it with a content ETag. A request whose
// If-None-Match names the same ETag gets 304 without a body.
func (s *Server) writeJSON(w nethttp.ResponseWriter, r *nethttp.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBody(w, r, contentTypeJSON, body)
}

func (s *Server) writeBody(w nethttp.ResponseWriter, r *nethttp.Request, contentType string, body []byte) {
	etag := `"` + digest.FromBytes(body).String() + `"`
	w.Header().Set("ETag", etag)
	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(nethttp.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(nethttp.StatusOK)
	_, _ = w.Write(body)
}

// writeError maps err to a status and writes an error body. Invalid input
// is 400; everything else is 500.
func (s *Server) writeError(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	status := nethttp.StatusInternalServerError
	if errors.Is(err, perfdash.ErrConfig) {
		status = nethttp.StatusBadRequest
	}
	s.logger.Warn("request failed",
		slog.String("request_id", RequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("error", err))

	body, _ := json.Marshal(errorBody{Error: err.Error()}) //nolint:errcheck // a string field always encodes
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// etagMatch reports whether an If-None-Match header value matches etag.
// Weak validators compare equal to their strong form.
func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
