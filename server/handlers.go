package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	nethttp "net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/perfdash"
	"github.com/meigma/perfdash/internal/atomicfile"
	"github.com/meigma/perfdash/internal/jsonobj"
)

// batchFileMode is the permission of the batch side file.
const batchFileMode = 0o644

// handleRunRecord passes the upstream summary record through unchanged.
func (s *Server) handleRunRecord(w nethttp.ResponseWriter, r *nethttp.Request) {
	resp, err := s.backend.FetchRunRecord(r.Context(), r.URL.Query().Get("runid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = contentTypeJSON
	}
	s.writeBody(w, r, contentType, []byte(resp.Body))
}

// handleGraphData serves one run's {data_points, summary}, or an object
// keyed by run identifier when a second run is requested.
func (s *Server) handleGraphData(w nethttp.ResponseWriter, r *nethttp.Request) {
	query := r.URL.Query()
	first := strings.TrimSpace(query.Get("run_id1"))
	second := strings.TrimSpace(query.Get("run_id2"))

	if first == "" {
		s.writeError(w, r, perfdash.ErrMissingRunID)
		return
	}
	if second == "" || second == first {
		data, err := s.backend.Resolve(r.Context(), first)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, data)
		return
	}

	ids := []string{first, second}
	results := make([]*perfdash.RunData, len(ids))
	g, ctx := errgroup.WithContext(r.Context())
	for i, id := range ids {
		g.Go(func() error {
			data, err := s.backend.Resolve(ctx, id)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)
		return
	}

	members := make([]jsonobj.Member, len(ids))
	for i, id := range ids {
		raw, err := json.Marshal(results[i])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		members[i] = jsonobj.Member{Key: id, Value: raw}
	}
	body, err := jsonobj.Encode(members, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBody(w, r, contentTypeJSON, body)
}

// handleMultipleRuns resolves a comma-separated batch and records the
// result in the batch side file. A batch whose request ended early is
// not recorded.
func (s *Server) handleMultipleRuns(w nethttp.ResponseWriter, r *nethttp.Request) {
	ids := perfdash.SplitRunIDs(r.URL.Query().Get("run_ids"))
	if len(ids) == 0 {
		s.writeError(w, r, perfdash.ErrMissingRunID)
		return
	}

	result := s.backend.ResolveBatch(r.Context(), ids)
	body, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.Context().Err() == nil {
		s.saveBatch(r, body)
	}
	s.writeBody(w, r, contentTypeJSON, body)
}

// saveBatch writes the batch result to the side file. Failure is logged
// and counted; the response is unaffected.
func (s *Server) saveBatch(r *nethttp.Request, body []byte) {
	if s.batchFile == "" {
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Reset()
		out.Write(body)
	}
	out.WriteByte('\n')
	if err := atomicfile.WriteFile(s.batchFile, out.Bytes(), batchFileMode); err != nil {
		s.metrics.BatchWriteErrors.Inc()
		s.logger.Error("write batch file",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("path", s.batchFile),
			slog.Any("error", err))
	}
}

type cacheInfo struct {
	Size    int      `json:"size"`
	MaxSize int      `json:"max_size"`
	Keys    []string `json:"keys"`
}

func (s *Server) handleCacheInfo(w nethttp.ResponseWriter, r *nethttp.Request) {
	keys := s.cache.Keys()
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, r, cacheInfo{
		Size:    len(keys),
		MaxSize: s.cache.MaxSize(),
		Keys:    keys,
	})
}

func (s *Server) handleCacheClear(w nethttp.ResponseWriter, r *nethttp.Request) {
	s.cache.Clear()
	s.logger.Info("cache cleared", slog.String("request_id", RequestID(r.Context())))
	w.WriteHeader(nethttp.StatusNoContent)
}

func handleHealth(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
