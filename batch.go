package perfdash

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/meigma/perfdash/internal/jsonobj"
)

// BatchEntry is the outcome of resolving one run in a batch. Exactly one of
// Summary and Error is set.
type BatchEntry struct {
	RunID   string   `json:"-"`
	Summary *Summary `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// BatchResult holds per-run outcomes in request order.
//
// It encodes as a JSON object keyed by run identifier:
//
//	{"250717hav": {"summary": {...}}, "250718abc": {"error": "..."}}
type BatchResult struct {
	Entries []BatchEntry
}

// Get returns the entry for runID.
func (b *BatchResult) Get(runID string) (BatchEntry, bool) {
	for _, e := range b.Entries {
		if e.RunID == runID {
			return e, true
		}
	}
	return BatchEntry{}, false
}

// Failed returns the number of entries carrying an error.
func (b *BatchResult) Failed() int {
	n := 0
	for _, e := range b.Entries {
		if e.Error != "" {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the result as an object in request order.
func (b *BatchResult) MarshalJSON() ([]byte, error) {
	members := make([]jsonobj.Member, 0, len(b.Entries))
	for _, e := range b.Entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		members = append(members, jsonobj.Member{Key: e.RunID, Value: raw})
	}
	return jsonobj.Encode(members, "")
}

// SplitRunIDs parses a comma-separated list of run identifiers, dropping
// blanks and repeats.
func SplitRunIDs(list string) []string {
	return normalizeRunIDs(strings.Split(list, ","))
}

// ResolveBatch resolves every run in runIDs independently. A run that fails
// gets an entry with its error message; other runs are unaffected.
// Blank and repeated identifiers are skipped.
func (r *Resolver) ResolveBatch(ctx context.Context, runIDs []string) *BatchResult {
	ids := normalizeRunIDs(runIDs)
	result := &BatchResult{Entries: make([]BatchEntry, len(ids))}
	sem := semaphore.NewWeighted(int64(r.batchConcurrency))

	var wg sync.WaitGroup
	for i, id := range ids {
		result.Entries[i].RunID = id
		if err := sem.Acquire(ctx, 1); err != nil {
			result.Entries[i].Error = err.Error()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			data, err := r.Resolve(ctx, id)
			if err != nil {
				r.logger.Warn("batch run failed",
					slog.String("run_id", id),
					slog.Any("error", err))
				result.Entries[i].Error = err.Error()
				return
			}
			summary := data.Summary
			result.Entries[i].Summary = &summary
		}()
	}
	wg.Wait()

	return result
}

func normalizeRunIDs(runIDs []string) []string {
	ids := make([]string, 0, len(runIDs))
	seen := make(map[string]bool, len(runIDs))
	for _, id := range runIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
