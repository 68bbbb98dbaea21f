// Package perfdash aggregates performance-test results into per-run JSON
// summaries.
//
// A run's raw results live behind two internal HTTP services: a results
// file browser holding one folder per measurement iteration, and a metadata
// service ("grover") holding a summary record per run. [Resolver] lists a
// run's iteration folders, fetches each folder's text reports, extracts
// metrics from them, picks the peak-throughput iteration, merges in the
// summary record and caches the composed [RunData].
//
// # Quick Start
//
//	store, err := disk.New("cache.json", disk.WithMaxSize(20))
//	if err != nil {
//	    return err
//	}
//	r, err := perfdash.NewResolver(perfhttp.New(), store,
//	    perfdash.WithResultsURL("http://results.example/cgi-bin"),
//	)
//	if err != nil {
//	    return err
//	}
//	data, err := r.Resolve(ctx, "250717hav")
//
// # Failure handling
//
// Only the listing fetch is required. A failed per-folder report or summary
// record leaves the affected fields null and the result is still cached.
// Required failures return a [*FetchError]; missing or malformed input
// returns an error wrapping [ErrConfig].
//
// # Caching
//
// Results are cached under the run identifier in a [cache.Cache]. A cached
// result is returned without any upstream request. Concurrent resolutions
// of the same uncached run share one set of upstream requests.
package perfdash
