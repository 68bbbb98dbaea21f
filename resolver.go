package perfdash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/perfdash/cache"
	"github.com/meigma/perfdash/internal/extract"
	"github.com/meigma/perfdash/metrics"
)

// partitionLen is the length of the year-month prefix of a run identifier.
const partitionLen = 4

const (
	dirView   = "testdirview.cgi"
	outputDir = "ontap_command_output"

	fileWorkload = "stats_workload.txt"
	fileSystem   = "stats_system.txt"
	fileVM       = "system_node_virtual_machine_instance_show.txt"
	fileWAFL     = "stats_wafl_flexlog.txt"

	rdmaOp = "WAFL_SPINNP_WRITE"
)

// Resource labels used in logs and fetch metrics.
const (
	resourceListing     = "listing"
	resourceWorkload    = "workload"
	resourceSystem      = "system"
	resourceVM          = "vm"
	resourceWAFL        = "wafl"
	resourceRecord      = "record"
	resourcePassthrough = "record_passthrough"
)

// passthroughFields is the req_fields list of the raw record passthrough.
const passthroughFields = "purpose,user,peak_mbs"

// Resolver composes per-run results from the upstream services and caches
// them.
//
// Resolver is safe for concurrent use. The cache lock is never held while
// an upstream request is outstanding: each resolution composes its result
// in a local value and publishes it with a single cache Put.
//
// Concurrent Resolve calls for the same uncached run are de-duplicated with
// singleflight, so a burst of requests for one run costs one set of
// upstream requests.
type Resolver struct {
	fetcher Fetcher
	cache   cache.Cache

	summaryURL  string
	resultsURL  string
	resultsRoot string
	fileView    string

	fetchTimeout     time.Duration
	workers          int
	batchConcurrency int

	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group
}

// NewResolver creates a Resolver that fetches through fetcher and caches
// composed results in c. [WithResultsURL] is required.
func NewResolver(fetcher Fetcher, c cache.Cache, opts ...Option) (*Resolver, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is nil")
	}
	if c == nil {
		return nil, errors.New("cache is nil")
	}
	r := &Resolver{
		fetcher:          fetcher,
		cache:            c,
		summaryURL:       DefaultSummaryURL,
		resultsRoot:      DefaultResultsRoot,
		fileView:         DefaultFileView,
		fetchTimeout:     DefaultFetchTimeout,
		workers:          DefaultWorkers,
		batchConcurrency: DefaultBatchConcurrency,
		logger:           slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.resultsURL == "" {
		return nil, errors.New("results URL is required")
	}
	if r.metrics == nil {
		r.metrics = metrics.Discard()
	}
	return r, nil
}

// Resolve returns the composed result for runID.
//
// A cached result is returned without any upstream request. Otherwise the
// run's iteration folders are listed and fetched, the peak iteration is
// selected, the summary record is merged in, and the result is cached
// before it is returned.
//
// Only the listing request is required: its failure returns a *FetchError
// and nothing is cached. Failed per-folder reports and a failed summary
// record leave the affected fields nil.
//
// When ctx ends first, Resolve returns its error at once. A resolution
// already in progress continues for the other callers and is still cached.
//
// The returned value may be shared with concurrent callers and must not be
// modified.
func (r *Resolver) Resolve(ctx context.Context, runID string) (*RunData, error) {
	runID = strings.TrimSpace(runID)
	if err := validateRunID(runID); err != nil {
		return nil, err
	}

	start := time.Now()
	if data, ok := r.cached(runID); ok {
		r.metrics.ResolveDuration.WithLabelValues("hit").Observe(time.Since(start).Seconds())
		r.logger.Debug("run served from cache", slog.String("run_id", runID))
		return data, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", runID, err)
	}

	// The shared resolution is not cancelled by any one caller; each
	// upstream request is bounded by the fetch timeout.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(runID, func() (any, error) {
		// Another caller may have finished this run between the cache
		// check above and entering the group.
		if data, ok := r.cached(runID); ok {
			return data, nil
		}
		data, err := r.collect(detached, runID)
		if err != nil {
			return nil, err
		}
		r.store(runID, data)
		return data, nil
	})

	select {
	case <-ctx.Done():
		r.metrics.ResolveDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("resolve %s: %w", runID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			r.metrics.ResolveDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
			return nil, res.Err
		}
		r.metrics.ResolveDuration.WithLabelValues("miss").Observe(time.Since(start).Seconds())
		if res.Shared {
			r.logger.Debug("run resolution shared", slog.String("run_id", runID))
		}
		data, _ := res.Val.(*RunData) //nolint:errcheck // type assertion always succeeds when err is nil
		return data, nil
	}
}

// FetchRunRecord returns the metadata service's summary record for runID
// exactly as served. The cache is not consulted.
func (r *Resolver) FetchRunRecord(ctx context.Context, runID string) (Response, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Response{}, ErrMissingRunID
	}
	return r.fetch(ctx, resourcePassthrough, r.recordURL(runID, passthroughFields))
}

func validateRunID(runID string) error {
	if runID == "" {
		return ErrMissingRunID
	}
	if len(runID) < partitionLen {
		return ErrInvalidRunID
	}
	return nil
}

// cached returns the cached result for runID when it is a well-formed run
// value. Anything else under the key is treated as a miss.
func (r *Resolver) cached(runID string) (*RunData, bool) {
	value, ok := r.cache.Get(runID)
	if !ok {
		return nil, false
	}
	if value.Kind != cache.KindRun {
		r.logger.Debug("cached value is not a run result",
			slog.String("run_id", runID),
			slog.String("kind", string(value.Kind)))
		return nil, false
	}

	var probe struct {
		DataPoints json.RawMessage `json:"data_points"`
		Summary    json.RawMessage `json:"summary"`
	}
	if err := value.Decode(&probe); err != nil || isNull(probe.DataPoints) || isNull(probe.Summary) {
		r.logger.Warn("ignoring malformed cached run", slog.String("run_id", runID))
		return nil, false
	}

	var data RunData
	if err := value.Decode(&data); err != nil {
		r.logger.Warn("ignoring undecodable cached run",
			slog.String("run_id", runID),
			slog.Any("error", err))
		return nil, false
	}
	return &data, true
}

func (r *Resolver) store(runID string, data *RunData) {
	value, err := cache.NewRun(data)
	if err != nil {
		r.logger.Error("encode run for cache",
			slog.String("run_id", runID),
			slog.Any("error", err))
		return
	}
	r.cache.Put(runID, value)
}

// collect performs the upstream requests for one run. Listing, then every
// folder, then the summary record; the result is not shared until it is
// complete. ctx is never cancelled by a caller; fetches end by timeout.
func (r *Resolver) collect(ctx context.Context, runID string) (*RunData, error) {
	outputPath := path.Join(r.resultsRoot, runID[:partitionLen], runID, outputDir)

	listing, err := r.fetch(ctx, resourceListing, r.dirURL(outputPath))
	if err != nil {
		return nil, err
	}
	folders := extract.IterationFolders(listing.Body, outputPath)
	r.logger.Debug("listed iteration folders",
		slog.String("run_id", runID),
		slog.Int("folders", len(folders)))

	points := r.collectPoints(ctx, outputPath, folders)
	record := r.fetchRecord(ctx, runID)

	return &RunData{
		DataPoints: points,
		Summary:    composeSummary(record, PeakPoint(points)),
	}, nil
}

// collectPoints builds one MetricPoint per folder, in folder order. Folders
// are fetched concurrently up to r.workers at a time.
func (r *Resolver) collectPoints(ctx context.Context, outputPath string, folders []string) []MetricPoint {
	points := make([]MetricPoint, len(folders))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, folder := range folders {
		g.Go(func() error {
			points[i] = r.collectPoint(ctx, path.Join(outputPath, folder), folder)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	return points
}

func (r *Resolver) collectPoint(ctx context.Context, dir, folder string) MetricPoint {
	workload := r.fetchText(ctx, resourceWorkload, r.fileURL(dir, fileWorkload))
	system := r.fetchText(ctx, resourceSystem, r.fileURL(dir, fileSystem))
	vm := r.fetchText(ctx, resourceVM, r.fileURL(dir, fileVM))
	wafl := r.fetchText(ctx, resourceWAFL, r.fileURL(dir, fileWAFL))

	logURL := r.dirURL(dir)
	return MetricPoint{
		Iteration: folder,
		Metrics: Metrics{
			LatencyUS:         extract.Latency(workload),
			ThroughputMBs:     extract.Throughput(workload),
			CPUBusy:           extract.CPUBusy(system),
			VMInstance:        extract.VMInstance(vm),
			ReadIOCache:       extract.ReadIOType(wafl, "cache"),
			ReadIOExtCache:    extract.ReadIOType(wafl, "ext_cache"),
			ReadIODisk:        extract.ReadIOType(wafl, "disk"),
			ReadIOBambooSSD:   extract.ReadIOType(wafl, "bamboo_ssd"),
			RDMAActualLatency: extract.RDMAActualLatency(wafl, rdmaOp),
			ReadOps:           extract.ReadOps(workload),
			LogURL:            &logURL,
		},
	}
}

// fetchRecord returns the run's summary record, or an empty record when it
// cannot be fetched or decoded.
func (r *Resolver) fetchRecord(ctx context.Context, runID string) Record {
	u := r.recordURL(runID, strings.Join(recordFields, ","))
	resp, err := r.fetch(ctx, resourceRecord, u)
	if err != nil {
		r.logger.Warn("summary record unavailable",
			slog.String("run_id", runID),
			slog.Any("error", err))
		return Record{}
	}
	var rec Record
	if err := json.Unmarshal([]byte(resp.Body), &rec); err != nil {
		r.logger.Warn("summary record undecodable",
			slog.String("run_id", runID),
			slog.String("url", u),
			slog.Any("error", err))
		return Record{}
	}
	return rec
}

// fetchText returns the body of a secondary resource, or "" on any failure.
func (r *Resolver) fetchText(ctx context.Context, resource, u string) string {
	resp, err := r.fetch(ctx, resource, u)
	if err != nil {
		r.logger.Warn("report unavailable, fields left empty",
			slog.String("resource", resource),
			slog.Any("error", err))
		return ""
	}
	return resp.Body
}

// fetch performs one bounded upstream request. Transport failures and
// non-2xx answers are returned as *FetchError.
func (r *Resolver) fetch(ctx context.Context, resource, u string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	resp, err := r.fetcher.Fetch(ctx, u)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		r.metrics.FetchTotal.WithLabelValues(resource, outcome).Inc()
		return Response{}, &FetchError{URL: u, Err: err}
	}
	if !resp.OK() {
		r.metrics.FetchTotal.WithLabelValues(resource, metrics.OutcomeFailed).Inc()
		return resp, &FetchError{URL: u, Status: resp.Status}
	}
	r.metrics.FetchTotal.WithLabelValues(resource, metrics.OutcomeOK).Inc()
	return resp, nil
}

func (r *Resolver) dirURL(p string) string {
	return r.resultsURL + "/" + dirView + "?p=" + escapeBrowserPath(p)
}

func (r *Resolver) fileURL(dir, name string) string {
	return r.resultsURL + "/" + r.fileView + "?p=" + escapeBrowserPath(path.Join(dir, name))
}

func (r *Resolver) recordURL(runID, fields string) string {
	return r.summaryURL + "/" + url.PathEscape(runID) + "?req_fields=" + fields
}

// escapeBrowserPath escapes a results path for the file browser's p
// parameter while keeping slashes readable, as the browser's own links do.
func escapeBrowserPath(p string) string {
	escaped := (&url.URL{Path: p}).EscapedPath()
	return strings.NewReplacer("&", "%26", "+", "%2B").Replace(escaped)
}
