package perfdash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/perfdash/cache"
	"github.com/meigma/perfdash/cache/disk"
	"github.com/meigma/perfdash/metrics"
)

const (
	testResultsURL = "http://results.test/cgi-bin"
	testSummaryURL = "http://grover.test/KO/rest/api/Runs"
	testRunID      = "250717hav"
)

// fakeUpstream serves canned responses keyed by URL and counts requests.
// Unknown URLs answer 404.
type fakeUpstream struct {
	mu        sync.Mutex
	responses map[string]Response
	errs      map[string]error
	block     map[string]bool
	gates     map[string]chan struct{}
	calls     map[string]int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		responses: make(map[string]Response),
		errs:      make(map[string]error),
		block:     make(map[string]bool),
		gates:     make(map[string]chan struct{}),
		calls:     make(map[string]int),
	}
}

func (f *fakeUpstream) Fetch(ctx context.Context, u string) (Response, error) {
	f.mu.Lock()
	f.calls[u]++
	resp, ok := f.responses[u]
	err := f.errs[u]
	block := f.block[u]
	gate := f.gates[u]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{Status: http.StatusNotFound, Body: "not found"}, nil
	}
	return resp, nil
}

func (f *fakeUpstream) set(u string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[u] = Response{Status: status, Body: body, ContentType: "text/plain"}
}

func (f *fakeUpstream) fail(u string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[u] = err
}

func (f *fakeUpstream) hang(u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[u] = true
}

// hold makes requests for u wait until the returned channel is closed.
func (f *fakeUpstream) hold(u string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[u] = gate
	return gate
}

func (f *fakeUpstream) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeUpstream) callsTo(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func outputPath(runID string) string {
	return "/x/eng/perfcloud/RESULTS/" + runID[:4] + "/" + runID + "/ontap_command_output"
}

func listingURL(runID string) string {
	return testResultsURL + "/testdirview.cgi?p=" + outputPath(runID)
}

func reportURL(runID, folder, file string) string {
	return testResultsURL + "/testfileview.cgi?p=" + outputPath(runID) + "/" + folder + "/" + file
}

func recordURL(runID string) string {
	return testSummaryURL + "/" + runID + "?req_fields=purpose,user,peak_mbs,workload,peak_iter,ontap_ver,peak_ops,peak_lat,model"
}

func listingBody(runID string, folders ...string) string {
	var b strings.Builder
	for _, f := range folders {
		fmt.Fprintf(&b, "<a href=\"testdirview.cgi?p=%s/%s\">%s</a>\n", outputPath(runID), f, f)
	}
	return b.String()
}

type folderReports struct {
	workload, system, vm, wafl string
}

func (f *fakeUpstream) addRun(runID string, reports map[string]folderReports, order ...string) {
	f.set(listingURL(runID), http.StatusOK, listingBody(runID, order...))
	for folder, r := range reports {
		f.set(reportURL(runID, folder, "stats_workload.txt"), http.StatusOK, r.workload)
		f.set(reportURL(runID, folder, "stats_system.txt"), http.StatusOK, r.system)
		f.set(reportURL(runID, folder, "system_node_virtual_machine_instance_show.txt"), http.StatusOK, r.vm)
		f.set(reportURL(runID, folder, "stats_wafl_flexlog.txt"), http.StatusOK, r.wafl)
	}
}

func newTestResolver(t *testing.T, f Fetcher, opts ...Option) (*Resolver, *disk.Cache) {
	t.Helper()
	store, err := disk.New(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	base := []Option{
		WithResultsURL(testResultsURL),
		WithSummaryURL(testSummaryURL),
	}
	r, err := NewResolver(f, store, append(base, opts...)...)
	require.NoError(t, err)
	return r, store
}

func TestResolveEndToEnd(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{
		"5_257000": {
			workload: "latency:10.0us write_data:1048576b/s read_ops: 5000",
			system:   "cpu_busy: 50.0",
			vm:       "Instance Type: Standard_L32s_v3",
			wafl:     "read_io_type.cache: 12345\nrdma_actual_latency.WAFL_SPINNP_WRITE: 9.87",
		},
	}, "5_257000")
	up.set(recordURL(testRunID), http.StatusOK, `{
		"purpose": "Azure_STANDARD_L32S_v3 NFSv4.1 8k RandRead",
		"user": "perfcloudreg",
		"peak_mbs": 1,
		"workload": "rndread_op_rate",
		"peak_iter": "5_257000",
		"ontap_ver": "R9.18.1xN_250722_0000",
		"peak_ops": 1000,
		"peak_lat": 10
	}`)

	r, _ := newTestResolver(t, up)
	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)

	require.Len(t, data.DataPoints, 1)
	p := data.DataPoints[0]
	assert.Equal(t, "5_257000", p.Iteration)
	require.NotNil(t, p.LatencyUS)
	assert.InDelta(t, 10.0, *p.LatencyUS, 1e-9)
	require.NotNil(t, p.ThroughputMBs)
	assert.InDelta(t, 1.0, *p.ThroughputMBs, 1e-9)
	require.NotNil(t, p.CPUBusy)
	assert.InDelta(t, 50.0, *p.CPUBusy, 1e-9)
	require.NotNil(t, p.VMInstance)
	assert.Equal(t, "Standard_L32s_v3", *p.VMInstance)
	require.NotNil(t, p.ReadIOCache)
	assert.InDelta(t, 12345.0, *p.ReadIOCache, 1e-9)
	assert.Nil(t, p.ReadIODisk)
	require.NotNil(t, p.RDMAActualLatency)
	assert.InDelta(t, 9.87, *p.RDMAActualLatency, 1e-9)
	require.NotNil(t, p.ReadOps)
	assert.Equal(t, "5000", *p.ReadOps)
	require.NotNil(t, p.LogURL)
	assert.Equal(t, listingURL(testRunID)+"/5_257000", *p.LogURL)

	s := data.Summary
	require.NotNil(t, s.Purpose)
	assert.Equal(t, "perfcloudreg", *s.User)
	assert.InDelta(t, 1000.0, *s.PeakOps, 1e-9)
	assert.Nil(t, s.Model)
	require.NotNil(t, s.PeakIteration)
	assert.Equal(t, "5_257000", *s.PeakIteration)
	assert.InDelta(t, 1.0, *s.PeakThroughputMBs, 1e-9)
	assert.InDelta(t, 10.0, *s.PeakLatencyUS, 1e-9)
	assert.Equal(t, p.CPUBusy, s.CPUBusy)
	assert.Equal(t, p.VMInstance, s.VMInstance)
	assert.Equal(t, p.LogURL, s.LogURL)
}

func TestResolveCacheHitShortCircuits(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{
		"1_1000": {workload: "latency:5us write_data:2097152b/s"},
	}, "1_1000")

	r, store := newTestResolver(t, up)
	first, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	calls := up.totalCalls()
	require.Positive(t, calls)
	assert.Equal(t, []string{testRunID}, store.Keys())

	second, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, calls, up.totalCalls(), "cache hit must not fetch")

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))
}

func TestResolveSurvivesRestartFromCacheFile(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{
		"1_1000": {workload: "latency:5us write_data:2097152b/s"},
	}, "1_1000")

	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := disk.New(path)
	require.NoError(t, err)
	r, err := NewResolver(up, store, WithResultsURL(testResultsURL))
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	calls := up.totalCalls()

	reopened, err := disk.New(path)
	require.NoError(t, err)
	r2, err := NewResolver(up, reopened, WithResultsURL(testResultsURL))
	require.NoError(t, err)
	data, err := r2.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, calls, up.totalCalls())
	require.Len(t, data.DataPoints, 1)
	assert.InDelta(t, 2.0, *data.DataPoints[0].ThroughputMBs, 1e-9)
}

func TestResolveDegradesOnSecondaryFailure(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{
		"1_1000": {workload: "write_data:1048576b/s", system: "cpu_busy: 11.0"},
		"2_2000": {workload: "write_data:2097152b/s", system: "cpu_busy: 22.0"},
		"3_3000": {workload: "write_data:3145728b/s", system: "cpu_busy: 33.0"},
	}, "1_1000", "2_2000", "3_3000")
	up.set(reportURL(testRunID, "2_2000", "stats_system.txt"), http.StatusInternalServerError, "boom")
	up.fail(reportURL(testRunID, "3_3000", "stats_wafl_flexlog.txt"), errors.New("connection reset"))

	r, store := newTestResolver(t, up)
	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)

	require.Len(t, data.DataPoints, 3)
	assert.Equal(t, "1_1000", data.DataPoints[0].Iteration)
	assert.Equal(t, "2_2000", data.DataPoints[1].Iteration)
	assert.Equal(t, "3_3000", data.DataPoints[2].Iteration)

	require.NotNil(t, data.DataPoints[0].CPUBusy)
	assert.InDelta(t, 11.0, *data.DataPoints[0].CPUBusy, 1e-9)
	assert.Nil(t, data.DataPoints[1].CPUBusy)
	require.NotNil(t, data.DataPoints[1].ThroughputMBs, "other reports of the folder still count")
	require.NotNil(t, data.DataPoints[2].CPUBusy)
	assert.InDelta(t, 33.0, *data.DataPoints[2].CPUBusy, 1e-9)

	// Summary record is missing (404): record fields are nil, peak fields set.
	assert.Nil(t, data.Summary.Purpose)
	require.NotNil(t, data.Summary.PeakIteration)
	assert.Equal(t, "3_3000", *data.Summary.PeakIteration)

	_, ok := store.Get(testRunID)
	assert.True(t, ok, "partial result is still cached")
}

func TestResolveTimedOutReportIsEmpty(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{
		"1_1000": {workload: "write_data:1048576b/s", system: "cpu_busy: 11.0"},
	}, "1_1000")
	up.hang(reportURL(testRunID, "1_1000", "stats_system.txt"))

	m := metrics.New(prometheus.NewRegistry())
	r, _ := newTestResolver(t, up, WithFetchTimeout(20*time.Millisecond), WithMetrics(m))
	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)

	require.Len(t, data.DataPoints, 1)
	assert.Nil(t, data.DataPoints[0].CPUBusy)
	assert.NotNil(t, data.DataPoints[0].ThroughputMBs)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchTotal.WithLabelValues("system", metrics.OutcomeTimeout)))
}

func TestResolveListingFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      func(*fakeUpstream)
		wantStatus int
	}{
		{
			name:       "status",
			setup:      func(f *fakeUpstream) { f.set(listingURL(testRunID), http.StatusBadGateway, "bad gateway") },
			wantStatus: http.StatusBadGateway,
		},
		{
			name:  "transport",
			setup: func(f *fakeUpstream) { f.fail(listingURL(testRunID), errors.New("dial tcp: refused")) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			up := newFakeUpstream()
			tt.setup(up)
			r, store := newTestResolver(t, up)

			_, err := r.Resolve(context.Background(), testRunID)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFetch)

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, listingURL(testRunID), fe.URL)
			assert.Equal(t, tt.wantStatus, fe.Status)

			assert.Equal(t, 0, store.Len(), "nothing is cached on listing failure")
			assert.Equal(t, 1, up.totalCalls(), "no request follows a failed listing")
		})
	}
}

func TestResolveInvalidRunID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		runID string
		want  error
	}{
		{name: "empty", runID: "", want: ErrMissingRunID},
		{name: "blank", runID: "   ", want: ErrMissingRunID},
		{name: "too short", runID: "250", want: ErrInvalidRunID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			up := newFakeUpstream()
			r, _ := newTestResolver(t, up)
			_, err := r.Resolve(context.Background(), tt.runID)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Equal(t, 0, up.totalCalls())
		})
	}
}

func TestResolveNoFoldersHasNoPeak(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.set(listingURL(testRunID), http.StatusOK, "<html>empty</html>")
	up.set(recordURL(testRunID), http.StatusOK, `{"purpose": "smoke"}`)

	r, _ := newTestResolver(t, up)
	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	assert.NotNil(t, data.DataPoints)
	assert.Empty(t, data.DataPoints)
	assert.Nil(t, data.Summary.PeakIteration)
	assert.Nil(t, data.Summary.PeakThroughputMBs)
	require.NotNil(t, data.Summary.Purpose)
	assert.Equal(t, "smoke", *data.Summary.Purpose)

	out, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"data_points":[]`)
}

func TestResolveUndecodableRecord(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{"1_1": {workload: "write_data:1048576b/s"}}, "1_1")
	up.set(recordURL(testRunID), http.StatusOK, "<html>login required</html>")

	r, _ := newTestResolver(t, up)
	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Nil(t, data.Summary.Purpose)
	require.NotNil(t, data.Summary.PeakIteration)
}

func TestResolveIgnoresNonRunCacheValues(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{"1_1": {workload: "write_data:1048576b/s"}}, "1_1")

	r, store := newTestResolver(t, up)
	store.Put(testRunID, cache.NewRaw("stale text"))
	malformed, err := cache.NewRun(map[string]any{"data_points": []any{}})
	require.NoError(t, err)
	store.Put("250718xyz", malformed)

	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	require.Len(t, data.DataPoints, 1)

	value, ok := store.Get(testRunID)
	require.True(t, ok)
	assert.Equal(t, cache.KindRun, value.Kind, "raw value replaced by run result")

	_, cached := r.cached("250718xyz")
	assert.False(t, cached, "run value without summary is not well-formed")
}

func TestResolveConcurrentCallsFetchOnce(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{
		"1_1": {workload: "write_data:1048576b/s"},
		"2_2": {workload: "write_data:2097152b/s"},
	}, "1_1", "2_2")

	r, _ := newTestResolver(t, up)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := r.Resolve(context.Background(), testRunID)
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			if len(data.DataPoints) != 2 {
				t.Errorf("len(DataPoints) = %d, want 2", len(data.DataPoints))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, up.callsTo(listingURL(testRunID)))
}

func TestResolveCallerDeadlineDoesNotAbortResolution(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{"1_1": {workload: "write_data:1048576b/s", system: "cpu_busy: 7.0"}}, "1_1")
	up.hang(reportURL(testRunID, "1_1", "stats_workload.txt"))

	r, store := newTestResolver(t, up, WithFetchTimeout(100*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, testRunID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The resolution finishes on its own once the hung report times out.
	require.Eventually(t, func() bool { return store.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	calls := up.totalCalls()
	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, calls, up.totalCalls(), "served from cache")
	require.Len(t, data.DataPoints, 1)
	assert.Nil(t, data.DataPoints[0].ThroughputMBs)
	require.NotNil(t, data.DataPoints[0].CPUBusy)
	assert.InDelta(t, 7.0, *data.DataPoints[0].CPUBusy, 1e-9)
}

func TestResolveCancelledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{"1_1": {workload: "write_data:1048576b/s"}}, "1_1")
	up.set(recordURL(testRunID), http.StatusOK, `{"purpose": "shared"}`)
	release := up.hold(recordURL(testRunID))

	r, _ := newTestResolver(t, up)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, testRunID)
		errA <- err
	}()
	require.Eventually(t, func() bool { return up.callsTo(recordURL(testRunID)) == 1 },
		5*time.Second, 5*time.Millisecond, "first caller reaches the summary record")

	type outcome struct {
		data *RunData
		err  error
	}
	resB := make(chan outcome, 1)
	go func() {
		data, err := r.Resolve(context.Background(), testRunID)
		resB <- outcome{data: data, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	require.NotNil(t, b.data.Summary.Purpose)
	assert.Equal(t, "shared", *b.data.Summary.Purpose)
	assert.Equal(t, 1, up.callsTo(listingURL(testRunID)), "second caller joined the running resolution")
	assert.Equal(t, 1, up.callsTo(recordURL(testRunID)))
}

func TestResolveAlreadyCancelledContext(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{"1_1": {workload: "write_data:1048576b/s"}}, "1_1")

	r, store := newTestResolver(t, up)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, testRunID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, up.totalCalls())
	assert.Equal(t, 0, store.Len())
}

func TestResolveDurationByOutcome(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{"1_1": {workload: "write_data:1048576b/s"}}, "1_1")
	up.set(listingURL("250717bad"), http.StatusBadGateway, "bad gateway")

	reg := prometheus.NewRegistry()
	r, _ := newTestResolver(t, up, WithMetrics(metrics.New(reg)))

	_, err := r.Resolve(context.Background(), "250717bad")
	require.ErrorIs(t, err, ErrFetch)
	_, err = r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := make(map[string]uint64)
	for _, mf := range families {
		if mf.GetName() != "perfdash_resolve_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "cache" {
					counts[l.GetValue()] = m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	assert.Equal(t, map[string]uint64{"error": 1, "miss": 1, "hit": 1}, counts)
}

func TestResolveSequentialWorkers(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	up.addRun(testRunID, map[string]folderReports{
		"b": {workload: "write_data:1048576b/s"},
		"a": {workload: "write_data:3145728b/s"},
		"c": {workload: "write_data:2097152b/s"},
	}, "b", "a", "c")

	r, _ := newTestResolver(t, up, WithWorkers(1))
	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	require.Len(t, data.DataPoints, 3)
	assert.Equal(t, "b", data.DataPoints[0].Iteration, "discovery order, not sorted")
	assert.Equal(t, "a", *data.Summary.PeakIteration)
}

func TestFetchRunRecord(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	passthrough := testSummaryURL + "/" + testRunID + "?req_fields=purpose,user,peak_mbs"
	up.responses[passthrough] = Response{Status: http.StatusOK, Body: `{"purpose":"test"}`, ContentType: "application/json"}

	r, store := newTestResolver(t, up)
	resp, err := r.FetchRunRecord(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, `{"purpose":"test"}`, resp.Body)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, 0, store.Len(), "passthrough bypasses the cache")

	_, err = r.FetchRunRecord(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingRunID)

	_, err = r.FetchRunRecord(context.Background(), "250101nope")
	require.ErrorIs(t, err, ErrFetch)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestNewResolverValidation(t *testing.T) {
	t.Parallel()

	store, err := disk.New(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	up := newFakeUpstream()

	tests := []struct {
		name    string
		fetcher Fetcher
		cache   cache.Cache
		opts    []Option
		wantErr string
	}{
		{name: "nil fetcher", cache: store, opts: []Option{WithResultsURL(testResultsURL)}, wantErr: "fetcher is nil"},
		{name: "nil cache", fetcher: up, opts: []Option{WithResultsURL(testResultsURL)}, wantErr: "cache is nil"},
		{name: "missing results URL", fetcher: up, cache: store, wantErr: "results URL is required"},
		{name: "bad results URL", fetcher: up, cache: store, opts: []Option{WithResultsURL("ftp://x")}, wantErr: "http or https"},
		{name: "bad summary URL", fetcher: up, cache: store, opts: []Option{WithResultsURL(testResultsURL), WithSummaryURL("http://")}, wantErr: "no host"},
		{name: "relative root", fetcher: up, cache: store, opts: []Option{WithResultsURL(testResultsURL), WithResultsRoot("x/y")}, wantErr: "absolute path"},
		{name: "empty file view", fetcher: up, cache: store, opts: []Option{WithResultsURL(testResultsURL), WithFileView(" / ")}, wantErr: "file view script is empty"},
		{name: "zero timeout", fetcher: up, cache: store, opts: []Option{WithResultsURL(testResultsURL), WithFetchTimeout(0)}, wantErr: "fetch timeout must be positive"},
		{name: "zero workers", fetcher: up, cache: store, opts: []Option{WithResultsURL(testResultsURL), WithWorkers(0)}, wantErr: "workers must be >= 1"},
		{name: "zero batch", fetcher: up, cache: store, opts: []Option{WithResultsURL(testResultsURL), WithBatchConcurrency(0)}, wantErr: "batch concurrency must be >= 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewResolver(tt.fetcher, tt.cache, tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolverCustomLayout(t *testing.T) {
	t.Parallel()

	up := newFakeUpstream()
	r, _ := newTestResolver(t, up,
		WithResultsRoot("/data/results/"),
		WithFileView("/fileview.cgi"),
		WithResultsURL(testResultsURL+"/"),
	)

	listing := testResultsURL + "/testdirview.cgi?p=/data/results/2507/" + testRunID + "/ontap_command_output"
	up.set(listing, http.StatusOK, `href="testdirview.cgi?p=/data/results/2507/`+testRunID+`/ontap_command_output/7_7"`)
	up.set(testResultsURL+"/fileview.cgi?p=/data/results/2507/"+testRunID+"/ontap_command_output/7_7/stats_workload.txt",
		http.StatusOK, "latency:3us write_data:1048576b/s")

	data, err := r.Resolve(context.Background(), testRunID)
	require.NoError(t, err)
	require.Len(t, data.DataPoints, 1)
	assert.InDelta(t, 3.0, *data.DataPoints[0].LatencyUS, 1e-9)
}
