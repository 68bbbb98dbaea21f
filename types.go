package perfdash

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Response is the result of an upstream GET.
type Response struct {
	Status      int
	Body        string
	ContentType string
}

// OK reports whether the upstream answered with a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Fetcher performs upstream GET requests.
//
// Fetch returns an error only when no response was received. A non-2xx
// answer is returned as a Response with its status.
//
// Implementations must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (Response, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) (Response, error) {
	return f(ctx, url)
}

// Metrics are the values extracted from one iteration folder's reports.
// A nil field means the value was not found.
type Metrics struct {
	LatencyUS         *float64 `json:"latency_us"`
	ThroughputMBs     *float64 `json:"throughput_mbs"`
	CPUBusy           *float64 `json:"cpu_busy"`
	VMInstance        *string  `json:"vm_instance"`
	ReadIOCache       *float64 `json:"read_io_cache"`
	ReadIOExtCache    *float64 `json:"read_io_ext_cache"`
	ReadIODisk        *float64 `json:"read_io_disk"`
	ReadIOBambooSSD   *float64 `json:"read_io_bamboo_ssd"`
	RDMAActualLatency *float64 `json:"rdma_actual_latency"`
	ReadOps           *string  `json:"read_ops"`
	LogURL            *string  `json:"log_url"`
}

// MetricPoint is one data point per iteration folder.
type MetricPoint struct {
	Iteration string `json:"iteration"`
	Metrics
}

// Record is the run summary record kept by the metadata service.
type Record struct {
	Purpose  *string  `json:"purpose"`
	User     *string  `json:"user"`
	PeakMBs  *float64 `json:"peak_mbs"`
	Workload *string  `json:"workload"`
	PeakIter *string  `json:"peak_iter"`
	OntapVer *string  `json:"ontap_ver"`
	PeakOps  *float64 `json:"peak_ops"`
	PeakLat  *float64 `json:"peak_lat"`
	Model    *string  `json:"model"`
}

// recordFields is the req_fields list requested from the metadata service.
var recordFields = []string{
	"purpose", "user", "peak_mbs", "workload", "peak_iter",
	"ontap_ver", "peak_ops", "peak_lat", "model",
}

// UnmarshalJSON decodes a record leniently: a field of the wrong type is
// left nil instead of failing the whole record, and numeric fields accept
// numeric strings.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		Purpose:  jsonString(raw["purpose"]),
		User:     jsonString(raw["user"]),
		PeakMBs:  jsonNumber(raw["peak_mbs"]),
		Workload: jsonString(raw["workload"]),
		PeakIter: jsonString(raw["peak_iter"]),
		OntapVer: jsonString(raw["ontap_ver"]),
		PeakOps:  jsonNumber(raw["peak_ops"]),
		PeakLat:  jsonNumber(raw["peak_lat"]),
		Model:    jsonString(raw["model"]),
	}
	return nil
}

// Summary is the per-run summary: the metadata record merged with the
// peak iteration's metrics.
type Summary struct {
	Record

	PeakIteration     *string  `json:"peak_iteration"`
	PeakThroughputMBs *float64 `json:"peak_throughput_mbs"`
	PeakLatencyUS     *float64 `json:"peak_latency_us"`

	CPUBusy           *float64 `json:"cpu_busy"`
	VMInstance        *string  `json:"vm_instance"`
	ReadIOCache       *float64 `json:"read_io_cache"`
	ReadIOExtCache    *float64 `json:"read_io_ext_cache"`
	ReadIODisk        *float64 `json:"read_io_disk"`
	ReadIOBambooSSD   *float64 `json:"read_io_bamboo_ssd"`
	RDMAActualLatency *float64 `json:"rdma_actual_latency"`
	ReadOps           *string  `json:"read_ops"`
	LogURL            *string  `json:"log_url"`
}

// UnmarshalJSON decodes both the record fields and the peak fields.
// Without it the embedded Record's UnmarshalJSON would be promoted and
// drop every peak field.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	type peak struct {
		PeakIteration     *string  `json:"peak_iteration"`
		PeakThroughputMBs *float64 `json:"peak_throughput_mbs"`
		PeakLatencyUS     *float64 `json:"peak_latency_us"`
		Metrics
	}
	var p peak
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Summary{
		Record:            rec,
		PeakIteration:     p.PeakIteration,
		PeakThroughputMBs: p.PeakThroughputMBs,
		PeakLatencyUS:     p.PeakLatencyUS,
		CPUBusy:           p.CPUBusy,
		VMInstance:        p.VMInstance,
		ReadIOCache:       p.ReadIOCache,
		ReadIOExtCache:    p.ReadIOExtCache,
		ReadIODisk:        p.ReadIODisk,
		ReadIOBambooSSD:   p.ReadIOBambooSSD,
		RDMAActualLatency: p.RDMAActualLatency,
		ReadOps:           p.ReadOps,
		LogURL:            p.LogURL,
	}
	return nil
}

// RunData is the composed result for one run. It is the value cached
// under the run identifier.
type RunData struct {
	DataPoints []MetricPoint `json:"data_points"`
	Summary    Summary       `json:"summary"`
}

func jsonString(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func jsonNumber(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
