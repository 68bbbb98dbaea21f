// Package extract pulls metric values out of loosely structured report text.
//
// Every function is a single independent pattern search. A missing label is
// not an error: the function returns nil.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// bytesPerMB converts b/s counters to MB/s.
const bytesPerMB = 1 << 20

var (
	latencyRe    = regexp.MustCompile(`(?:^|[^\w.])latency:\s*(\d+(?:\.\d+)?)\s*us`)
	readDataRe   = regexp.MustCompile(`(?:^|[^\w.])read_data:\s*(\d+(?:\.\d+)?)b/s`)
	writeDataRe  = regexp.MustCompile(`(?:^|[^\w.])write_data:\s*(\d+(?:\.\d+)?)b/s`)
	cpuBusyRe    = regexp.MustCompile(`(?:^|[^\w.])cpu_busy:\s*(\d+(?:\.\d+)?)`)
	vmInstanceRe = regexp.MustCompile(`Instance Type:\s*(\S+)`)
	readOpsRe    = regexp.MustCompile(`(?:^|[^\w.])read_ops:\s*(\d+)`)

	// Patterns keyed by counter name are compiled once per name.
	readIOTypeRes sync.Map // map[string]*regexp.Regexp
	rdmaRes       sync.Map // map[string]*regexp.Regexp
)

// IterationFolders returns the folder identifiers linked directly below
// prefix in a listing body, in order of first appearance and without
// duplicates. prefix is the results path of a run's output directory, for
// example "/x/eng/perfcloud/RESULTS/2507/250717hav/ontap_command_output".
func IterationFolders(body, prefix string) []string {
	prefix = strings.TrimSuffix(prefix, "/")
	re := regexp.MustCompile(regexp.QuoteMeta(prefix) + `/([^/"'\s&<>?#]+)`)

	var folders []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		folders = append(folders, id)
	}
	return folders
}

// Latency returns the value of a "latency:<n>us" token in microseconds.
// Prefixed labels such as "rdma_actual_latency" do not match.
func Latency(text string) *float64 {
	return findFloat(latencyRe, text)
}

// Throughput returns read_data plus write_data, given in b/s, as MB/s.
// It returns nil when neither counter is present.
func Throughput(text string) *float64 {
	read := findFloat(readDataRe, text)
	write := findFloat(writeDataRe, text)
	if read == nil && write == nil {
		return nil
	}
	var total float64
	if read != nil {
		total += *read
	}
	if write != nil {
		total += *write
	}
	mbs := total / bytesPerMB
	return &mbs
}

// CPUBusy returns the value of a "cpu_busy: <n>" token.
func CPUBusy(text string) *float64 {
	return findFloat(cpuBusyRe, text)
}

// VMInstance returns the value of an "Instance Type: <name>" token.
func VMInstance(text string) *string {
	m := vmInstanceRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &m[1]
}

// ReadIOType returns the value of a "read_io_type.<kind>: <n>" token.
func ReadIOType(text, kind string) *float64 {
	re := cachedPattern(&readIOTypeRes, kind, `(?:^|[^\w.])read_io_type\.%s:\s*(\d+(?:\.\d+)?)`)
	return findFloat(re, text)
}

// RDMAActualLatency returns the value of a
// "rdma_actual_latency.<op>: <n>" token.
func RDMAActualLatency(text, op string) *float64 {
	re := cachedPattern(&rdmaRes, op, `(?:^|[^\w.])rdma_actual_latency\.%s:\s*(\d+(?:\.\d+)?)`)
	return findFloat(re, text)
}

// ReadOps returns the digits of a "read_ops: <n>" token as reported.
func ReadOps(text string) *string {
	m := readOpsRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &m[1]
}

func findFloat(re *regexp.Regexp, text string) *float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &f
}

func cachedPattern(cache *sync.Map, name, format string) *regexp.Regexp {
	if re, ok := cache.Load(name); ok {
		return re.(*regexp.Regexp) //nolint:forcetypeassert // only *regexp.Regexp is stored
	}
	re := regexp.MustCompile(strings.Replace(format, "%s", regexp.QuoteMeta(name), 1))
	actual, _ := cache.LoadOrStore(name, re)
	return actual.(*regexp.Regexp) //nolint:forcetypeassert // only *regexp.Regexp is stored
}
