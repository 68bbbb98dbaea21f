package perfdash

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/meigma/perfdash/metrics"
)

// Option configures a Resolver.
type Option func(*Resolver) error

// Defaults used by NewResolver.
const (
	DefaultSummaryURL       = "http://grover.rtp.netapp.com/KO/rest/api/Runs"
	DefaultResultsRoot      = "/x/eng/perfcloud/RESULTS"
	DefaultFileView         = "testfileview.cgi"
	DefaultFetchTimeout     = 30 * time.Second
	DefaultWorkers          = 4
	DefaultBatchConcurrency = 4
)

// --- Upstream Options ---

// WithResultsURL sets the base URL of the results file browser, the
// directory that serves testdirview.cgi. Required.
func WithResultsURL(base string) Option {
	return func(r *Resolver) error {
		base, err := normalizeBaseURL(base)
		if err != nil {
			return fmt.Errorf("results URL: %w", err)
		}
		r.resultsURL = base
		return nil
	}
}

// WithSummaryURL sets the base URL of the run summary records. The run
// identifier is appended as a path segment.
// Defaults to DefaultSummaryURL.
func WithSummaryURL(base string) Option {
	return func(r *Resolver) error {
		base, err := normalizeBaseURL(base)
		if err != nil {
			return fmt.Errorf("summary URL: %w", err)
		}
		r.summaryURL = base
		return nil
	}
}

// WithResultsRoot sets the file browser path holding the year-month
// partitions. Defaults to DefaultResultsRoot.
func WithResultsRoot(root string) Option {
	return func(r *Resolver) error {
		root = strings.TrimSuffix(strings.TrimSpace(root), "/")
		if !strings.HasPrefix(root, "/") {
			return errors.New("results root must be an absolute path")
		}
		r.resultsRoot = root
		return nil
	}
}

// WithFileView sets the file browser script that serves file contents.
// Defaults to DefaultFileView.
func WithFileView(script string) Option {
	return func(r *Resolver) error {
		script = strings.Trim(strings.TrimSpace(script), "/")
		if script == "" {
			return errors.New("file view script is empty")
		}
		r.fileView = script
		return nil
	}
}

// --- Concurrency Options ---

// WithFetchTimeout bounds each upstream request.
// Defaults to DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) error {
		if d <= 0 {
			return errors.New("fetch timeout must be positive")
		}
		r.fetchTimeout = d
		return nil
	}
}

// WithWorkers sets how many iteration folders of one run are fetched
// concurrently. Use 1 for strictly sequential fetching.
// Defaults to DefaultWorkers.
func WithWorkers(n int) Option {
	return func(r *Resolver) error {
		if n < 1 {
			return errors.New("workers must be >= 1")
		}
		r.workers = n
		return nil
	}
}

// WithBatchConcurrency sets how many runs ResolveBatch resolves at once.
// Defaults to DefaultBatchConcurrency.
func WithBatchConcurrency(n int) Option {
	return func(r *Resolver) error {
		if n < 1 {
			return errors.New("batch concurrency must be >= 1")
		}
		r.batchConcurrency = n
		return nil
	}
}

// --- Observability Options ---

// WithLogger sets the logger for partial-data warnings and resolution
// events. Defaults to discarding all output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// WithMetrics sets the collectors updated by the resolver.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) error {
		if m != nil {
			r.metrics = m
		}
		return nil
	}
}

func normalizeBaseURL(base string) (string, error) {
	base = strings.TrimSuffix(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("base URL is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("base URL must use http or https")
	}
	if u.Host == "" {
		return "", errors.New("base URL has no host")
	}
	return base, nil
}
