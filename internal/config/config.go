// Package config loads the perfdash server configuration.
//
// A YAML file is decoded over Default; command-line flags are applied by
// the caller afterwards, then Validate is run on the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Listen      string   `yaml:"listen"`
	DebugListen string   `yaml:"debug_listen"`
	BatchFile   string   `yaml:"batch_file"`
	Log         Log      `yaml:"log"`
	Cache       Cache    `yaml:"cache"`
	Upstream    Upstream `yaml:"upstream"`
}

// Log selects the log handler.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Cache configures the persistent result cache.
type Cache struct {
	File     string `yaml:"file"`
	MaxSize  int    `yaml:"max_size"`
	Compress bool   `yaml:"compress"`
}

// Upstream configures the results browser and summary record service.
type Upstream struct {
	SummaryURL       string        `yaml:"summary_url"`
	ResultsURL       string        `yaml:"results_url"`
	ResultsRoot      string        `yaml:"results_root"`
	FileView         string        `yaml:"file_view"`
	Timeout          time.Duration `yaml:"timeout"`
	Workers          int           `yaml:"workers"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
}

// Default returns the configuration used when no file is given.
// Upstream.ResultsURL has no default and must be set.
func Default() Config {
	return Config{
		Listen:    ":8000",
		BatchFile: "multiple_runs.json",
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Cache: Cache{
			File:    "cache.json",
			MaxSize: 20,
		},
		Upstream: Upstream{
			SummaryURL:       "http://grover.rtp.netapp.com/KO/rest/api/Runs",
			ResultsRoot:      "/x/eng/perfcloud/RESULTS",
			FileView:         "testfileview.cgi",
			Timeout:          30 * time.Second,
			Workers:          4,
			BatchConcurrency: 4,
		},
	}
}

// Load reads the YAML file at path over Default. An empty path returns
// Default unchanged. The result is not validated.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Upstream.ResultsURL) == "" {
		errs = append(errs, errors.New("upstream.results_url is required"))
	}
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if strings.TrimSpace(c.Cache.File) == "" {
		errs = append(errs, errors.New("cache.file is required"))
	}
	if c.Cache.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("cache.max_size must be >= 1, got %d", c.Cache.MaxSize))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must be positive, got %s", c.Upstream.Timeout))
	}
	if c.Upstream.Workers < 1 {
		errs = append(errs, fmt.Errorf("upstream.workers must be >= 1, got %d", c.Upstream.Workers))
	}
	if c.Upstream.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("upstream.batch_concurrency must be >= 1, got %d", c.Upstream.BatchConcurrency))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the logger described by l, writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log.format %q", l.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}
