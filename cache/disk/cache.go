// Package disk provides a file-backed LRU cache implementation.
package disk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/perfdash/cache"
	"github.com/meigma/perfdash/internal/atomicfile"
	"github.com/meigma/perfdash/internal/jsonobj"
	"github.com/meigma/perfdash/metrics"
)

const (
	// DefaultMaxSize is the number of entries kept when WithMaxSize is not used.
	DefaultMaxSize = 20

	defaultFileMode = 0o600
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Cache implements cache.Cache as an in-memory LRU mirrored to one file.
//
// Every mutation rewrites the whole file while holding the cache lock, so
// the file always reflects a state the in-memory cache actually passed
// through. The file is a JSON object whose key order is the recency order,
// oldest first. Persistence is best-effort: a cache that cannot read or write
// its file keeps working in memory.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, cache.Value]
	path     string
	maxSize  int
	fileMode os.FileMode
	compress bool
	encoder  *zstd.Encoder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Interface compliance.
var _ cache.Cache = (*Cache)(nil)

// Option configures a disk cache.
type Option func(*Cache)

// WithMaxSize sets the maximum number of entries. Values < 1 are invalid.
// Defaults to DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		c.maxSize = n
	}
}

// WithCompression stores the cache file zstd-compressed. Loading detects
// compressed files regardless of this setting.
func WithCompression(enabled bool) Option {
	return func(c *Cache) {
		c.compress = enabled
	}
}

// WithFileMode sets the permissions of the cache file.
func WithFileMode(mode os.FileMode) Option {
	return func(c *Cache) {
		c.fileMode = mode
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the collectors updated by cache operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a cache backed by the file at path and loads its contents.
//
// A missing, unreadable or malformed file yields an empty cache; only
// invalid configuration returns an error.
func New(path string, opts ...Option) (*Cache, error) {
	if path == "" {
		return nil, errors.New("cache file path is empty")
	}
	c := &Cache{
		path:     path,
		maxSize:  DefaultMaxSize,
		fileMode: defaultFileMode,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.maxSize < 1 {
		return nil, fmt.Errorf("max size must be >= 1, got %d", c.maxSize)
	}
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}

	lru, err := simplelru.NewLRU[string, cache.Value](c.maxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = lru

	if c.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.encoder = enc
	}

	c.load()
	c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	return c, nil
}

// Get returns the cached value for key and marks it most recently used.
func (c *Cache) Get(key string) (cache.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.lru.Get(key)
	if !ok {
		c.metrics.CacheMisses.Inc()
		return cache.Value{}, false
	}
	c.metrics.CacheHits.Inc()
	c.persist()
	return value, true
}

// Put stores value under key as the most recently used entry.
//
// Replacing an existing key never evicts; inserting a new key into a full
// cache evicts the least recently used entry first.
func (c *Cache) Put(key string, value cache.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Add(key, value) {
		c.metrics.CacheEvictions.Inc()
	}
	c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	c.persist()
}

// Clear removes every entry and persists the empty cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	c.metrics.CacheEntries.Set(0)
	c.persist()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the cached keys from least to most recently used.
// It does not affect recency.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// MaxSize returns the configured entry bound.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// load fills the LRU from the backing file. Called before the cache is
// shared, so it does not lock.
func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("cache file not found, starting empty", slog.String("path", c.path))
			return
		}
		c.logger.Warn("read cache file, starting empty",
			slog.String("path", c.path),
			slog.Any("error", err))
		return
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return
	}

	if bytes.HasPrefix(data, zstdMagic) {
		data, err = decompress(data)
		if err != nil {
			c.logger.Warn("decompress cache file, starting empty",
				slog.String("path", c.path),
				slog.Any("error", err))
			return
		}
	}

	members, err := jsonobj.Decode(data)
	if err != nil {
		c.logger.Warn("parse cache file, starting empty",
			slog.String("path", c.path),
			slog.Any("error", err))
		return
	}

	for _, m := range members {
		var v cache.Value
		if err := json.Unmarshal(m.Value, &v); err != nil || !validKind(v.Kind) || len(v.Data) == 0 {
			c.logger.Warn("skip malformed cache entry",
				slog.String("path", c.path),
				slog.String("key", m.Key))
			continue
		}
		c.lru.Add(m.Key, v)
	}
	c.logger.Debug("cache loaded",
		slog.String("path", c.path),
		slog.Int("entries", c.lru.Len()))
}

// persist writes the current state to the backing file. Callers hold c.mu.
// Failures are logged and counted, never returned.
func (c *Cache) persist() {
	data, err := c.encode()
	if err == nil {
		err = atomicfile.WriteFile(c.path, data, c.fileMode)
	}
	if err != nil {
		c.metrics.CachePersistErrors.Inc()
		c.logger.Error("persist cache file",
			slog.String("path", c.path),
			slog.Any("error", err))
	}
}

func (c *Cache) encode() ([]byte, error) {
	keys := c.lru.Keys()
	members := make([]jsonobj.Member, 0, len(keys))
	for _, key := range keys {
		value, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode entry %q: %w", key, err)
		}
		members = append(members, jsonobj.Member{Key: key, Value: raw})
	}
	data, err := jsonobj.Encode(members, "  ")
	if err != nil {
		return nil, err
	}
	if c.encoder != nil {
		data = c.encoder.EncodeAll(data, nil)
	}
	return data, nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

func validKind(k cache.Kind) bool {
	return k == cache.KindRaw || k == cache.KindRun
}
