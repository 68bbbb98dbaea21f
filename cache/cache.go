// Package cache defines the key/value cache used in front of run resolution.
//
// Keys are run identifiers (or namespaced identifiers). Values are a tagged
// variant: a [Value] carries an explicit [Kind] so consumers never have to
// guess what a cached payload holds.
package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the payload stored in a [Value].
type Kind string

const (
	// KindRaw marks a value holding raw upstream text.
	KindRaw Kind = "raw"

	// KindRun marks a value holding a composed run result
	// ({data_points, summary}).
	KindRun Kind = "run"
)

// Value is a cached payload.
//
// Data is JSON: a JSON string for [KindRaw], a JSON object for [KindRun].
// CachedAt records when the value was produced.
type Value struct {
	Kind     Kind            `json:"kind"`
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
}

// Cache is a bounded key/value store with least-recently-used eviction.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key and marks it most recently used.
	// Returns false if the key is not cached.
	Get(key string) (Value, bool)

	// Put stores value under key as the most recently used entry,
	// evicting the least recently used entry if the cache is full.
	Put(key string, value Value)

	// Clear removes every entry.
	Clear()
}

// NewRaw wraps raw text in a [KindRaw] value.
func NewRaw(text string) Value {
	data, _ := json.Marshal(text) //nolint:errcheck // strings always marshal
	return Value{Kind: KindRaw, Data: data, CachedAt: time.Now().UTC()}
}

// NewRun encodes v as a [KindRun] value.
func NewRun(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("encode run value: %w", err)
	}
	return Value{Kind: KindRun, Data: data, CachedAt: time.Now().UTC()}, nil
}

// Text returns the payload of a [KindRaw] value.
func (v Value) Text() (string, bool) {
	if v.Kind != KindRaw {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// Decode unmarshals the payload of a [KindRun] value into dst.
func (v Value) Decode(dst any) error {
	if v.Kind != KindRun {
		return fmt.Errorf("decode cache value: kind %q is not %q", v.Kind, KindRun)
	}
	if err := json.Unmarshal(v.Data, dst); err != nil {
		return fmt.Errorf("decode cache value: %w", err)
	}
	return nil
}
