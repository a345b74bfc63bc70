// Package cache holds the best-effort result cache that sits in front of expensive execution
// and the concept mapping store. Entries are safe to lose.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"nlsql-workers/internal/common/metrics"
)

// Cache is a get/set/TTL store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Clock lets tests drive expiry deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Key derives a content-addressed key from the component, the datasource and the applied filters.
// Filters are marshalled through encoding/json, which sorts map keys, so equal filter sets hash equally.
func Key(component, datasource string, filters interface{}) (string, error) {
	raw, err := json.Marshal(struct {
		Component  string      `json:"component"`
		Datasource string      `json:"datasource"`
		Filters    interface{} `json:"filters"`
	}{component, datasource, filters})
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// GetJSON decodes a cached value into dst. A corrupt entry counts as a miss.
func GetJSON(ctx context.Context, c Cache, key string, dst interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON encodes value and stores it.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Instrumented counts hits and misses per namespace.
type Instrumented struct {
	Cache
	namespace string
}

func NewInstrumented(c Cache, namespace string) *Instrumented {
	return &Instrumented{Cache: c, namespace: namespace}
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := i.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues(i.namespace, "error").Inc()
	case ok:
		metrics.CacheLookups.WithLabelValues(i.namespace, "hit").Inc()
	default:
		metrics.CacheLookups.WithLabelValues(i.namespace, "miss").Inc()
	}
	return v, ok, err
}
