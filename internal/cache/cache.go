// Package cache provides the result cache capability: one interface with
// a Redis-backed and an in-memory implementation, selected at construction,
// plus in-flight request deduplication for concurrent misses.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cache is the capability consumed by the pipeline. Implementations must
// treat a missing key as (found=false, nil error).
type Cache interface {
	// Get unmarshals the cached value for key into dest and reports
	// whether the key was present.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Per-class TTLs for the expensive pipeline stages.
const (
	TTLRecords    = 5 * time.Minute
	TTLValidation = 10 * time.Minute
	TTLYield      = 15 * time.Minute
	TTLRisk       = time.Hour
)

// Key builds a cache key of the form <class>:<part>:<part>..., with all
// parts lowercased so keys are case-insensitive like record identities.
func Key(class string, parts ...string) string {
	normalized := make([]string, 0, len(parts)+1)
	normalized = append(normalized, class)
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(p))
	}
	return strings.Join(normalized, ":")
}

func marshal(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, dest interface{}) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}
