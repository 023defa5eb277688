// Package dedup tracks webhook deliveries already seen by this service using
// a Redis SETNX marker with TTL. Carriers redeliver on any non-2xx response,
// so duplicates are normal; the database upsert stays the source of truth and
// this filter only feeds duplicate-delivery logging and the replay counter
// exposed by the stats endpoint.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a delivered event id is remembered. Telnyx
	// stops retrying well within a day.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "crmvoice:seen:"
	replayKey = "crmvoice:replays"
)

// Filter marks event ids as seen and counts replayed deliveries.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a delivery filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the event id has NOT been seen before.
// If true, the id is marked as seen atomically (SETNX). Replayed
// deliveries bump a global counter for the stats endpoint.
func (f *Filter) IsNew(ctx context.Context, eventID string) (bool, error) {
	key := keyPrefix + eventID

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	if !set {
		// Best-effort; replay accounting must never fail a delivery.
		_ = f.rdb.Incr(ctx, replayKey).Err()
	}
	return set, nil
}

// ReplayCount returns the number of duplicate deliveries observed since the
// counter was last reset. Missing key reads as zero.
func (f *Filter) ReplayCount(ctx context.Context) (int64, error) {
	n, err := f.rdb.Get(ctx, replayKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dedup replay count: %w", err)
	}
	return n, nil
}
