package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tripKeyPrefix = "catalog:trip:"
	// missingTrip marks an id the store reported as not bookable.
	missingTrip = "-"
)

// Cache keeps trip records as JSON in Redis. Unknown trip ids are remembered
// for a shorter MissTTL so repeated lookups of a bad id skip Postgres.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	MissTTL time.Duration
}

// NewCache constructs a trip cache whose entries expire after ttl. Misses are
// kept for a tenth of ttl, at least one second.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, MissTTL: max(ttl/10, time.Second)}
}

func tripKey(id int64) string {
	return tripKeyPrefix + strconv.FormatInt(id, 10)
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Get looks up a trip. found is false on a cache miss. A remembered unknown id
// is reported as found with ErrTripNotFound. Undecodable entries are dropped
// and treated as misses.
func (c *Cache) Get(ctx context.Context, id int64) (trip Trip, found bool, err error) {
	if !c.enabled() {
		return Trip{}, false, nil
	}
	key := tripKey(id)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Trip{}, false, nil
	}
	if err != nil {
		return Trip{}, false, err
	}
	if string(data) == missingTrip {
		return Trip{}, true, ErrTripNotFound
	}
	if err := json.Unmarshal(data, &trip); err != nil || trip.ID != id {
		_ = c.client.Del(ctx, key).Err()
		return Trip{}, false, nil
	}
	return trip, true, nil
}

// Put stores trip under its id.
func (c *Cache) Put(ctx context.Context, trip Trip) error {
	if !c.enabled() || trip.ID <= 0 {
		return nil
	}
	data, err := json.Marshal(trip)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, tripKey(trip.ID), data, c.ttl).Err()
}

// PutMissing remembers that id is not bookable.
func (c *Cache) PutMissing(ctx context.Context, id int64) error {
	if !c.enabled() || c.MissTTL <= 0 {
		return nil
	}
	return c.client.Set(ctx, tripKey(id), missingTrip, c.MissTTL).Err()
}

// Forget removes any cached state for id.
func (c *Cache) Forget(ctx context.Context, id int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, tripKey(id)).Err()
}
