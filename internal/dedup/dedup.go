// Package dedup remembers which social alerts were already relayed and the
// newest status id seen per feed, so restarts neither resend nor skip.
package dedup

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	alertPrefix   = "alert:"
	sinceIDPrefix = "since_id:"
)

// Deduplicator checks and records whether an alert has been relayed.
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect parses redisURL, pings the server and returns the client.
func Connect(redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// New creates a Deduplicator backed by its own Redis connection.
func New(redisURL, password string) (*Deduplicator, error) {
	rdb, err := Connect(redisURL, password)
	if err != nil {
		return nil, err
	}
	return &Deduplicator{rdb: rdb, ttl: 30 * 24 * time.Hour}, nil
}

// NewWithClient shares an existing connection. Keys expire after ttl; zero
// keeps them forever.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	return &Deduplicator{rdb: rdb, ttl: ttl}
}

// Close shuts down the Redis connection.
func (d *Deduplicator) Close() error {
	return d.rdb.Close()
}

// AlreadySent reports whether key was recorded. Redis errors count as sent
// so an outage never triggers a burst of repeats.
func (d *Deduplicator) AlreadySent(ctx context.Context, key string) bool {
	exists, err := d.rdb.Exists(ctx, alertPrefix+key).Result()
	if err != nil {
		return true
	}
	return exists > 0
}

// Record marks key as sent.
func (d *Deduplicator) Record(ctx context.Context, key string) error {
	return d.rdb.Set(ctx, alertPrefix+key, "1", d.ttl).Err()
}

// Clear removes a key so the alert can be relayed again.
func (d *Deduplicator) Clear(ctx context.Context, key string) {
	d.rdb.Del(ctx, alertPrefix+key) //nolint:errcheck
}

// ClearByPattern removes every recorded key matching a glob pattern.
func (d *Deduplicator) ClearByPattern(ctx context.Context, pattern string) {
	iter := d.rdb.Scan(ctx, 0, alertPrefix+pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		d.rdb.Del(ctx, keys...) //nolint:errcheck
	}
}

// SinceID returns the newest status id recorded for feed, or "" if none.
func (d *Deduplicator) SinceID(ctx context.Context, feed string) (string, error) {
	v, err := d.rdb.Get(ctx, sinceIDPrefix+feed).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// AdvanceSinceID stores id for feed if it is numerically newer than the
// stored one. Status ids exceed 64 bits on some platforms, so they are
// compared as big integers.
func (d *Deduplicator) AdvanceSinceID(ctx context.Context, feed, id string) error {
	next, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return nil
	}
	cur, err := d.SinceID(ctx, feed)
	if err != nil {
		return err
	}
	if prev, ok := new(big.Int).SetString(cur, 10); ok && prev.Cmp(next) >= 0 {
		return nil
	}
	return d.rdb.Set(ctx, sinceIDPrefix+feed, id, 0).Err()
}
