package kv

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
)

// RedisPrefix namespaces mirrored KV values inside a shared Redis.
const RedisPrefix = "kv:"

// Open builds the publishing fan-out: Workers KV when the credentials are
// complete, then a Redis mirror when rdb is non-nil. The result may hold no
// stores at all.
func Open(cf CloudflareConfig, rdb *redis.Client, logger *slog.Logger) *Multi {
	m := NewMulti(logger)
	if cf.Configured() {
		client := fetch.New(fetch.Options{Timeout: 30 * time.Second}, logger)
		if c, err := NewCloudflare(cf, client); err == nil {
			m.Add("cloudflare", c)
		}
	} else if cf.AccountID != "" || cf.NamespaceID != "" || cf.APIToken != "" {
		logger.Warn("cloudflare kv partially configured, skipping", "error", cf.Validate())
	}
	if rdb != nil {
		m.Add("redis", NewRedis(rdb, RedisPrefix, 0))
	}
	return m
}
