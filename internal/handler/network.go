package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/web3-frozen/tao-metrics/internal/cache"
	"github.com/web3-frozen/tao-metrics/internal/metrics"
	"github.com/web3-frozen/tao-metrics/internal/network"
)

type Gatherer interface {
	Gather(ctx context.Context) (*network.Metrics, error)
}

// NetworkMetrics serves the gathered network metrics, recomputing at most
// once per ttl. When a refresh fails a previously cached value is served.
func NetworkMetrics(g Gatherer, c *cache.Cache[*network.Metrics], ttl time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, hit, err := c.RefreshIfStale(time.Now(), ttl, func() (*network.Metrics, error) {
			return g.Gather(r.Context())
		})
		switch {
		case err != nil && m == nil:
			metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
			logger.Error("gather network metrics failed", "error", err)
			http.Error(w, `{"error":"metrics unavailable"}`, http.StatusServiceUnavailable)
			return
		case err != nil:
			metrics.CacheRequestsTotal.WithLabelValues("stale").Inc()
			logger.Warn("serving stale network metrics", "error", err)
		case hit:
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		default:
			metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=30")
		_ = json.NewEncoder(w).Encode(m)
	}
}
