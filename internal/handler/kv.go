package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/web3-frozen/tao-metrics/internal/kv"
)

var kvKeyRe = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

func writeRaw(w http.ResponseWriter, cacheControl string, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readKV fetches key and writes the error response itself when that fails.
func readKV(w http.ResponseWriter, r *http.Request, store kv.Reader, key string, logger *slog.Logger, notFound any) ([]byte, bool) {
	raw, err := store.Get(r.Context(), key)
	if errors.Is(err, kv.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, notFound)
		return nil, false
	}
	if err != nil {
		logger.Error("kv read failed", "key", key, "error", err)
		http.Error(w, `{"error":"failed to read kv"}`, http.StatusBadGateway)
		return nil, false
	}
	return raw, true
}

// KV returns the raw payload stored under {key}.
func KV(store kv.Reader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if !kvKeyRe.MatchString(key) {
			http.Error(w, `{"error":"invalid key"}`, http.StatusBadRequest)
			return
		}
		raw, ok := readKV(w, r, store, key, logger, map[string]string{"error": "no data found", "_source": key})
		if !ok {
			return
		}
		writeRaw(w, "public, max-age=60", raw)
	}
}

// TaostatsAggregates returns the stored aggregates, or with ?validate=1 a
// diagnostic view reporting whether both moving averages are identical.
func TaostatsAggregates(store kv.Reader, logger *slog.Logger) http.HandlerFunc {
	const key = "taostats_aggregates"
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readKV(w, r, store, key, logger, map[string]string{
			"error": "No Taostats aggregates found", "_source": key, "_status": "empty",
		})
		if !ok {
			return
		}

		if v := r.URL.Query().Get("validate"); v != "1" && v != "true" {
			writeRaw(w, "public, max-age=30", raw)
			return
		}

		var agg struct {
			MA3d *float64 `json:"ma_3d"`
			MA7d *float64 `json:"ma_7d"`
		}
		if err := json.Unmarshal(raw, &agg); err != nil {
			http.Error(w, `{"error":"Failed to parse KV payload as JSON"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"_source":      key,
			"ma_3d":        agg.MA3d,
			"ma_7d":        agg.MA7d,
			"identical":    agg.MA3d != nil && agg.MA7d != nil && *agg.MA3d == *agg.MA7d,
			"_raw_present": true,
		})
	}
}

// PriceHistory serves one timeframe (?range=7 default) in the
// {prices: [[ts, close], ...]} chart shape, or everything with range=all.
func PriceHistory(store kv.Reader, logger *slog.Logger) http.HandlerFunc {
	const key = "price_history"
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readKV(w, r, store, key, logger, map[string]string{
			"error": "No price history found", "_source": "taostats", "_status": "empty",
		})
		if !ok {
			return
		}

		rng := r.URL.Query().Get("range")
		if rng == "" {
			rng = "7"
		}
		if rng == "all" {
			writeRaw(w, "public, max-age=300", raw)
			return
		}

		var hist struct {
			Timestamp json.RawMessage            `json:"_timestamp"`
			Data      map[string]json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &hist); err != nil {
			http.Error(w, `{"error":"Failed to parse price history"}`, http.StatusInternalServerError)
			return
		}
		prices, ok := hist.Data[rng]
		if !ok {
			available := make([]string, 0, len(hist.Data))
			for k := range hist.Data {
				available = append(available, k)
			}
			sort.Strings(available)
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":     "No data for range " + rng,
				"available": available,
				"_source":   "taostats",
			})
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, map[string]any{
			"prices":     prices,
			"_source":    "taostats",
			"_timestamp": hist.Timestamp,
			"range":      rng,
		})
	}
}

// Dex serves the stored DEX snapshot, narrowed by ?type=pairs|trades|volume.
func Dex(store kv.Reader, logger *slog.Logger) http.HandlerFunc {
	const key = "dex_data"
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := readKV(w, r, store, key, logger, map[string]string{
			"error": "No DEX data found", "_source": "dex",
		})
		if !ok {
			return
		}

		typ := r.URL.Query().Get("type")
		if typ == "" {
			writeRaw(w, "public, max-age=60", raw)
			return
		}

		var data struct {
			Pairs          json.RawMessage `json:"pairs"`
			PairCount      int             `json:"pair_count"`
			TotalVolume24h float64         `json:"total_volume_24h"`
			RecentTrades   json.RawMessage `json:"recent_trades"`
			Timestamp      json.RawMessage `json:"_timestamp"`
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			http.Error(w, `{"error":"Failed to parse DEX data"}`, http.StatusInternalServerError)
			return
		}

		switch typ {
		case "pairs":
			pairs := data.Pairs
			if len(pairs) == 0 || string(pairs) == "null" {
				pairs = json.RawMessage("[]")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"pairs":      pairs,
				"pair_count": data.PairCount,
				"_timestamp": data.Timestamp,
			})
		case "trades":
			if len(data.RecentTrades) == 0 || string(data.RecentTrades) == "null" {
				http.Error(w, `{"error":"No trades data"}`, http.StatusNotFound)
				return
			}
			writeRaw(w, "public, max-age=60", data.RecentTrades)
		case "volume":
			writeJSON(w, http.StatusOK, map[string]any{
				"total_volume_24h": data.TotalVolume24h,
				"pair_count":       data.PairCount,
				"_timestamp":       data.Timestamp,
			})
		default:
			http.Error(w, `{"error":"invalid type"}`, http.StatusBadRequest)
		}
	}
}
