package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/web3-frozen/tao-metrics/internal/emission"
)

// EmissionSource is satisfied by the collector.
type EmissionSource interface {
	Latest() (emission.Report, bool)
	Snapshots() []emission.Snapshot
}

func Emission(src EmissionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep, ok := src.Latest()
		if !ok {
			http.Error(w, `{"error":"no data available yet"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rep)
	}
}

// EmissionHistory returns the most recent snapshots, oldest first.
// limit defaults to 96 and is capped at the history capacity.
func EmissionHistory(src EmissionSource, capacity int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 96
		if v := r.URL.Query().Get("limit"); v != "" {
			l, err := strconv.Atoi(v)
			if err != nil || l <= 0 {
				http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
				return
			}
			limit = min(l, capacity)
		}

		snaps := src.Snapshots()
		if len(snaps) > limit {
			snaps = snaps[len(snaps)-limit:]
		}
		if snaps == nil {
			snaps = []emission.Snapshot{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snaps)
	}
}
