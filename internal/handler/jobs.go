package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/web3-frozen/tao-metrics/internal/store"
)

type JobRunLister interface {
	RecentJobRuns(ctx context.Context) ([]store.JobRun, error)
}

// JobRuns lists the latest run of every batch job.
func JobRuns(s JobRunLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.RecentJobRuns(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to list job runs"}`, http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []store.JobRun{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(runs)
	}
}
