package sources

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// PriceTimeframes are the chart ranges in days.
var PriceTimeframes = []int{7, 30, 60, 90, 365}

type PriceHistory struct {
	Source    string                  `json:"_source"`
	Timestamp time.Time               `json:"_timestamp"`
	Data      map[string][]PricePoint `json:"data"`
}

// Aggregates are moving averages of the daily close used by the volume
// signal on the dashboard.
type Aggregates struct {
	LastClose   *float64  `json:"last_close"`
	MA3d        *float64  `json:"ma_3d"`
	MA7d        *float64  `json:"ma_7d"`
	PctVsMA3d   *float64  `json:"pct_change_vs_ma_3d"`
	PctVsMA7d   *float64  `json:"pct_change_vs_ma_7d"`
	Samples     int       `json:"samples"`
	LastUpdated time.Time `json:"last_updated"`
	Source      string    `json:"_source"`
}

// FetchPriceHistory pulls every timeframe. A failing timeframe is logged
// and left out; the result is empty only if all of them fail.
func (t *Taostats) FetchPriceHistory(ctx context.Context, now time.Time, logger *slog.Logger) *PriceHistory {
	out := &PriceHistory{Source: "taostats", Timestamp: now.UTC(), Data: map[string][]PricePoint{}}
	for _, days := range PriceTimeframes {
		start := now.Add(-time.Duration(days) * 24 * time.Hour)
		points, err := t.PriceOHLC(ctx, start, now)
		if err != nil {
			logger.Warn("price history fetch failed", "days", days, "error", err)
			continue
		}
		if len(points) == 0 {
			logger.Warn("price history empty", "days", days)
			continue
		}
		out.Data[strconv.Itoa(days)] = points
	}
	return out
}

// ComputeAggregates derives moving averages from ascending daily closes.
func ComputeAggregates(points []PricePoint, now time.Time) Aggregates {
	agg := Aggregates{Samples: len(points), LastUpdated: now.UTC(), Source: "taostats"}
	if len(points) == 0 {
		return agg
	}
	last := points[len(points)-1][1]
	agg.LastClose = &last
	agg.MA3d = movingAverage(points, 3)
	agg.MA7d = movingAverage(points, 7)
	agg.PctVsMA3d = pctChange(last, agg.MA3d)
	agg.PctVsMA7d = pctChange(last, agg.MA7d)
	return agg
}

func movingAverage(points []PricePoint, n int) *float64 {
	if len(points) < n {
		return nil
	}
	var sum float64
	for _, p := range points[len(points)-n:] {
		sum += p[1]
	}
	v := round(sum/float64(n), 4)
	return &v
}

func pctChange(v float64, base *float64) *float64 {
	if base == nil || *base == 0 {
		return nil
	}
	pct := round((v-*base) / *base * 100, 2)
	return &pct
}
