package emission

import "time"

// LegacyDailyEmission is the constant dashboards showed before the estimator
// existed. Consumers may substitute it for an absent daily estimate.
const LegacyDailyEmission = 7200.0

// Report is the serialized form consumed by the dashboard.
type Report struct {
	Daily              *float64  `json:"emission_daily"`
	SevenDay           *float64  `json:"emission_7d"`
	ThirtyDay          *float64  `json:"emission_30d"`
	StdDevSevenDay     *float64  `json:"emission_sd_7d"`
	PerIntervalSamples int       `json:"per_interval_samples"`
	ComputedAt         time.Time `json:"_timestamp"`
}

// Estimate runs the 24h, 7d and 30d windows over snaps.
func (e *Estimator) Estimate(snaps []Snapshot, now time.Time) Report {
	deltas := ComputeIntervalDeltas(snaps)
	means := DailyMeans(deltas)

	daily := e.Daily(snaps, now)
	week := e.windowed(means, 7)
	month := e.windowed(means, 30)

	return Report{
		Daily:              daily.Value,
		SevenDay:           week.Value,
		ThirtyDay:          month.Value,
		StdDevSevenDay:     week.StdDev,
		PerIntervalSamples: len(deltas),
		ComputedAt:         now.UTC(),
	}
}

// DailyOr returns the daily estimate, or fallback when it is absent.
func (r Report) DailyOr(fallback float64) float64 {
	if r.Daily == nil {
		return fallback
	}
	return *r.Daily
}
