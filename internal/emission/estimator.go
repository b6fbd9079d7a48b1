// Package emission estimates the network's daily emission rate from a series
// of cumulative-issuance snapshots.
//
// The estimator is a pure function of its input. Insufficient data is never an
// error: windows without usable samples come back as absent results.
package emission

import (
	"math"
	"sort"
	"time"
)

const (
	secondsPerDay = 86400

	// DefaultTrim is the fraction trimmed from each tail before averaging.
	DefaultTrim = 0.1
)

// Snapshot is one observation of cumulative issuance.
type Snapshot struct {
	Timestamp int64   `json:"ts"`
	Issuance  float64 `json:"issuance"`
}

// IntervalDelta is the per-day issuance rate implied by two snapshots.
type IntervalDelta struct {
	Timestamp  int64   `json:"ts"`
	RatePerDay float64 `json:"per_day"`
}

// Result is an estimate over a trailing window. Value is nil when the window
// had no usable data.
type Result struct {
	WindowDays int      `json:"window_days"`
	Value      *float64 `json:"value"`
	StdDev     *float64 `json:"stddev,omitempty"`
}

// Absent reports whether the window produced no value.
func (r Result) Absent() bool { return r.Value == nil }

// ComputeIntervalDeltas converts adjacent snapshot pairs into per-day rates.
// Pairs whose elapsed time is zero or negative are skipped.
func ComputeIntervalDeltas(snaps []Snapshot) []IntervalDelta {
	if len(snaps) < 2 {
		return nil
	}
	out := make([]IntervalDelta, 0, len(snaps)-1)
	for i := 1; i < len(snaps); i++ {
		a, b := snaps[i-1], snaps[i]
		dt := b.Timestamp - a.Timestamp
		if dt <= 0 {
			continue
		}
		out = append(out, IntervalDelta{
			Timestamp:  b.Timestamp,
			RatePerDay: (b.Issuance - a.Issuance) * secondsPerDay / float64(dt),
		})
	}
	return out
}

// TrimmedMean drops floor(n*trim) values from each end of the sorted input
// and averages the rest. It falls back to the plain mean when trimming would
// remove everything. ok is false for empty input.
func TrimmedMean(values []float64, trim float64) (mean float64, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	k := int(math.Floor(float64(n) * trim))
	if k < 0 || k >= n/2 {
		return average(sorted), true
	}
	kept := sorted[k : n-k]
	if len(kept) == 0 {
		return average(sorted), true
	}
	return average(kept), true
}

// Estimator computes windowed estimates with a fixed trim fraction.
type Estimator struct {
	trim float64
}

// New returns an Estimator that trims the given fraction from each tail.
// Fractions outside [0, 0.5) are replaced by DefaultTrim.
func New(trim float64) *Estimator {
	if trim < 0 || trim >= 0.5 || math.IsNaN(trim) {
		trim = DefaultTrim
	}
	return &Estimator{trim: trim}
}

// Trim returns the configured trim fraction.
func (e *Estimator) Trim() float64 { return e.trim }

// Daily estimates the rate over the 24 hours before now.
func (e *Estimator) Daily(snaps []Snapshot, now time.Time) Result {
	cutoff := now.Unix() - secondsPerDay
	var rates []float64
	for _, d := range ComputeIntervalDeltas(snaps) {
		if d.Timestamp >= cutoff {
			rates = append(rates, d.RatePerDay)
		}
	}
	res := Result{WindowDays: 1}
	if v, ok := TrimmedMean(rates, e.trim); ok {
		res.Value = &v
	}
	return res
}

// Windowed estimates the rate from the most recent `days` UTC-day means.
// Only the 7-day window carries a dispersion value.
func (e *Estimator) Windowed(snaps []Snapshot, now time.Time, days int) Result {
	return e.windowed(DailyMeans(ComputeIntervalDeltas(snaps)), days)
}

func (e *Estimator) windowed(means []float64, days int) Result {
	res := Result{WindowDays: days}
	if days <= 0 || len(means) == 0 {
		return res
	}
	if len(means) > days {
		means = means[len(means)-days:]
	}
	v, ok := TrimmedMean(means, e.trim)
	if !ok {
		return res
	}
	res.Value = &v
	if days == 7 {
		sd := popStdDev(means)
		res.StdDev = &sd
	}
	return res
}

// DailyMeans groups deltas by UTC calendar day and returns each day's
// arithmetic mean rate, oldest day first.
func DailyMeans(deltas []IntervalDelta) []float64 {
	groups := make(map[string][]float64)
	for _, d := range deltas {
		day := time.Unix(d.Timestamp, 0).UTC().Format("2006-01-02")
		groups[day] = append(groups[day], d.RatePerDay)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	means := make([]float64, 0, len(keys))
	for _, k := range keys {
		means = append(means, average(groups[k]))
	}
	return means
}

func average(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func popStdDev(vs []float64) float64 {
	mean := average(vs)
	var sq float64
	for _, v := range vs {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(vs)))
}
