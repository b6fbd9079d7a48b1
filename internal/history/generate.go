package history

import (
	"math"
	"time"

	"github.com/web3-frozen/tao-metrics/internal/emission"
)

const (
	samplesPerDay  = 96
	sampleInterval = 900 // seconds
)

// Generate builds a synthetic history ending near end: `days` days of
// 15-minute samples whose increments wobble ±4% around perDay/96.
func Generate(days int, startIssuance, perDay float64, end time.Time) []emission.Snapshot {
	if days <= 0 {
		return nil
	}
	total := samplesPerDay * days
	start := end.Add(-time.Duration(days) * 24 * time.Hour).Unix()
	perSample := perDay / samplesPerDay

	out := make([]emission.Snapshot, 0, total)
	issuance := startIssuance
	for i := 0; i < total; i++ {
		issuance += perSample * (1 + 0.02*float64((i%5)-2))
		out = append(out, emission.Snapshot{
			Timestamp: start + int64(i*sampleInterval),
			Issuance:  math.Round(issuance*1e9) / 1e9,
		})
	}
	return out
}
