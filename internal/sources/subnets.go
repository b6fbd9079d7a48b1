package sources

import (
	"sort"
	"time"

	"github.com/web3-frozen/tao-metrics/internal/probe"
)

type SubnetEmission struct {
	NetUID                 int     `json:"netuid"`
	Neurons                int     `json:"neurons"`
	Validators             int     `json:"validators"`
	EstimatedEmissionDaily float64 `json:"estimated_emission_daily"`
}

type TopSubnets struct {
	GeneratedAt          time.Time        `json:"generated_at"`
	Network              string           `json:"network,omitempty"`
	DailyEmissionAssumed float64          `json:"daily_emission_assumed,omitempty"`
	TotalNeurons         int              `json:"total_neurons,omitempty"`
	TopN                 int              `json:"top_n,omitempty"`
	Subnets              []SubnetEmission `json:"top_subnets"`
}

// RankSubnets splits dailyEmission across subnets by neuron share and
// returns the topN largest. Records without a netuid are skipped.
func RankSubnets(records []map[string]any, dailyEmission float64, topN int, network string, now time.Time) TopSubnets {
	if topN < 1 {
		topN = 1
	}
	out := TopSubnets{GeneratedAt: now.UTC(), Subnets: []SubnetEmission{}}

	var rows []SubnetEmission
	total := 0
	for _, rec := range records {
		uid, ok := probe.ToFloat(rec["netuid"])
		if !ok {
			continue
		}
		n := probe.NeuronRules.Int(rec, 0)
		total += n
		rows = append(rows, SubnetEmission{
			NetUID:     int(uid),
			Neurons:    n,
			Validators: probe.ValidatorRules.Int(rec, 0),
		})
	}
	if total <= 0 {
		return out
	}

	for i := range rows {
		share := float64(rows[i].Neurons) / float64(total)
		rows[i].EstimatedEmissionDaily = round(share*dailyEmission, 6)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].EstimatedEmissionDaily > rows[j].EstimatedEmissionDaily
	})
	if len(rows) > topN {
		rows = rows[:topN]
	}

	out.Network = network
	out.DailyEmissionAssumed = dailyEmission
	out.TotalNeurons = total
	out.TopN = topN
	out.Subnets = rows
	return out
}
