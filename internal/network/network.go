// Package network assembles the network-wide metrics served by the API.
package network

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/tao-metrics/internal/emission"
	"github.com/web3-frozen/tao-metrics/internal/probe"
	"github.com/web3-frozen/tao-metrics/internal/sources"
)

// Metrics is the payload of GET /api/metrics.
type Metrics struct {
	BlockHeight       *uint64   `json:"blockHeight"`
	Validators        int       `json:"validators"`
	Subnets           int       `json:"subnets"`
	Emission          float64   `json:"emission"`
	TotalNeurons      int       `json:"totalNeurons"`
	CirculatingSupply *float64  `json:"circulatingSupply,omitempty"`
	Source            string    `json:"_source"`
	Timestamp         time.Time `json:"_timestamp"`
}

// Chain is the node-side view: block height, issuance and subnet count.
type Chain interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	TotalIssuance(ctx context.Context) (decimal.Decimal, error)
	TotalNetworks(ctx context.Context) (int, error)
}

// Indexer is the Taostats-side view.
type Indexer interface {
	Stats(ctx context.Context) (*sources.NetworkStats, error)
	Subnets(ctx context.Context) ([]map[string]any, error)
}

// EmissionSource yields the latest emission report, if any.
type EmissionSource interface {
	Latest() (emission.Report, bool)
}

type Gatherer struct {
	chain    Chain
	indexer  Indexer
	emission EmissionSource
	fallback float64
	logger   *slog.Logger
}

// NewGatherer wires the sources. chain, indexer and em may be nil; missing
// values then fall back or stay zero. fallback <= 0 uses the legacy constant.
func NewGatherer(chain Chain, indexer Indexer, em EmissionSource, fallback float64, logger *slog.Logger) *Gatherer {
	if fallback <= 0 {
		fallback = emission.LegacyDailyEmission
	}
	return &Gatherer{chain: chain, indexer: indexer, emission: em, fallback: fallback, logger: logger}
}

// Gather queries all sources concurrently. Individual source failures are
// logged and degrade the result; Gather itself only fails when ctx does.
func (g *Gatherer) Gather(ctx context.Context) (*Metrics, error) {
	var (
		block    *uint64
		supply   *float64
		networks int
		stats    *sources.NetworkStats
		records  []map[string]any
	)

	eg, ectx := errgroup.WithContext(ctx)
	if g.chain != nil {
		eg.Go(func() error {
			b, err := g.chain.CurrentBlock(ectx)
			if err != nil {
				g.logger.Warn("current block failed", "source", "subtensor", "error", err)
				return nil
			}
			block = &b
			return nil
		})
		eg.Go(func() error {
			iss, err := g.chain.TotalIssuance(ectx)
			if err != nil {
				g.logger.Warn("total issuance failed", "source", "subtensor", "error", err)
				return nil
			}
			f, _ := iss.Round(2).Float64()
			supply = &f
			return nil
		})
		eg.Go(func() error {
			n, err := g.chain.TotalNetworks(ectx)
			if err != nil {
				g.logger.Warn("total networks failed", "source", "subtensor", "error", err)
				return nil
			}
			networks = n
			return nil
		})
	}
	if g.indexer != nil {
		eg.Go(func() error {
			st, err := g.indexer.Stats(ectx)
			if err != nil {
				g.logger.Warn("stats failed", "source", "taostats", "error", err)
				return nil
			}
			stats = st
			return nil
		})
		eg.Go(func() error {
			recs, err := g.indexer.Subnets(ectx)
			if err != nil {
				g.logger.Warn("subnets failed", "source", "taostats", "error", err)
				return nil
			}
			records = recs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := &Metrics{Emission: g.fallback, Source: "subtensor", Timestamp: time.Now().UTC()}
	if block == nil && g.indexer != nil {
		m.Source = "taostats"
	}

	m.BlockHeight = block
	if m.BlockHeight == nil && stats != nil && stats.BlockNumber > 0 {
		b := stats.BlockNumber
		m.BlockHeight = &b
	}

	m.CirculatingSupply = supply
	if m.CirculatingSupply == nil && stats != nil && stats.Issued.IsPositive() {
		f, _ := stats.Issued.Round(2).Float64()
		m.CirculatingSupply = &f
	}

	m.Subnets, m.Validators, m.TotalNeurons = Tally(records, g.logger)
	switch {
	case m.Subnets > 0:
	case networks > 0:
		m.Subnets = networks
	case stats != nil:
		m.Subnets = stats.Subnets
	}

	if g.emission != nil {
		if rep, ok := g.emission.Latest(); ok {
			m.Emission = rep.DailyOr(g.fallback)
		}
	}
	return m, nil
}

// Tally sums neurons and validator slots over subnet records. Records
// without a netuid are skipped; validator slots count only when positive.
func Tally(records []map[string]any, logger *slog.Logger) (subnets, validators, neurons int) {
	for _, rec := range records {
		uid, ok := probe.ToFloat(rec["netuid"])
		if !ok {
			logger.Debug("subnet record without netuid skipped")
			continue
		}
		subnets++
		if n, ok := probe.NeuronRules.Lookup(rec); ok {
			neurons += int(n)
		} else {
			logger.Debug("neuron count not found", "netuid", int(uid))
		}
		if v, ok := probe.ValidatorRules.Lookup(rec); ok {
			validators += int(v)
		} else {
			logger.Debug("validator slots not found", "netuid", int(uid))
		}
	}
	return subnets, validators, neurons
}
