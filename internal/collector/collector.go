// Package collector polls total issuance, keeps the snapshot history and
// recomputes the emission report after every new sample.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/tao-metrics/internal/emission"
	"github.com/web3-frozen/tao-metrics/internal/history"
	"github.com/web3-frozen/tao-metrics/internal/kv"
	"github.com/web3-frozen/tao-metrics/internal/metrics"
)

const (
	DefaultInterval = 10 * time.Minute
	ReportKey       = "emission"

	retryBase    = 15 * time.Second
	cleanupAge   = 45 * 24 * time.Hour
	cleanupEvery = 6 * time.Hour
)

// IssuanceSource reports cumulative issuance in TAO.
type IssuanceSource interface {
	TotalIssuance(ctx context.Context) (decimal.Decimal, error)
}

// Failover asks each source in turn and returns the first success.
type Failover []IssuanceSource

func (f Failover) TotalIssuance(ctx context.Context) (decimal.Decimal, error) {
	var errs []error
	for _, src := range f {
		v, err := src.TotalIssuance(ctx)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return decimal.Zero, errors.New("no issuance source configured")
	}
	return decimal.Zero, errors.Join(errs...)
}

// Cleaner is implemented by backends that can prune old snapshots.
type Cleaner interface {
	CleanupSnapshots(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Options struct {
	Source     IssuanceSource
	SourceName string
	Buffer     *history.Buffer
	Backend    history.Backend // optional
	Estimator  *emission.Estimator
	Publisher  kv.Writer // optional
	Interval   time.Duration
}

type Collector struct {
	source     IssuanceSource
	sourceName string
	buffer     *history.Buffer
	backend    history.Backend
	estimator  *emission.Estimator
	publisher  kv.Writer
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	latest emission.Report
	ready  bool
}

func New(opts Options, logger *slog.Logger) *Collector {
	if opts.Buffer == nil {
		opts.Buffer = history.NewBuffer(history.DefaultCapacity)
	}
	if opts.Estimator == nil {
		opts.Estimator = emission.New(emission.DefaultTrim)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SourceName == "" {
		opts.SourceName = "issuance"
	}
	return &Collector{
		source:     opts.Source,
		sourceName: opts.SourceName,
		buffer:     opts.Buffer,
		backend:    opts.Backend,
		estimator:  opts.Estimator,
		publisher:  opts.Publisher,
		interval:   opts.Interval,
		logger:     logger,
		now:        time.Now,
	}
}

// Restore loads persisted history into the buffer and computes an initial
// report from it.
func (c *Collector) Restore(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	snaps, err := c.backend.Load(ctx)
	if err != nil {
		return err
	}
	n := c.buffer.Load(snaps)
	c.logger.Info("restored issuance history", "loaded", n, "stored", len(snaps))
	if n > 0 {
		c.recompute(ctx)
	}
	return nil
}

// Run polls until ctx is cancelled. Failed polls are retried with
// exponential backoff capped at the poll interval.
func (c *Collector) Run(ctx context.Context) {
	if err := c.Restore(ctx); err != nil {
		c.logger.Warn("restore issuance history failed", "error", err)
	}
	if _, ok := c.backend.(Cleaner); ok {
		go c.cleanupLoop(ctx)
	}

	c.logger.Info("issuance collector starting", "source", c.sourceName, "interval", c.interval)

	backoff := retryBase
	for {
		wait := c.interval
		if err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("issuance poll failed, retrying", "source", c.sourceName, "error", err, "backoff", backoff)
			wait = backoff
			backoff = time.Duration(math.Min(float64(backoff*2), float64(c.interval)))
		} else {
			backoff = retryBase
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Poll takes one issuance sample and recomputes the report.
func (c *Collector) Poll(ctx context.Context) error {
	start := time.Now()
	iss, err := c.source.TotalIssuance(ctx)
	metrics.PollDuration.WithLabelValues(c.sourceName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollTotal.WithLabelValues(c.sourceName, "error").Inc()
		return err
	}
	metrics.PollTotal.WithLabelValues(c.sourceName, "success").Inc()
	metrics.PollLastSuccess.WithLabelValues(c.sourceName).SetToCurrentTime()

	v, _ := iss.Float64()
	c.Record(ctx, emission.Snapshot{Timestamp: c.now().Unix(), Issuance: v})
	return nil
}

// Record appends a snapshot, persists it and recomputes the report. A
// snapshot whose timestamp does not advance the history is dropped.
func (c *Collector) Record(ctx context.Context, s emission.Snapshot) bool {
	if !c.buffer.Append(s) {
		metrics.HistoryRejectedTotal.Inc()
		c.logger.Debug("snapshot rejected", "ts", s.Timestamp)
		return false
	}
	metrics.HistorySize.Set(float64(c.buffer.Len()))
	metrics.LatestIssuance.Set(s.Issuance)

	if c.backend != nil {
		if err := c.backend.Append(ctx, s); err != nil {
			c.logger.Error("persist snapshot failed", "ts", s.Timestamp, "error", err)
		}
	}
	c.recompute(ctx)
	return true
}

func (c *Collector) recompute(ctx context.Context) {
	rep := c.estimator.Estimate(c.buffer.Snapshots(), c.now())

	c.mu.Lock()
	c.latest = rep
	c.ready = true
	c.mu.Unlock()

	setGauge("24h", rep.Daily)
	setGauge("7d", rep.SevenDay)
	setGauge("30d", rep.ThirtyDay)
	if rep.StdDevSevenDay != nil {
		metrics.EmissionStdDev7d.Set(*rep.StdDevSevenDay)
	}

	if c.publisher == nil {
		return
	}
	body, err := json.Marshal(rep)
	if err != nil {
		c.logger.Error("marshal emission report failed", "error", err)
		return
	}
	if err := c.publisher.Put(ctx, ReportKey, body); err != nil {
		c.logger.Warn("publish emission report failed", "error", err)
	}
}

func setGauge(window string, v *float64) {
	if v != nil {
		metrics.EmissionEstimate.WithLabelValues(window).Set(*v)
	}
}

// Latest returns the most recent report; ok is false until one exists.
func (c *Collector) Latest() (emission.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.ready
}

// Snapshots returns the buffered history, oldest first.
func (c *Collector) Snapshots() []emission.Snapshot {
	return c.buffer.Snapshots()
}

func (c *Collector) cleanupLoop(ctx context.Context) {
	cl := c.backend.(Cleaner)
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := cl.CleanupSnapshots(ctx, cleanupAge)
			if err != nil {
				c.logger.Error("cleanup old snapshots failed", "error", err)
			} else if deleted > 0 {
				c.logger.Info("cleaned up old snapshots", "deleted", deleted)
			}
		}
	}
}
