// Package alerts forwards newly seen feed alerts to a chat, at most once each.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/web3-frozen/tao-metrics/internal/metrics"
	"github.com/web3-frozen/tao-metrics/internal/sources"
	"github.com/web3-frozen/tao-metrics/internal/telegram"
)

type Sender interface {
	SendMessage(ctx context.Context, text string) error
}

// Deduper is the subset of dedup.Deduplicator the relay needs.
type Deduper interface {
	AlreadySent(ctx context.Context, key string) bool
	Record(ctx context.Context, key string) error
	AdvanceSinceID(ctx context.Context, feed, id string) error
}

type Relay struct {
	source string
	sender Sender
	dedup  Deduper
	logger *slog.Logger
}

func NewRelay(source string, sender Sender, dedup Deduper, logger *slog.Logger) *Relay {
	return &Relay{source: source, sender: sender, dedup: dedup, logger: logger}
}

// Forward sends every alert not yet recorded, oldest first, and advances the
// feed's since-id past each delivered alert. It returns the number sent.
func (r *Relay) Forward(ctx context.Context, alerts []sources.Alert) int {
	sent := 0
	for i := len(alerts) - 1; i >= 0; i-- {
		a := alerts[i]
		if a.ID == "" {
			continue
		}
		key := fmt.Sprintf("x:%s:%s", r.source, a.ID)
		if r.dedup.AlreadySent(ctx, key) {
			metrics.AlertsDeduplicatedTotal.WithLabelValues(r.source).Inc()
			continue
		}

		if err := r.sender.SendMessage(ctx, telegram.FormatAlert(r.source, a.Text, a.Link)); err != nil {
			metrics.AlertsFailedTotal.WithLabelValues(r.source).Inc()
			r.logger.Error("send alert failed", "source", r.source, "id", a.ID, "error", err)
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(r.source).Inc()
		sent++

		if err := r.dedup.Record(ctx, key); err != nil {
			r.logger.Warn("record alert failed", "id", a.ID, "error", err)
		}
		if err := r.dedup.AdvanceSinceID(ctx, r.source, a.ID); err != nil {
			r.logger.Warn("advance since id failed", "id", a.ID, "error", err)
		}
	}
	return sent
}
