package alerts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/tao-metrics/internal/dedup"
	"github.com/web3-frozen/tao-metrics/internal/sources"
)

type fakeSender struct {
	msgs []string
	fail map[string]bool
}

func (f *fakeSender) SendMessage(_ context.Context, text string) error {
	for k := range f.fail {
		if strings.Contains(text, k) {
			return errors.New("send failed")
		}
	}
	f.msgs = append(f.msgs, text)
	return nil
}

func newDedup(t *testing.T) *dedup.Deduplicator {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return dedup.NewWithClient(rdb, time.Hour)
}

func TestForwardOldestFirstAndOnce(t *testing.T) {
	dd := newDedup(t)
	sender := &fakeSender{}
	r := NewRelay("bittensor_alert", sender, dd, slog.Default())

	alerts := []sources.Alert{
		{ID: "103", Text: "third"},
		{ID: "102", Text: "second"},
		{ID: "", Text: "no id"},
		{ID: "101", Text: "first"},
	}
	if n := r.Forward(context.Background(), alerts); n != 3 {
		t.Fatalf("sent = %d, want 3", n)
	}
	if !strings.Contains(sender.msgs[0], "first") || !strings.Contains(sender.msgs[2], "third") {
		t.Errorf("messages out of order: %q", sender.msgs)
	}

	if n := r.Forward(context.Background(), alerts); n != 0 {
		t.Errorf("second forward sent = %d, want 0", n)
	}

	since, err := dd.SinceID(context.Background(), "bittensor_alert")
	if err != nil || since != "103" {
		t.Errorf("since id = %q, %v; want 103", since, err)
	}
}

func TestForwardRetriesFailedSends(t *testing.T) {
	dd := newDedup(t)
	sender := &fakeSender{fail: map[string]bool{"flaky": true}}
	r := NewRelay("feed", sender, dd, slog.Default())

	alerts := []sources.Alert{{ID: "2", Text: "flaky"}, {ID: "1", Text: "ok"}}
	if n := r.Forward(context.Background(), alerts); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}

	sender.fail = nil
	if n := r.Forward(context.Background(), alerts); n != 1 {
		t.Errorf("retry sent = %d, want 1", n)
	}
}
