package collector

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3-frozen/tao-metrics/internal/emission"
	"github.com/web3-frozen/tao-metrics/internal/history"
)

type fakeSource struct {
	mu     sync.Mutex
	values []decimal.Decimal
	err    error
	calls  int
}

func (f *fakeSource) TotalIssuance(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	v := f.values[0]
	if len(f.values) > 1 {
		f.values = f.values[1:]
	}
	return v, nil
}

type memBackend struct {
	mu    sync.Mutex
	snaps []emission.Snapshot
}

func (m *memBackend) Load(context.Context) ([]emission.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]emission.Snapshot(nil), m.snaps...), nil
}

func (m *memBackend) Append(_ context.Context, s emission.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (f *fakePublisher) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = value
	return nil
}

func newTestCollector(src IssuanceSource, backend history.Backend, pub *fakePublisher, now time.Time) *Collector {
	opts := Options{Source: src, SourceName: "test", Backend: backend}
	if pub != nil {
		opts.Publisher = pub
	}
	c := New(opts, slog.Default())
	c.now = func() time.Time { return now }
	return c
}

func TestRestoreComputesReport(t *testing.T) {
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	backend := &memBackend{snaps: history.Generate(2, 10_000_000, 7200, end)}

	c := newTestCollector(&fakeSource{}, backend, nil, end)
	_, ok := c.Latest()
	assert.False(t, ok, "no report before restore")

	require.NoError(t, c.Restore(context.Background()))
	rep, ok := c.Latest()
	require.True(t, ok)
	require.NotNil(t, rep.Daily)
	assert.InDelta(t, 7200, *rep.Daily, 50)
	assert.Equal(t, 191, rep.PerIntervalSamples)
	assert.Len(t, c.Snapshots(), 192)
}

func TestRestoreEmptyBackend(t *testing.T) {
	c := newTestCollector(&fakeSource{}, &memBackend{}, nil, time.Now())
	require.NoError(t, c.Restore(context.Background()))
	_, ok := c.Latest()
	assert.False(t, ok)
}

func TestPollRecordsAndPublishes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{values: []decimal.Decimal{
		decimal.RequireFromString("10000000"),
		decimal.RequireFromString("10000300"),
	}}
	backend := &memBackend{}
	pub := &fakePublisher{}
	c := newTestCollector(src, backend, pub, now)

	require.NoError(t, c.Poll(context.Background()))
	rep, ok := c.Latest()
	require.True(t, ok)
	assert.Nil(t, rep.Daily, "one sample yields no estimate")

	c.now = func() time.Time { return now.Add(time.Hour) }
	require.NoError(t, c.Poll(context.Background()))

	rep, _ = c.Latest()
	require.NotNil(t, rep.Daily)
	assert.InDelta(t, 7200, *rep.Daily, 1e-6)
	assert.Len(t, backend.snaps, 2)

	var published emission.Report
	require.NoError(t, json.Unmarshal(pub.puts[ReportKey], &published))
	require.NotNil(t, published.Daily)
	assert.InDelta(t, 7200, *published.Daily, 1e-6)
}

func TestRecordRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	backend := &memBackend{}
	c := newTestCollector(&fakeSource{}, backend, nil, now)

	assert.True(t, c.Record(context.Background(), emission.Snapshot{Timestamp: 100, Issuance: 1}))
	assert.False(t, c.Record(context.Background(), emission.Snapshot{Timestamp: 100, Issuance: 2}))
	assert.False(t, c.Record(context.Background(), emission.Snapshot{Timestamp: 50, Issuance: 3}))
	assert.Len(t, backend.snaps, 1)
}

func TestPollError(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream down")}
	c := newTestCollector(src, nil, nil, time.Now())
	assert.Error(t, c.Poll(context.Background()))
	_, ok := c.Latest()
	assert.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{values: []decimal.Decimal{decimal.NewFromInt(1)}}
	c := New(Options{Source: src, Interval: time.Hour}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := c.Latest()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFailover(t *testing.T) {
	down := &fakeSource{err: errors.New("node down")}
	up := &fakeSource{values: []decimal.Decimal{decimal.NewFromInt(42)}}

	v, err := Failover{down, up}.TotalIssuance(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, 1, down.calls)

	_, err = Failover{down}.TotalIssuance(context.Background())
	assert.ErrorContains(t, err, "node down")

	_, err = Failover{}.TotalIssuance(context.Background())
	assert.Error(t, err)
}
