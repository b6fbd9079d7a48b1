// Package kv publishes job output to key-value stores read by the dashboard.
package kv

import (
	"context"
	"errors"
	"log/slog"

	"github.com/web3-frozen/tao-metrics/internal/metrics"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

type Writer interface {
	Put(ctx context.Context, key string, value []byte) error
}

type Reader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type Store interface {
	Reader
	Writer
}

// Multi fans a write out to several stores. Every store is attempted; the
// joined error reports which ones failed. Reads go to the first store that
// has the key.
type Multi struct {
	stores []named
	logger *slog.Logger
}

type named struct {
	name  string
	store Store
}

func NewMulti(logger *slog.Logger) *Multi {
	return &Multi{logger: logger}
}

// Add registers a store under a name used in logs and metrics.
func (m *Multi) Add(name string, s Store) *Multi {
	m.stores = append(m.stores, named{name: name, store: s})
	return m
}

func (m *Multi) Len() int { return len(m.stores) }

func (m *Multi) Put(ctx context.Context, key string, value []byte) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.store.Put(ctx, key, value); err != nil {
			metrics.KVWritesTotal.WithLabelValues(s.name, "error").Inc()
			m.logger.Error("kv write failed", "backend", s.name, "key", key, "error", err)
			errs = append(errs, err)
			continue
		}
		metrics.KVWritesTotal.WithLabelValues(s.name, "ok").Inc()
		m.logger.Info("kv write", "backend", s.name, "key", key, "bytes", len(value))
	}
	return errors.Join(errs...)
}

func (m *Multi) Get(ctx context.Context, key string) ([]byte, error) {
	var lastErr error = ErrNotFound
	for _, s := range m.stores {
		v, err := s.store.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}
	return nil, lastErr
}
