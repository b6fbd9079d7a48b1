package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/tao-metrics/internal/emission"
)

// Backend persists the snapshot series.
type Backend interface {
	// Load returns stored snapshots, oldest first.
	Load(ctx context.Context) ([]emission.Snapshot, error)
	// Append stores one snapshot.
	Append(ctx context.Context, s emission.Snapshot) error
}

// FileBackend stores history as a JSON array in the issuance_history.json
// layout: [{"ts": 1700000000, "issuance": 10300000.5}, ...].
type FileBackend struct {
	path     string
	capacity int
	mu       sync.Mutex
}

func NewFileBackend(path string, capacity int) *FileBackend {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FileBackend{path: path, capacity: capacity}
}

func (f *FileBackend) Load(_ context.Context) ([]emission.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ReadFile(f.path)
}

// Append rewrites the file with s added, keeping at most capacity entries.
func (f *FileBackend) Append(_ context.Context, s emission.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snaps, err := ReadFile(f.path)
	if err != nil {
		return err
	}
	snaps = append(snaps, s)
	if len(snaps) > f.capacity {
		snaps = snaps[len(snaps)-f.capacity:]
	}
	return WriteFile(f.path, snaps)
}

// ReadFile reads a history file. A missing file is an empty history.
func ReadFile(path string) ([]emission.Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	var snaps []emission.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", path, err)
	}
	return snaps, nil
}

// WriteFile atomically replaces path with snaps.
func WriteFile(path string, snaps []emission.Snapshot) error {
	if snaps == nil {
		snaps = []emission.Snapshot{}
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, path)
}

// RedisBackend keeps history in a capped Redis list.
type RedisBackend struct {
	rdb      *redis.Client
	key      string
	capacity int
}

func NewRedisBackend(rdb *redis.Client, key string, capacity int) *RedisBackend {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if key == "" {
		key = "issuance_history"
	}
	return &RedisBackend{rdb: rdb, key: key, capacity: capacity}
}

func (r *RedisBackend) Load(ctx context.Context) ([]emission.Snapshot, error) {
	raw, err := r.rdb.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", r.key, err)
	}
	snaps := make([]emission.Snapshot, 0, len(raw))
	for _, item := range raw {
		var s emission.Snapshot
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			continue // skip corrupt entries rather than losing the series
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

func (r *RedisBackend) Append(ctx context.Context, s emission.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, int64(-r.capacity), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append %s: %w", r.key, err)
	}
	return nil
}
