package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/tao-metrics/internal/emission"
)

type Store struct {
	pool     *pgxpool.Pool
	capacity int
}

// New connects to Postgres. Load returns at most capacity snapshots.
func New(ctx context.Context, databaseURL string, capacity int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, capacity: capacity}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Issuance snapshots ---

// Append inserts a snapshot. Re-inserting a timestamp is a no-op.
func (s *Store) Append(ctx context.Context, snap emission.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO issuance_snapshots (ts, issuance) VALUES ($1, $2) ON CONFLICT (ts) DO NOTHING`,
		snap.Timestamp, snap.Issuance)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Load returns the newest snapshots up to capacity, oldest first.
func (s *Store) Load(ctx context.Context) ([]emission.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, issuance FROM (
			SELECT ts, issuance FROM issuance_snapshots ORDER BY ts DESC LIMIT $1
		) recent ORDER BY ts`, s.capacity)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []emission.Snapshot
	for rows.Next() {
		var snap emission.Snapshot
		if err := rows.Scan(&snap.Timestamp, &snap.Issuance); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// CleanupSnapshots deletes snapshots older than the given age.
func (s *Store) CleanupSnapshots(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	tag, err := s.pool.Exec(ctx, `DELETE FROM issuance_snapshots WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Job runs ---

type JobRun struct {
	ID         int64         `json:"id"`
	Job        string        `json:"job"`
	Status     string        `json:"status"`
	KVKey      string        `json:"kv_key,omitempty"`
	Bytes      int           `json:"bytes"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

func (s *Store) RecordJobRun(ctx context.Context, r JobRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (job, status, kv_key, bytes, error, started_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.Job, r.Status, r.KVKey, r.Bytes, r.Error, r.StartedAt, r.Duration.Milliseconds())
	return err
}

// RecentJobRuns returns the latest run of every job.
func (s *Store) RecentJobRuns(ctx context.Context) ([]JobRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (job) id, job, status, kv_key, bytes, error, started_at, duration_ms
		 FROM job_runs ORDER BY job, started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var r JobRun
		var ms int64
		if err := rows.Scan(&r.ID, &r.Job, &r.Status, &r.KVKey, &r.Bytes, &r.Error, &r.StartedAt, &ms); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		r.DurationMS = ms
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
