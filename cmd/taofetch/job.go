package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/web3-frozen/tao-metrics/internal/config"
	"github.com/web3-frozen/tao-metrics/internal/dedup"
	"github.com/web3-frozen/tao-metrics/internal/kv"
	"github.com/web3-frozen/tao-metrics/internal/metrics"
	"github.com/web3-frozen/tao-metrics/internal/store"
)

type jobRecorder interface {
	RecordJobRun(ctx context.Context, r store.JobRun) error
}

// job describes one output: the file it writes and the KV key it publishes
// under. An empty key keeps the output local. Copies are extra files written
// with the same payload.
type job struct {
	name   string
	file   string
	key    string
	copies []string
}

// runner executes jobs against the optional backends found in the
// environment.
type runner struct {
	cfg       config.Config
	logger    *slog.Logger
	outDir    string
	publisher kv.Writer   // nil when no KV is configured
	recorder  jobRecorder // nil without DATABASE_URL
	rdb       *redis.Client
	now       func() time.Time
	closers   []func()
}

// newRunner connects to whatever backends the environment configures.
// Missing backends are skipped; a configured backend that cannot be reached
// is an error.
func newRunner(ctx context.Context) (*runner, error) {
	cfg := config.Load()
	r := &runner{
		cfg:    cfg,
		logger: logger,
		outDir: viper.GetString("out_dir"),
		now:    time.Now,
	}

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL, cfg.HistoryCapacity)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		r.recorder = db
		r.closers = append(r.closers, db.Close)
	}

	if cfg.RedisURL != "" {
		rdb, err := dedup.Connect(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		r.rdb = rdb
		r.closers = append(r.closers, func() { _ = rdb.Close() })
	}

	if !viper.GetBool("no_publish") {
		m := kv.Open(kv.CloudflareConfig{
			AccountID:   cfg.CFAccountID,
			NamespaceID: cfg.CFNamespaceID,
			APIToken:    cfg.CFAPIToken,
		}, r.rdb, logger)
		if m.Len() > 0 {
			r.publisher = m
		} else {
			logger.Info("no kv backend configured, writing files only")
		}
	}
	return r, nil
}

func (r *runner) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// run produces the job payload, writes it to the output file and publishes
// it. Every attempt is recorded as a job run when a recorder is present.
func (r *runner) run(ctx context.Context, j job, produce func(ctx context.Context) (any, error)) error {
	start := r.now()
	run := store.JobRun{Job: j.name, KVKey: j.key, StartedAt: start.UTC()}

	err := r.execute(ctx, j, produce, &run)
	run.Duration = r.now().Sub(start)
	run.Status = "ok"
	if err != nil {
		run.Status = "error"
		run.Error = err.Error()
	}
	metrics.JobRunsTotal.WithLabelValues(j.name, run.Status).Inc()

	if r.recorder != nil {
		if rerr := r.recorder.RecordJobRun(ctx, run); rerr != nil {
			r.logger.Warn("record job run failed", "job", j.name, "error", rerr)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	r.logger.Info("job finished", "job", j.name, "bytes", run.Bytes, "duration", run.Duration)
	return nil
}

func (r *runner) execute(ctx context.Context, j job, produce func(ctx context.Context) (any, error), run *store.JobRun) error {
	v, err := produce(ctx)
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	run.Bytes = len(body)

	for _, name := range append([]string{j.file}, j.copies...) {
		if name == "" {
			continue
		}
		if err := r.writeFile(name, body); err != nil {
			return err
		}
	}
	if j.key != "" && r.publisher != nil {
		if err := r.publisher.Put(ctx, j.key, body); err != nil {
			return fmt.Errorf("publish %s: %w", j.key, err)
		}
	}
	return nil
}

// writeFile places name under the output directory, replacing any
// previous file.
func (r *runner) writeFile(name string, body []byte) error {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.outDir, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(fmt.Errorf("replace %s: %w", path, err), os.Remove(tmp))
	}
	return nil
}
