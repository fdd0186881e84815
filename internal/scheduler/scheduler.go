// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/robfig/cron/v3"
)

// MetricsSource provides a consistent copy of the live rule metrics.
type MetricsSource interface {
	Snapshot() []domain.RuleMetrics
}

// Scheduler flushes rule metrics to the metrics store on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	source  MetricsSource
	store   domain.MetricsStore
	timeout time.Duration
}

// New creates a scheduler. Jobs run one at a time; a run that overlaps the
// previous one is skipped.
func New(source MetricsSource, store domain.MetricsStore) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		source:  source,
		store:   store,
		timeout: 10 * time.Second,
	}
}

// Start registers the metrics flush job under spec (e.g. "@every 30s") and
// starts the cron runner.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = "@every 30s"
	}

	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.FlushMetrics(ctx); err != nil {
			slog.Error("metrics flush failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid flush schedule %q: %w", spec, err)
	}

	s.cron.Start()
	slog.Info("scheduler started", "metrics_flush", spec)
	return nil
}

// FlushMetrics writes the current metrics snapshot to the store.
func (s *Scheduler) FlushMetrics(ctx context.Context) error {
	metrics := s.source.Snapshot()
	if len(metrics) == 0 {
		return nil
	}
	if err := s.store.SaveMetrics(ctx, metrics); err != nil {
		return err
	}
	slog.Debug("metrics flushed", "rules", len(metrics))
	return nil
}

// Stop waits for a running job to finish and then flushes once more so no
// evaluations are lost on shutdown.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.FlushMetrics(ctx); err != nil {
		slog.Error("final metrics flush failed", "error", err)
	}
}
