// Package janitor implements background removal of orphaned fragment runs:
// fragments left behind when a post was deleted but its backend cleanup did
// not finish. It runs apart from the app Service so the request path never
// pays for reconciliation scans.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/scribe/internal/app"
	"github.com/haukened/scribe/internal/metrics"
)

// Store is the single store operation the Janitor requires.
type Store interface {
	// PruneOrphans removes fragment runs whose post no longer exists and
	// returns how many runs were removed.
	PruneOrphans(ctx context.Context) (int, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
	Metrics  app.Recorder  // optional sink for pruned counts
}

// Stats accumulates in-memory counters for operational insight.
type Stats struct {
	mu                  sync.Mutex
	Cycles              uint64
	Pruned              uint64
	Failures            uint64
	CycleLastDurationMS int64
}

// StatsView is a read-only snapshot safe to copy.
type StatsView struct {
	Cycles              uint64
	Pruned              uint64
	Failures            uint64
	CycleLastDurationMS int64
}

func (s *Stats) record(pruned int, failed bool, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cycles++
	if pruned > 0 {
		s.Pruned += uint64(pruned)
	}
	if failed {
		s.Failures++
	}
	s.CycleLastDurationMS = d.Milliseconds()
}

// Janitor encapsulates the background cleanup loop.
type Janitor struct {
	store Store
	cfg   Config
	stats *Stats

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor.
func New(store Store, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:  store,
		cfg:    cfg,
		stats:  &Stats{},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Calling Stop on a
// Janitor that was never started returns immediately.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// StatsSnapshot returns a copy of current counters.
func (j *Janitor) StatsSnapshot() StatsView {
	j.stats.mu.Lock()
	defer j.stats.mu.Unlock()
	return StatsView{
		Cycles:              j.stats.Cycles,
		Pruned:              j.stats.Pruned,
		Failures:            j.stats.Failures,
		CycleLastDurationMS: j.stats.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one orphan scan and returns the number of runs removed.
func (j *Janitor) RunCycle(ctx context.Context) int {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	pruned, err := j.store.PruneOrphans(ctx)
	failed := err != nil && !errors.Is(err, context.Canceled)
	if failed {
		log.Error("prune orphans", "error", err)
	}
	j.stats.record(pruned, failed, time.Since(start))
	if j.cfg.Metrics != nil {
		if pruned > 0 {
			j.cfg.Metrics.Inc(metrics.CounterOrphansPruned, int64(pruned))
		}
		j.cfg.Metrics.Observe(metrics.SummaryJanitorPrunedPerCycle, int64(pruned))
	}
	if pruned > 0 {
		log.Info("cycle complete", "pruned", pruned, "ms", time.Since(start).Milliseconds())
	} else {
		log.Debug("cycle complete", "pruned", 0, "ms", time.Since(start).Milliseconds())
	}
	return pruned
}
