// Package metrics provides a persistent metrics manager for Scribe.
// Counter increments and summary observations are queued on a channel,
// aggregated in memory and periodically flushed into the same SQLite
// database that holds posts and fragments, so totals survive restarts.
// The aggregates are exposed as JSON (Handler) and to Prometheus (Collector).
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Counter names.
const (
	CounterPostsCreated         = "posts_created_total"
	CounterPostsDeleted         = "posts_deleted_total"
	CounterFragmentsAppended    = "fragments_appended_total"
	CounterFragmentBytes        = "fragment_bytes_total"
	CounterAttachmentsFinalized = "attachments_finalized_total"
	CounterAttachmentsReplaced  = "attachments_replaced_total"
	CounterAttachmentsFetched   = "attachments_fetched_total"
	CounterPartialAttachments   = "attachments_partial_total"
	CounterOrphansPruned        = "fragments_orphans_pruned_total"
)

// Summary names.
const (
	SummaryAttachmentBytes       = "attachment_bytes"
	SummaryJanitorPrunedPerCycle = "janitor_pruned_per_cycle"
)

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Summary is a (count, sum, min, max) aggregate of observations.
type Summary struct {
	Count int64
	Sum   int64
	Min   int64
	Max   int64
}

func (s *Summary) merge(o Summary) {
	if s.Count == 0 {
		*s = o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg     Config
	db      *sql.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started bool

	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]*Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]*Summary),
	}
}

// InitSchema ensures metrics tables exist.
func (m *Manager) InitSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS metrics_counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics_summaries (
	name TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	sum INTEGER NOT NULL,
	min INTEGER NOT NULL,
	max INTEGER NOT NULL
);`
	_, err := m.db.ExecContext(ctx, ddl)
	return err
}

// Start launches the background flush loop.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

// Stop signals the flush loop to exit and performs a final flush.
func (m *Manager) Stop(ctx context.Context) {
	if m.started {
		close(m.stop)
		<-m.done
		m.started = false
	}
	m.drain()
	if err := m.flush(ctx); err != nil {
		m.cfg.Logger.Error("final metrics flush", "domain", "metrics", "error", err)
	}
}

// Inc increments a counter by delta (>=1). Events are dropped when the queue is full.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	select {
	case m.events <- event{kind: eventInc, name: name, v: delta}:
	default:
	}
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	select {
	case m.events <- event{kind: eventObserve, name: name, v: value}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

// drain applies every queued event without blocking.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		agg := m.summaries[ev.name]
		if agg == nil {
			agg = &Summary{}
			m.summaries[ev.name] = agg
		}
		agg.merge(Summary{Count: 1, Sum: ev.v, Min: ev.v, Max: ev.v})
	}
}

// Snapshot returns persisted totals with the unflushed in-memory deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error) {
	counters, err := m.persistedCounters(ctx)
	if err != nil {
		return nil, nil, err
	}
	summaries, err := m.persistedSummaries(ctx)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range m.counters {
		counters[n] += v
	}
	for n, agg := range m.summaries {
		cur := summaries[n]
		cur.merge(*agg)
		summaries[n] = cur
	}
	return counters, summaries, nil
}

func (m *Manager) persistedCounters(ctx context.Context) (map[string]int64, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var v int64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, rows.Err()
}

func (m *Manager) persistedSummaries(ctx context.Context) (map[string]Summary, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Summary)
	for rows.Next() {
		var name string
		var s Summary
		if err := rows.Scan(&name, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, rows.Err()
}

const (
	upsertCounter = `INSERT INTO metrics_counters(name, value) VALUES(?, ?)
ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`
	upsertSummary = `INSERT INTO metrics_summaries(name, count, sum, min, max) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	count = metrics_summaries.count + excluded.count,
	sum = metrics_summaries.sum + excluded.sum,
	min = MIN(metrics_summaries.min, excluded.min),
	max = MAX(metrics_summaries.max, excluded.max)`
)

// take swaps out the pending deltas.
func (m *Manager) take() (map[string]int64, map[string]Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters := maps.Clone(m.counters)
	summaries := make(map[string]Summary, len(m.summaries))
	for k, v := range m.summaries {
		summaries[k] = *v
	}
	clear(m.counters)
	clear(m.summaries)
	return counters, summaries
}

// restore merges deltas that failed to persist back into memory so the next
// flush retries them.
func (m *Manager) restore(counters map[string]int64, summaries map[string]Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range counters {
		m.counters[n] += v
	}
	for n, s := range summaries {
		agg := m.summaries[n]
		if agg == nil {
			agg = &Summary{}
			m.summaries[n] = agg
		}
		agg.merge(s)
	}
}

// flush writes in-memory deltas to SQLite in a single transaction.
func (m *Manager) flush(ctx context.Context) error {
	counters, summaries := m.take()
	if len(counters) == 0 && len(summaries) == 0 {
		return nil
	}
	if err := m.persist(ctx, counters, summaries); err != nil {
		m.restore(counters, summaries)
		return err
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, counters map[string]int64, summaries map[string]Summary) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for name, delta := range counters {
		if _, err = tx.ExecContext(ctx, upsertCounter, name, delta); err != nil {
			return err
		}
	}
	for name, agg := range summaries {
		if _, err = tx.ExecContext(ctx, upsertSummary, name, agg.Count, agg.Sum, agg.Min, agg.Max); err != nil {
			return err
		}
	}
	return tx.Commit()
}
