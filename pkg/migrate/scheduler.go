package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
)

const (
	// DefaultInterval between scheduled migration runs.
	DefaultInterval = time.Hour

	// DefaultBatchSize is how many records migrate per batch.
	DefaultBatchSize = 10

	// DefaultBatchWorkers bounds per-batch parallelism.
	DefaultBatchWorkers = 3
)

// ErrAlreadyRunning is returned by RunNow when a run is in flight.
var ErrAlreadyRunning = errors.New("migration run already in progress")

// Config tunes the scheduler.
type Config struct {
	// Policies per source tier. Defaults to DefaultPolicies.
	Policies []TierPolicy

	// Interval between scheduled runs.
	Interval time.Duration

	// BatchSize is the number of records migrated per batch.
	BatchSize int

	// BatchWorkers bounds concurrent migrations within a batch.
	BatchWorkers int

	// Consolidate enables the duplicate-merge pass after migration.
	Consolidate bool

	// ConsolidateThreshold is the minimum cosine similarity for two
	// same-context records to merge. Defaults to
	// DefaultConsolidateThreshold.
	ConsolidateThreshold float64

	// Now overrides the scheduler clock. Nil means time.Now in UTC.
	Now func() time.Time
}

// Report summarizes one migration run. Per-item failures are collected, not
// fatal; a run always produces a report.
type Report struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// TotalMigrated counts successfully advanced records.
	TotalMigrated int `json:"total_migrated"`

	// PerPath counts migrations keyed by "from->to".
	PerPath map[string]int `json:"per_path"`

	// Consolidated counts records merged away by the consolidation pass.
	Consolidated int `json:"consolidated"`

	// Errors holds per-item failure descriptions.
	Errors []string `json:"errors,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	IsRunning bool
	LastRunAt time.Time
	NextRunAt time.Time
}

// Scheduler runs tier migration on an interval. Runs are single-flight: a
// tick or RunNow that arrives while a run is in progress is skipped, never
// queued.
type Scheduler struct {
	config  Config
	storage storage.Driver
	events  eventstream.Publisher
	logger  *zap.Logger

	// running guards single-flight execution.
	running atomic.Bool

	mu        sync.Mutex
	lastRunAt time.Time
	nextRunAt time.Time
	started   bool
	stop      chan struct{}
	done      chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a migration scheduler. events may be nil.
func NewScheduler(c Config, driver storage.Driver, events eventstream.Publisher, logger *zap.Logger) *Scheduler {
	if len(c.Policies) == 0 {
		c.Policies = DefaultPolicies()
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = DefaultBatchWorkers
	}
	if c.ConsolidateThreshold <= 0 {
		c.ConsolidateThreshold = DefaultConsolidateThreshold
	}

	now := c.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Scheduler{
		config:  c,
		storage: driver,
		events:  events,
		logger:  logger,
		now:     now,
	}
}

// Start launches the interval ticker. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.nextRunAt = s.now().Add(s.config.Interval)
	s.mu.Unlock()

	go s.loop(ctx)

	s.logger.Info("migration scheduler started",
		zap.Duration("interval", s.config.Interval),
	)
}

// Stop disables future ticks. A run already in flight completes; Stop
// returns once the ticker goroutine has exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("migration scheduler stopped")
}

// RunNow triggers a migration run immediately. Returns ErrAlreadyRunning if
// a run is in flight.
func (s *Scheduler) RunNow(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	return s.run(ctx), nil
}

// Status reports whether a run is in flight and the run schedule.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		IsRunning: s.running.Load(),
		LastRunAt: s.lastRunAt,
		NextRunAt: s.nextRunAt,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				s.logger.Debug("migration tick skipped, run in progress")
				continue
			}
			s.run(ctx)
			s.running.Store(false)

			s.mu.Lock()
			s.nextRunAt = s.now().Add(s.config.Interval)
			s.mu.Unlock()
		}
	}
}

// run executes one full migration pass. The caller holds the running guard.
func (s *Scheduler) run(ctx context.Context) *Report {
	now := s.now()
	report := &Report{
		StartTime: now,
		PerPath:   make(map[string]int),
	}

	// Every policy's candidate set is collected before any migration is
	// applied. A record that leaves its tier during this run is never a
	// candidate for the next tier until a later run.
	type candidateSet struct {
		from       record.Tier
		to         record.Tier
		candidates []*record.Record
	}
	var sets []candidateSet

	for _, policy := range s.config.Policies {
		to, ok := policy.Tier.Next()
		if !ok {
			report.Errors = append(report.Errors,
				fmt.Sprintf("policy for terminal tier %s ignored", policy.Tier))
			continue
		}

		candidates, err := s.scan(ctx, policy, now)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("scanning tier %s: %v", policy.Tier, err))
			continue
		}
		if len(candidates) == 0 {
			continue
		}

		sets = append(sets, candidateSet{from: policy.Tier, to: to, candidates: candidates})
	}

	for _, set := range sets {
		s.logger.Info("migration candidates found",
			zap.String("from", set.from.String()),
			zap.String("to", set.to.String()),
			zap.Int("count", len(set.candidates)),
		)

		path := set.from.String() + "->" + set.to.String()
		for start := 0; start < len(set.candidates); start += s.config.BatchSize {
			end := start + s.config.BatchSize
			if end > len(set.candidates) {
				end = len(set.candidates)
			}
			s.migrateBatch(ctx, set.candidates[start:end], set.from, set.to, path, now, report)
		}
	}

	if s.config.Consolidate {
		s.consolidate(ctx, now, report)
	}

	report.EndTime = s.now()

	s.mu.Lock()
	s.lastRunAt = report.EndTime
	s.mu.Unlock()

	s.logger.Info("migration run complete",
		zap.Int("migrated", report.TotalMigrated),
		zap.Int("consolidated", report.Consolidated),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", report.EndTime.Sub(report.StartTime)),
	)
	return report
}

// scan lists a policy's tier and applies eligibility rules, including the
// MaxSize overflow rule.
func (s *Scheduler) scan(ctx context.Context, policy TierPolicy, now time.Time) ([]*record.Record, error) {
	all, err := s.storage.List(ctx, storage.Filter{Tiers: []record.Tier{policy.Tier}})
	if err != nil {
		return nil, err
	}

	var candidates []*record.Record
	picked := make(map[string]bool)
	for _, rec := range all {
		if policy.eligible(rec, now) {
			candidates = append(candidates, rec)
			picked[rec.ID] = true
		}
	}

	// Overflow: when the tier exceeds MaxSize, evict oldest-accessed
	// records beyond the age rule until the tier fits.
	if policy.MaxSize > 0 {
		overflow := int64(len(all)-len(candidates)) - policy.MaxSize
		if overflow > 0 {
			rest := make([]*record.Record, 0, len(all)-len(candidates))
			for _, rec := range all {
				if !picked[rec.ID] {
					rest = append(rest, rec)
				}
			}
			sort.Slice(rest, func(i, j int) bool {
				return rest[i].AccessedAt.Before(rest[j].AccessedAt)
			})
			if overflow > int64(len(rest)) {
				overflow = int64(len(rest))
			}
			candidates = append(candidates, rest[:overflow]...)
		}
	}

	return candidates, nil
}

// migrateBatch advances one batch with bounded parallelism. Each item
// re-validates its tier via compare-and-swap; records that changed tier
// since the scan are skipped.
func (s *Scheduler) migrateBatch(ctx context.Context, batch []*record.Record, from, to record.Tier, path string, now time.Time, report *Report) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		workerCh = make(chan struct{}, s.config.BatchWorkers)
	)

	for _, rec := range batch {
		wg.Add(1)
		workerCh <- struct{}{}

		go func(rec *record.Record) {
			defer wg.Done()
			defer func() { <-workerCh }()

			err := s.storage.SetTier(ctx, rec.ID, from, to, now)
			switch {
			case storage.IsConflict(err):
				// The record moved tiers since the scan; stale
				// candidates are skipped, not failed.
				s.logger.Debug("migration candidate changed tier, skipped",
					zap.String("id", rec.ID),
				)
				return
			case storage.IsNotFound(err):
				s.logger.Debug("migration candidate deleted, skipped",
					zap.String("id", rec.ID),
				)
				return
			case err != nil:
				mu.Lock()
				report.Errors = append(report.Errors,
					fmt.Sprintf("migrating %s: %v", rec.ID, err))
				mu.Unlock()
				return
			}

			mu.Lock()
			report.TotalMigrated++
			report.PerPath[path]++
			mu.Unlock()

			s.publishMigrated(ctx, rec, from, to)
		}(rec)
	}

	wg.Wait()
}

func (s *Scheduler) publishMigrated(ctx context.Context, rec *record.Record, from, to record.Tier) {
	if s.events == nil {
		return
	}

	event := eventstream.NewMemoryEvent(eventstream.EventTypeMigrated, rec.ID)
	event.Context = rec.Context
	event.Tier = to
	event.FromTier = from

	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish migration event",
			zap.String("memory_id", rec.ID),
			zap.Error(err),
		)
	}
}
