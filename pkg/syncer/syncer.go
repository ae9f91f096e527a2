// Package syncer implements the dual-write synchronizer: a background
// queue-drain process that propagates newly stored records from the record
// store into the vector index without blocking the write path.
//
// Delivery is at-least-once. The vector driver's Upsert is idempotent per
// memory ID, so re-processing an item is harmless. Ordering across items is
// not guaranteed; lag is bounded by the tick interval plus batch time.
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/vector"
)

const (
	// DefaultTickInterval is how often the background worker wakes up.
	DefaultTickInterval = 5 * time.Second

	// DefaultBatchSize is the maximum number of items drained per tick.
	DefaultBatchSize = 100

	// DefaultMaxAttempts bounds retries for a failing batch. Items that
	// exceed it are parked on the dead-letter list instead of looping
	// forever.
	DefaultMaxAttempts = 5
)

// Item is a queued dual-write unit. The embedding is captured at enqueue
// time because it is fixed at record creation; everything else is re-read
// from the record store at drain time.
type Item struct {
	MemoryID   string
	Embedding  []float32
	EnqueuedAt time.Time
	Attempts   int
}

// Config holds configuration for the synchronizer.
type Config struct {
	// Storage is the record store items are re-read from at drain time.
	Storage storage.Driver

	// Vector is the index receiving batched idempotent upserts.
	Vector vector.Driver

	// Publisher receives dead-letter events. Optional.
	Publisher eventstream.Publisher

	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration

	// BatchSize defaults to DefaultBatchSize.
	BatchSize int

	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int

	// Logger is the configured zap logger.
	Logger *zap.Logger
}

// Syncer owns the dual-write queue and its background worker. All queue
// state lives inside the struct; construct once at process start and Stop
// on shutdown.
type Syncer struct {
	config Config
	logger *zap.Logger

	mu          sync.Mutex
	queue       []Item
	deadLetters []Item

	// processing guards against overlapping drains: a tick that fires
	// while one is running is dropped, not queued.
	processing atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// New creates a synchronizer. Call Start to launch the background worker.
func New(c Config) *Syncer {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	return &Syncer{
		config: c,
		logger: c.Logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the tick-driven drain loop.
func (s *Syncer) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Drain(context.Background())
			case <-s.stop:
				return
			}
		}
	}()

	s.logger.Info("dual-write synchronizer started",
		zap.Duration("tick_interval", s.config.TickInterval),
		zap.Int("batch_size", s.config.BatchSize),
	)
}

// Stop disables future ticks and waits for the loop to exit. An in-flight
// drain completes naturally; it is never interrupted.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	if s.started.Load() {
		<-s.done
	}
}

// Enqueue appends an item to the queue. Non-blocking; called synchronously
// from the store's write path.
func (s *Syncer) Enqueue(memoryID string, embedding []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, Item{
		MemoryID:   memoryID,
		Embedding:  embedding,
		EnqueuedAt: time.Now().UTC(),
	})
}

// QueueDepth returns the number of items waiting to be synchronized.
func (s *Syncer) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// DeadLetters returns items that exhausted their retry budget.
func (s *Syncer) DeadLetters() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, len(s.deadLetters))
	copy(out, s.deadLetters)
	return out
}

// Drain processes a single batch. Exposed so tests and callers can force a
// tick without waiting on the timer. Returns the number of items
// synchronized; a drain skipped because another is running returns 0.
func (s *Syncer) Drain(ctx context.Context) int {
	if !s.processing.CompareAndSwap(false, true) {
		s.logger.Debug("drain already in progress, skipping tick")
		return 0
	}
	defer s.processing.Store(false)

	batch := s.dequeueBatch()
	if len(batch) == 0 {
		return 0
	}

	docs := make([]vector.Document, 0, len(batch))
	for _, item := range batch {
		// Always sync current record state, not the enqueue-time
		// snapshot; only the embedding is fixed at creation.
		rec, err := s.config.Storage.Get(ctx, item.MemoryID)
		if err != nil {
			if storage.IsNotFound(err) {
				// Deleted since enqueue; nothing to sync.
				s.logger.Debug("skipping deleted record",
					zap.String("memory_id", item.MemoryID),
				)
				continue
			}
			s.logger.Warn("failed to load record for sync, requeueing batch",
				zap.String("memory_id", item.MemoryID),
				zap.Error(err),
			)
			s.requeue(ctx, batch)
			return 0
		}

		docs = append(docs, vector.Document{
			ID:        rec.ID,
			Context:   rec.Context.String(),
			Embedding: item.Embedding,
		})
	}

	if len(docs) == 0 {
		return 0
	}

	if err := s.config.Vector.Upsert(ctx, docs); err != nil {
		s.logger.Warn("vector upsert failed, requeueing batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		s.requeue(ctx, batch)
		return 0
	}

	s.logger.Debug("synchronized batch",
		zap.Int("count", len(docs)),
	)

	return len(docs)
}

// dequeueBatch removes up to BatchSize items from the front of the queue.
func (s *Syncer) dequeueBatch() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	if n == 0 {
		return nil
	}
	if n > s.config.BatchSize {
		n = s.config.BatchSize
	}

	batch := make([]Item, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	return batch
}

// requeue puts a failed batch back at the front of the queue for retry on
// the next tick. Items past the attempt budget are parked as dead letters.
func (s *Syncer) requeue(ctx context.Context, batch []Item) {
	var retry []Item
	var dead []Item

	for _, item := range batch {
		item.Attempts++
		if item.Attempts >= s.config.MaxAttempts {
			dead = append(dead, item)
			continue
		}
		retry = append(retry, item)
	}

	s.mu.Lock()
	s.queue = append(retry, s.queue...)
	s.deadLetters = append(s.deadLetters, dead...)
	s.mu.Unlock()

	for _, item := range dead {
		s.logger.Error("dual-write item exhausted retries, dead-lettered",
			zap.String("memory_id", item.MemoryID),
			zap.Int("attempts", item.Attempts),
		)
		if s.config.Publisher != nil {
			event := eventstream.NewMemoryEvent(eventstream.EventTypeSyncDeadLetter, item.MemoryID)
			event.Detail = "dual-write retries exhausted"
			if err := s.config.Publisher.Publish(ctx, event); err != nil {
				s.logger.Warn("failed to publish dead-letter event",
					zap.String("memory_id", item.MemoryID),
					zap.Error(err),
				)
			}
		}
	}
}
