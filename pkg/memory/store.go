// Package memory implements the tiered memory store: record lifecycle, tier
// assignment, importance gating, and per-tier/cross-tier querying on top of
// the record store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/syncer"
	"github.com/engramhq/engram/pkg/vector"
)

// DefaultImportanceThreshold gates which candidate memories are stored at
// all. Below it, Store reports a normal not-stored outcome.
const DefaultImportanceThreshold = 0.3

// Config holds configuration for the tiered store.
type Config struct {
	// ImportanceThreshold rejects low-importance memories before they are
	// ever written. Defaults to DefaultImportanceThreshold.
	ImportanceThreshold float64

	// Dimensions is the embedding dimensionality of the deployment. When
	// non-zero, Store verifies every embedding against it.
	Dimensions uint
}

// Store owns memory record lifecycle. It writes synchronously to the record
// store and hands embeddings to the dual-write queue for asynchronous vector
// index synchronization.
type Store struct {
	config   Config
	storage  storage.Driver
	embedder embeddings.Embedder

	// sync is optional; when nil, no secondary index is maintained.
	sync *syncer.Syncer

	// vector is used only for synchronous deletes of indexed documents.
	vector vector.Driver

	// events is optional.
	events eventstream.Publisher

	logger *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Option configures optional collaborators on the store.
type Option func(*Store)

// WithSyncer attaches the dual-write queue used on the write path.
func WithSyncer(s *syncer.Syncer) Option {
	return func(st *Store) { st.sync = s }
}

// WithVector attaches the vector index used for synchronous deletes.
func WithVector(v vector.Driver) Option {
	return func(st *Store) { st.vector = v }
}

// WithPublisher attaches a lifecycle event publisher.
func WithPublisher(p eventstream.Publisher) Option {
	return func(st *Store) { st.events = p }
}

// WithClock overrides the time source. Used by tests to simulate aging.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// NewStore creates a tiered memory store.
func NewStore(c Config, driver storage.Driver, embedder embeddings.Embedder, logger *zap.Logger, opts ...Option) *Store {
	if c.ImportanceThreshold <= 0 {
		c.ImportanceThreshold = DefaultImportanceThreshold
	}

	st := &Store{
		config:   c,
		storage:  driver,
		embedder: embedder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// StoreInput is the caller-supplied shape of a new memory.
type StoreInput struct {
	Content    string
	Context    record.Context
	Importance float64
	Metadata   record.Metadata
}

// StoreResult reports the outcome of a Store call. Stored=false with a
// Reason is a normal outcome (importance below threshold), not an error.
type StoreResult struct {
	ID     string
	Stored bool
	Reason string
}

// Store validates, embeds, and persists a new memory record in the working
// tier. Embedding failures propagate to the caller; nothing is committed on
// any error path.
func (s *Store) Store(ctx context.Context, in StoreInput) (StoreResult, error) {
	if in.Content == "" {
		return StoreResult{}, storage.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !in.Context.Valid() {
		return StoreResult{}, storage.ValidationError{Field: "context", Reason: fmt.Sprintf("unknown value %q", in.Context)}
	}
	if in.Importance < 0 || in.Importance > 1 {
		return StoreResult{}, storage.ValidationError{Field: "importance", Reason: "must be in [0,1]"}
	}

	// Reject, not store-then-discard: below-threshold memories never
	// reach the record store or the embedder.
	if in.Importance < s.config.ImportanceThreshold {
		s.logger.Debug("memory below importance threshold, not stored",
			zap.Float64("importance", in.Importance),
			zap.Float64("threshold", s.config.ImportanceThreshold),
		)
		return StoreResult{
			Stored: false,
			Reason: fmt.Sprintf("importance %.2f below storage threshold %.2f", in.Importance, s.config.ImportanceThreshold),
		}, nil
	}

	embedding, err := s.embedder.Embed(ctx, in.Content)
	if err != nil {
		return StoreResult{}, fmt.Errorf("embedding content: %w", err)
	}
	if s.config.Dimensions != 0 && uint(len(embedding)) != s.config.Dimensions {
		return StoreResult{}, fmt.Errorf("embedder returned %d dimensions, deployment expects %d", len(embedding), s.config.Dimensions)
	}

	rec := record.New(in.Content, in.Context, in.Importance, embedding, in.Metadata, s.now())

	if err := s.storage.Put(ctx, rec); err != nil {
		return StoreResult{}, fmt.Errorf("storing record: %w", err)
	}

	if s.sync != nil {
		s.sync.Enqueue(rec.ID, rec.Embedding)
	}

	s.publish(ctx, eventstream.EventTypeStored, rec.ID, rec.Context, rec.Tier, "")

	s.logger.Info("memory stored",
		zap.String("id", rec.ID),
		zap.String("context", rec.Context.String()),
		zap.Float64("importance", rec.Importance),
	)

	return StoreResult{ID: rec.ID, Stored: true}, nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	return s.storage.Get(ctx, id)
}

// Touch atomically increments the record's access count and access time.
// Touching an unknown ID returns NotFoundError, never a silent no-op.
func (s *Store) Touch(ctx context.Context, id string, kind storage.AccessKind) (*record.Record, error) {
	rec, err := s.storage.Touch(ctx, id, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Debug("memory touched",
		zap.String("id", id),
		zap.String("kind", string(kind)),
		zap.Int64("access_count", rec.AccessCount),
	)

	return rec, nil
}

// QueryInput restricts a cross-tier exact query.
type QueryInput struct {
	// Text is matched as a case-insensitive substring of content.
	Text string

	// Context restricts results to one memory context.
	Context record.Context

	// Tiers restricts which tiers are searched. Empty means all tiers;
	// the store never decides this itself.
	Tiers []record.Tier

	// Limit caps the merged result list.
	Limit int
}

// Query runs a per-tier exact match and merges the results: deduplicated by
// ID keeping the highest per-tier score, globally sorted by score descending
// with importance then recency as tie-breakers, truncated to Limit.
func (s *Store) Query(ctx context.Context, in QueryInput) ([]storage.Match, error) {
	tiers := in.Tiers
	if len(tiers) == 0 {
		tiers = record.Tiers()
	}

	byID := make(map[string]storage.Match)
	for _, tier := range tiers {
		f := storage.Filter{
			Tiers:   []record.Tier{tier},
			Context: in.Context,
		}

		var (
			matches []storage.Match
			err     error
		)
		if in.Text != "" {
			matches, err = s.storage.MatchExact(ctx, in.Text, f, in.Limit)
		} else {
			matches, err = s.listAsMatches(ctx, f)
		}
		if err != nil {
			return nil, fmt.Errorf("querying tier %s: %w", tier, err)
		}

		for _, m := range matches {
			existing, ok := byID[m.Record.ID]
			if !ok || m.Score > existing.Score {
				byID[m.Record.ID] = m
			}
		}
	}

	merged := make([]storage.Match, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Record.Importance != merged[j].Record.Importance {
			return merged[i].Record.Importance > merged[j].Record.Importance
		}
		return merged[i].Record.AccessedAt.After(merged[j].Record.AccessedAt)
	})

	if in.Limit > 0 && len(merged) > in.Limit {
		merged = merged[:in.Limit]
	}
	return merged, nil
}

// Delete hard-deletes a record. Idempotent: deleting an unknown ID returns
// false, not an error. The vector index entry is removed synchronously when
// a vector driver is attached.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	existed, err := s.storage.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deleting record %s: %w", id, err)
	}
	if !existed {
		return false, nil
	}

	if s.vector != nil {
		if err := s.vector.Delete(ctx, []string{id}); err != nil {
			// The record is gone; a stale index entry is harmless
			// for correctness and will never be returned joined.
			s.logger.Warn("failed to delete vector index entry",
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}

	s.publish(ctx, eventstream.EventTypeDeleted, id, "", "", "")

	s.logger.Info("memory deleted", zap.String("id", id))
	return true, nil
}

// Stats reports per-tier record counts.
func (s *Store) Stats(ctx context.Context) (map[record.Tier]int64, error) {
	out := make(map[record.Tier]int64, len(record.Tiers()))
	for _, tier := range record.Tiers() {
		n, err := s.storage.Count(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("counting tier %s: %w", tier, err)
		}
		out[tier] = n
	}
	return out, nil
}

func (s *Store) listAsMatches(ctx context.Context, f storage.Filter) ([]storage.Match, error) {
	recs, err := s.storage.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Match, 0, len(recs))
	for _, r := range recs {
		out = append(out, storage.Match{Record: r, Score: 1.0})
	}
	return out, nil
}

func (s *Store) publish(ctx context.Context, eventType, id string, context record.Context, tier record.Tier, detail string) {
	if s.events == nil {
		return
	}

	event := eventstream.NewMemoryEvent(eventType, id)
	event.Context = context
	event.Tier = tier
	event.Detail = detail

	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish memory event",
			zap.String("event_type", eventType),
			zap.String("memory_id", id),
			zap.Error(err),
		)
	}
}
