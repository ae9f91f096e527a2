// Package storage defines the record store interface: durable CRUD over
// memory records plus the exact and lexical match capabilities the hybrid
// search engine is built on.
package storage

import (
	"context"
	"time"

	"github.com/engramhq/engram/pkg/record"
)

// AccessKind labels why a record was touched. Every kind updates AccessCount
// and AccessedAt together.
type AccessKind string

const (
	AccessRecall      AccessKind = "recall"
	AccessExactHit    AccessKind = "exact-hit"
	AccessSemanticHit AccessKind = "semantic-hit"
)

// Filter restricts List and Match queries. Zero values mean "no restriction".
type Filter struct {
	// Tiers limits results to the given tiers. Empty means all tiers.
	Tiers []record.Tier

	// Context limits results to a single memory context.
	Context record.Context

	// CreatedBefore limits results to records created before the given time.
	CreatedBefore time.Time

	// AccessedBefore limits results to records last accessed before the
	// given time.
	AccessedBefore time.Time
}

// Match is a scored hit from an exact or lexical query.
type Match struct {
	Record *record.Record

	// Score is the per-signal raw score in [0,1]. Exact matches always
	// score 1.0; lexical scores are rank-normalized.
	Score float64

	// Highlights holds up to three short content excerpts containing a
	// query term. Only populated for exact matches.
	Highlights []string
}

// Driver is the durable record store. Implementations must make Touch and
// SetTier atomic per record so concurrent readers never observe a tier
// change without its timestamp, or a count bump without its access time.
type Driver interface {
	// Put inserts a new record. The record's ID must not already exist.
	Put(ctx context.Context, rec *record.Record) error

	// Get retrieves a record by ID. Returns NotFoundError if absent.
	Get(ctx context.Context, id string) (*record.Record, error)

	// Update rewrites an existing record's mutable fields (importance,
	// access count, metadata, timestamps). Returns NotFoundError if absent.
	Update(ctx context.Context, rec *record.Record) error

	// Touch atomically increments AccessCount and sets AccessedAt, then
	// returns the updated record. Returns NotFoundError if absent.
	Touch(ctx context.Context, id string, now time.Time) (*record.Record, error)

	// SetTier advances a record's tier with compare-and-swap semantics:
	// it fails with ConflictError when the record is no longer in `from`,
	// and records the migration time as ModifiedAt in the same write.
	SetTier(ctx context.Context, id string, from, to record.Tier, now time.Time) error

	// Delete removes a record. Returns false (not an error) when the ID
	// does not exist.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns records matching the filter, ordered by CreatedAt
	// ascending. Used by the migration scheduler's candidate scan.
	List(ctx context.Context, f Filter) ([]*record.Record, error)

	// MatchExact finds records whose content contains the query as a
	// substring (case-insensitive). Scores are a constant 1.0.
	MatchExact(ctx context.Context, query string, f Filter, limit int) ([]Match, error)

	// MatchLexical finds records by ranked full-text match, scores
	// normalized into [0,1].
	MatchLexical(ctx context.Context, query string, f Filter, limit int) ([]Match, error)

	// Count returns the number of records in the given tier.
	Count(ctx context.Context, tier record.Tier) (int64, error)

	// Close releases driver resources.
	Close() error
}
