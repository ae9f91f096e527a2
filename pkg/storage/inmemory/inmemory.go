// Package inmemory implements storage.Driver with in-process maps. It backs
// tests and local development; durability comes from the sqlite and postgres
// drivers.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	mu sync.RWMutex

	// records maps record ID to the stored record. All reads hand out
	// clones so callers cannot mutate driver state.
	records map[string]*record.Record
}

// NewDriver creates an empty in-memory record store.
func NewDriver() *Driver {
	return &Driver{
		records: make(map[string]*record.Record),
	}
}

// Put inserts a new record.
func (d *Driver) Put(_ context.Context, rec *record.Record) error {
	if rec == nil {
		return errors.New("cannot store nil record")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[rec.ID]; ok {
		return errors.New("record already exists: " + rec.ID)
	}

	d.records[rec.ID] = rec.Clone()
	return nil
}

// Get retrieves a record by ID.
func (d *Driver) Get(_ context.Context, id string) (*record.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// Update rewrites an existing record.
func (d *Driver) Update(_ context.Context, rec *record.Record) error {
	if rec == nil {
		return errors.New("cannot update nil record")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[rec.ID]; !ok {
		return storage.NotFoundError{ID: rec.ID}
	}
	d.records[rec.ID] = rec.Clone()
	return nil
}

// Touch atomically bumps the access count and access time.
func (d *Driver) Touch(_ context.Context, id string, now time.Time) (*record.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}

	rec.AccessCount++
	rec.AccessedAt = now
	return rec.Clone(), nil
}

// SetTier advances the record's tier if it is still in the expected tier.
func (d *Driver) SetTier(_ context.Context, id string, from, to record.Tier, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return storage.NotFoundError{ID: id}
	}
	if rec.Tier != from {
		return storage.ConflictError{ID: id, Expected: from, Actual: rec.Tier}
	}

	rec.Tier = to
	rec.ModifiedAt = now
	return nil
}

// Delete removes a record. Deleting an unknown ID returns false, not an error.
func (d *Driver) Delete(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[id]; !ok {
		return false, nil
	}
	delete(d.records, id)
	return true, nil
}

// List returns records matching the filter ordered by creation time.
func (d *Driver) List(_ context.Context, f storage.Filter) ([]*record.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*record.Record
	for _, rec := range d.records {
		if !matchesFilter(rec, f) {
			continue
		}
		out = append(out, rec.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MatchExact finds records containing the query substring, case-insensitive.
func (d *Driver) MatchExact(_ context.Context, query string, f storage.Filter, limit int) ([]storage.Match, error) {
	if query == "" {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	needle := strings.ToLower(query)

	var out []storage.Match
	for _, rec := range d.records {
		if !matchesFilter(rec, f) {
			continue
		}
		if !strings.Contains(strings.ToLower(rec.Content), needle) {
			continue
		}
		out = append(out, storage.Match{
			Record:     rec.Clone(),
			Score:      1.0,
			Highlights: storage.ExtractHighlights(rec.Content, query),
		})
	}

	sortMatches(out)
	return truncate(out, limit), nil
}

// MatchLexical scores records by query-token overlap. A real inverted index
// lives in the sqlite (FTS5) and postgres (tsvector) drivers; this keeps the
// same [0,1] score contract for tests.
func (d *Driver) MatchLexical(_ context.Context, query string, f storage.Filter, limit int) ([]storage.Match, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []storage.Match
	for _, rec := range d.records {
		if !matchesFilter(rec, f) {
			continue
		}

		content := tokenSet(tokenize(rec.Content))
		hits := 0
		for _, t := range terms {
			if content[t] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}

		out = append(out, storage.Match{
			Record: rec.Clone(),
			Score:  float64(hits) / float64(len(terms)),
		})
	}

	sortMatches(out)
	return truncate(out, limit), nil
}

// Count returns the number of records in the tier.
func (d *Driver) Count(_ context.Context, tier record.Tier) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var n int64
	for _, rec := range d.records {
		if rec.Tier == tier {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

func matchesFilter(rec *record.Record, f storage.Filter) bool {
	if len(f.Tiers) > 0 {
		found := false
		for _, t := range f.Tiers {
			if rec.Tier == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Context != "" && rec.Context != f.Context {
		return false
	}
	if !f.CreatedBefore.IsZero() && !rec.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.AccessedBefore.IsZero() && !rec.AccessedAt.Before(f.AccessedBefore) {
		return false
	}
	return true
}

func sortMatches(ms []storage.Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		if ms[i].Record.Importance != ms[j].Record.Importance {
			return ms[i].Record.Importance > ms[j].Record.Importance
		}
		return ms[i].Record.AccessedAt.After(ms[j].Record.AccessedAt)
	})
}

func truncate(ms []storage.Match, limit int) []storage.Match {
	if limit > 0 && len(ms) > limit {
		return ms[:limit]
	}
	return ms
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

var _ storage.Driver = (*Driver)(nil)
