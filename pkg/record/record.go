// Package record defines the core memory record model shared by the storage,
// search, migration, and synchronization layers.
package record

import (
	"time"

	"github.com/google/uuid"
)

// Record is a single stored memory: a natural-language fact with its
// classification, importance, tier placement, access pattern, and embedding.
//
// Content, Importance, and Embedding are immutable after creation. Tier
// advances forward only (working -> session -> longterm) under automated
// migration; AccessCount and AccessedAt move together on every touch.
type Record struct {
	// ID is an opaque unique identifier assigned at creation.
	ID string `json:"id"`

	// Content is the memory text. Immutable after creation.
	Content string `json:"content"`

	// Context classifies what kind of memory this is.
	Context Context `json:"context"`

	// Importance is a [0,1] score assigned at creation. Records below the
	// configured storage threshold are never created.
	Importance float64 `json:"importance"`

	// Tier is the record's current age/activity partition.
	Tier Tier `json:"tier"`

	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
	ModifiedAt time.Time `json:"modified_at"`

	// AccessCount is the number of touches (recalls, exact hits,
	// semantic hits). Monotonically increasing.
	AccessCount int64 `json:"access_count"`

	// Embedding is the fixed-length vector representation of Content.
	// Length matches the embedding provider's dimensionality and never
	// changes after creation.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata is an open key/value map with JSON-compatible values.
	Metadata Metadata `json:"metadata,omitempty"`
}

// New creates a record in the working tier with a fresh ID and zeroed
// access pattern.
func New(content string, context Context, importance float64, embedding []float32, metadata Metadata, now time.Time) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Content:     content,
		Context:     context,
		Importance:  importance,
		Tier:        TierWorking,
		CreatedAt:   now,
		AccessedAt:  now,
		ModifiedAt:  now,
		AccessCount: 0,
		Embedding:   embedding,
		Metadata:    metadata,
	}
}

// Clone returns a deep copy so callers can mutate results without affecting
// driver-internal state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Embedding != nil {
		out.Embedding = make([]float32, len(r.Embedding))
		copy(out.Embedding, r.Embedding)
	}
	out.Metadata = r.Metadata.Clone()
	return &out
}
