// Package vector provides the secondary similarity-index interface kept
// eventually consistent with the record store by the dual-write synchronizer.
package vector

import "context"

// Document is a stored embedding with the minimal metadata the index needs.
type Document struct {
	// ID is the memory record ID.
	ID string

	// Context mirrors the record's memory context so semantic queries can
	// be restricted without consulting the record store.
	Context string

	// Embedding is the vector representation of the record content.
	Embedding []float32
}

// QueryResult is a similarity hit.
type QueryResult struct {
	Document

	// Score is the cosine similarity in [0,1] (1 − cosine distance);
	// higher means more similar.
	Score float32
}

// Filter restricts a similarity query. The zero value matches everything.
type Filter struct {
	// Context limits hits to documents with the given memory context.
	Context string
}

// Driver handles storage and retrieval of vector embeddings.
//
// Upsert must be idempotent per document ID: the dual-write queue delivers
// at least once, so re-processing an item must not duplicate entries.
type Driver interface {
	// Upsert stores documents, replacing any existing document with the
	// same ID.
	Upsert(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the embedding.
	Query(ctx context.Context, embedding []float32, topK int, f Filter) ([]QueryResult, error)

	// Get retrieves documents by their IDs. Missing IDs are omitted.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
