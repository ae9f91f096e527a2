package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/engramhq/engram/pkg/vector"
)

// MockVectorDriver is a test vector driver that stores documents in memory
// and returns configurable query results.
type MockVectorDriver struct {
	mu        sync.Mutex
	documents map[string]vector.Document

	// Results is returned by Query regardless of the embedding.
	Results []vector.QueryResult

	// FailUpsert causes Upsert to return an error while set.
	FailUpsert bool

	// UpsertCalls counts Upsert invocations, including failed ones.
	UpsertCalls int
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		documents: make(map[string]vector.Document),
	}
}

func (m *MockVectorDriver) Upsert(_ context.Context, docs []vector.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertCalls++
	if m.FailUpsert {
		return errors.New("mock upsert failure")
	}

	for _, doc := range docs {
		m.documents[doc.ID] = doc
	}
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, _ []float32, topK int, f vector.Filter) ([]vector.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]vector.QueryResult, 0, len(m.Results))
	for _, r := range m.Results {
		if f.Context != "" && r.Context != f.Context {
			continue
		}
		out = append(out, r)
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MockVectorDriver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []vector.Document
	for _, id := range ids {
		if doc, ok := m.documents[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.documents, id)
	}
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}

// Stored returns the documents currently held by the mock.
func (m *MockVectorDriver) Stored() []vector.Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]vector.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		out = append(out, doc)
	}
	return out
}
