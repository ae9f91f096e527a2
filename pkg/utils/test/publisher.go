package testutils

import (
	"context"
	"sync"

	"github.com/engramhq/engram/pkg/eventstream"
)

// MockPublisher records published lifecycle events.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.MemoryEvent
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Events returns all published events in order.
func (m *MockPublisher) Events() []*eventstream.MemoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*eventstream.MemoryEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns published events matching the given type.
func (m *MockPublisher) EventsOfType(eventType string) []*eventstream.MemoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*eventstream.MemoryEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
