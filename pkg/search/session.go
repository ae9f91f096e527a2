package search

import (
	"strings"
	"sync"
)

// DefaultSessionWindow is how many recently touched memories a session
// remembers for topical comparison.
const DefaultSessionWindow = 20

// Session tracks which memories the current conversation has touched and
// what they said. The reranker uses it for the context-relevance factor.
// Safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	window int

	// order holds recently observed IDs, oldest first.
	order []string

	// tokens maps ID to that record's content token set.
	tokens map[string]map[string]bool
}

// NewSession creates a session tracker. A window of 0 uses
// DefaultSessionWindow.
func NewSession(window int) *Session {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	return &Session{
		window: window,
		tokens: make(map[string]map[string]bool),
	}
}

// Observe records that a memory was surfaced in this session. Re-observing
// an ID refreshes its position in the window.
func (s *Session) Observe(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; ok {
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}

	s.order = append(s.order, id)
	s.tokens[id] = tokenSet(content)

	for len(s.order) > s.window {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.tokens, evicted)
	}
}

// Sessions is a registry of per-conversation trackers, created on first
// use. Safe for concurrent use.
type Sessions struct {
	mu     sync.Mutex
	window int
	byID   map[string]*Session
}

// NewSessions creates a registry whose sessions use the given window.
func NewSessions(window int) *Sessions {
	return &Sessions{
		window: window,
		byID:   make(map[string]*Session),
	}
}

// Get returns the session for the given conversation ID, creating it when
// the ID is new.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		sess = NewSession(s.window)
		s.byID[id] = sess
	}
	return sess
}

// Contains reports whether the session has observed the given memory.
func (s *Session) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tokens[id]
	return ok
}

// Len returns the number of memories currently in the window.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}

// MaxJaccard returns the highest Jaccard token similarity between content
// and any observed record's content. Empty sessions score 0.
func (s *Session) MaxJaccard(content string) float64 {
	candidate := tokenSet(content)
	if len(candidate) == 0 {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best float64
	for _, observed := range s.tokens {
		if j := jaccard(candidate, observed); j > best {
			best = j
		}
	}
	return best
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// Iterate the smaller set.
	if len(b) < len(a) {
		a, b = b, a
	}

	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
