// Package search implements hybrid retrieval: exact, lexical, and semantic
// signals run concurrently and are fused into a single weighted ranking,
// with an optional conversational re-rank pass on top.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/vector"
)

// Signal names. They double as the match type when only one signal
// contributed to a result.
const (
	SignalExact    = "exact"
	SignalFullText = "fulltext"
	SignalSemantic = "semantic"

	// MatchHybrid marks results backed by two or more signals.
	MatchHybrid = "hybrid"
)

// FullTextWeight is the fixed share of the combined score carried by the
// lexical signal. Exact and semantic split the remainder.
const FullTextWeight = 0.3

const (
	// DefaultExactWeight leaves 0.3 for the semantic signal.
	DefaultExactWeight = 0.4

	// DefaultSignalTimeout bounds each sub-query independently. A signal
	// that misses its deadline contributes nothing; the others still
	// return.
	DefaultSignalTimeout = 2 * time.Second

	// DefaultLimit caps results when the caller passes none.
	DefaultLimit = 10
)

// Toucher records result access. The tiered memory store satisfies this.
type Toucher interface {
	Touch(ctx context.Context, id string, kind storage.AccessKind) (*record.Record, error)
}

// Config tunes the fusion engine.
type Config struct {
	// ExactWeight is the default share for the exact signal, in
	// [0, 1-FullTextWeight]. Semantic gets the remainder.
	ExactWeight float64

	// SignalTimeout bounds each individual sub-query.
	SignalTimeout time.Duration
}

// Engine fuses exact, lexical, and semantic matches over the record store
// and the vector index.
type Engine struct {
	config   Config
	storage  storage.Driver
	vector   vector.Driver
	embedder embeddings.Embedder

	// touch is optional; when set, returned results are touched with an
	// access kind derived from their match type.
	touch Toucher

	// reranker and sessions back the conversational re-rank pass.
	reranker *Reranker
	sessions *Sessions

	logger *zap.Logger
}

// NewEngine creates a hybrid search engine. vector and embedder may be nil
// together, which disables the semantic signal.
func NewEngine(c Config, driver storage.Driver, vec vector.Driver, embedder embeddings.Embedder, logger *zap.Logger, touch Toucher) (*Engine, error) {
	if c.ExactWeight == 0 {
		c.ExactWeight = DefaultExactWeight
	}
	if c.ExactWeight < 0 || c.ExactWeight > 1-FullTextWeight {
		return nil, fmt.Errorf("exact weight %.2f out of range [0, %.2f]", c.ExactWeight, 1-FullTextWeight)
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = DefaultSignalTimeout
	}

	reranker, err := NewReranker(DefaultRerankWeights, 0)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:   c,
		storage:  driver,
		vector:   vec,
		embedder: embedder,
		reranker: reranker,
		sessions: NewSessions(0),
		touch:    touch,
		logger:   logger,
	}, nil
}

// Input is a hybrid search request. The three Include flags select signals;
// all false means all enabled.
type Input struct {
	Query   string
	Context record.Context
	Tiers   []record.Tier
	Limit   int

	// ExactWeight overrides the engine default per request. Zero means
	// use the default.
	ExactWeight float64

	IncludeExact    bool
	IncludeFullText bool
	IncludeSemantic bool

	// Rerank re-orders the fused candidates by conversational relevance
	// before truncation.
	Rerank bool

	// SessionID names the conversation whose recently surfaced memories
	// feed the rerank context factor. A non-empty ID implies Rerank.
	SessionID string
}

// Result is one fused hit.
type Result struct {
	Record *record.Record

	// Score is the weighted combination of the contributing signals.
	Score float64

	// MatchType names the single contributing signal, or "hybrid".
	MatchType string

	// Signals holds the raw per-signal scores that contributed.
	Signals map[string]float64

	// Highlights carries up to three excerpt snippets from exact matches.
	Highlights []string
}

type signalHits struct {
	name string
	hits []storage.Match
	err  error
}

// Search runs the enabled sub-queries concurrently, fuses their scores, and
// returns the top results. A failed or timed-out signal is logged and
// excluded; Search fails only when every enabled signal fails.
func (e *Engine) Search(ctx context.Context, in Input) ([]Result, error) {
	if in.Query == "" {
		return nil, storage.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if in.Limit <= 0 {
		in.Limit = DefaultLimit
	}

	exactWeight := e.config.ExactWeight
	if in.ExactWeight != 0 {
		if in.ExactWeight < 0 || in.ExactWeight > 1-FullTextWeight {
			return nil, storage.ValidationError{
				Field:  "exactWeight",
				Reason: fmt.Sprintf("must be in [0, %.2f]", 1-FullTextWeight),
			}
		}
		exactWeight = in.ExactWeight
	}
	semanticWeight := 1 - FullTextWeight - exactWeight

	if !in.IncludeExact && !in.IncludeFullText && !in.IncludeSemantic {
		in.IncludeExact = true
		in.IncludeFullText = true
		in.IncludeSemantic = true
	}
	if e.vector == nil || e.embedder == nil {
		in.IncludeSemantic = false
	}

	f := storage.Filter{Tiers: in.Tiers, Context: in.Context}

	// Fetch more than the caller asked for so fusion has candidates that
	// rank well on one signal but poorly on another.
	candidateLimit := in.Limit * 3

	results := make(chan signalHits)
	launched := 0

	if in.IncludeExact {
		launched++
		go e.runSignal(ctx, results, SignalExact, func(sctx context.Context) ([]storage.Match, error) {
			return e.storage.MatchExact(sctx, in.Query, f, candidateLimit)
		})
	}
	if in.IncludeFullText {
		launched++
		go e.runSignal(ctx, results, SignalFullText, func(sctx context.Context) ([]storage.Match, error) {
			return e.storage.MatchLexical(sctx, in.Query, f, candidateLimit)
		})
	}
	if in.IncludeSemantic {
		launched++
		go e.runSignal(ctx, results, SignalSemantic, func(sctx context.Context) ([]storage.Match, error) {
			return e.semanticMatches(sctx, in.Query, f, candidateLimit)
		})
	}

	weights := map[string]float64{
		SignalExact:    exactWeight,
		SignalFullText: FullTextWeight,
		SignalSemantic: semanticWeight,
	}

	type candidate struct {
		match   storage.Match
		signals map[string]float64
	}
	candidates := make(map[string]*candidate)
	failed := 0

	for i := 0; i < launched; i++ {
		sh := <-results
		if sh.err != nil {
			failed++
			e.logger.Warn("search signal failed",
				zap.String("signal", sh.name),
				zap.Error(sh.err),
			)
			continue
		}

		for _, m := range sh.hits {
			c, ok := candidates[m.Record.ID]
			if !ok {
				c = &candidate{match: m, signals: make(map[string]float64, 3)}
				candidates[m.Record.ID] = c
			}
			c.signals[sh.name] = m.Score
			if len(m.Highlights) > 0 {
				c.match.Highlights = m.Highlights
			}
		}
	}

	if launched > 0 && failed == launched {
		return nil, fmt.Errorf("all %d search signals failed", launched)
	}

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		var combined float64
		for name, score := range c.signals {
			combined += score * weights[name]
		}

		matchType := MatchHybrid
		if len(c.signals) == 1 {
			for name := range c.signals {
				matchType = name
			}
		}

		out = append(out, Result{
			Record:     c.match.Record,
			Score:      combined,
			MatchType:  matchType,
			Signals:    c.signals,
			Highlights: c.match.Highlights,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Record.Importance != out[j].Record.Importance {
			return out[i].Record.Importance > out[j].Record.Importance
		}
		return out[i].Record.AccessedAt.After(out[j].Record.AccessedAt)
	})

	if in.Rerank || in.SessionID != "" {
		out = e.rerankResults(out, in.SessionID, in.Limit)
	} else if len(out) > in.Limit {
		out = out[:in.Limit]
	}

	e.touchResults(ctx, out)
	return out, nil
}

// rerankResults re-orders the fused candidates by the conversational score,
// truncates to limit, and records the survivors in the session window. The
// rerank runs before truncation so a candidate that fused poorly but fits
// the conversation can still make the cut.
func (e *Engine) rerankResults(results []Result, sessionID string, limit int) []Result {
	var session *Session
	if sessionID != "" {
		session = e.sessions.Get(sessionID)
	}

	reranked := e.reranker.Rerank(results, session, time.Now().UTC())
	out := make([]Result, 0, len(reranked))
	for _, r := range reranked {
		res := r.Result
		res.Score = r.RerankScore
		out = append(out, res)
	}
	if len(out) > limit {
		out = out[:limit]
	}

	if session != nil {
		for _, r := range out {
			session.Observe(r.Record.ID, r.Record.Content)
		}
	}
	return out
}

func (e *Engine) runSignal(ctx context.Context, results chan<- signalHits, name string, query func(context.Context) ([]storage.Match, error)) {
	sctx, cancel := context.WithTimeout(ctx, e.config.SignalTimeout)
	defer cancel()

	hits, err := query(sctx)
	results <- signalHits{name: name, hits: hits, err: err}
}

// semanticMatches embeds the query, runs a nearest-neighbor lookup, and
// joins the hits back to full records. Records missing from the store
// (deleted but not yet removed from the index) are dropped.
func (e *Engine) semanticMatches(ctx context.Context, query string, f storage.Filter, limit int) ([]storage.Match, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := e.vector.Query(ctx, embedding, limit, vector.Filter{Context: f.Context.String()})
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]storage.Match, 0, len(hits))
	for _, h := range hits {
		rec, err := e.storage.Get(ctx, h.Document.ID)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("joining vector hit %s: %w", h.Document.ID, err)
		}
		if !tierAllowed(rec.Tier, f.Tiers) {
			continue
		}

		score := float64(h.Score)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out = append(out, storage.Match{Record: rec, Score: score})
	}
	return out, nil
}

// touchResults records access on returned hits. Failures are logged; search
// results are never withheld over a stats update.
func (e *Engine) touchResults(ctx context.Context, results []Result) {
	if e.touch == nil {
		return
	}

	for _, r := range results {
		kind := storage.AccessRecall
		switch r.MatchType {
		case SignalExact:
			kind = storage.AccessExactHit
		case SignalSemantic:
			kind = storage.AccessSemanticHit
		}

		if _, err := e.touch.Touch(ctx, r.Record.ID, kind); err != nil {
			e.logger.Warn("failed to touch search result",
				zap.String("id", r.Record.ID),
				zap.Error(err),
			)
		}
	}
}

func tierAllowed(t record.Tier, tiers []record.Tier) bool {
	if len(tiers) == 0 {
		return true
	}
	for _, allowed := range tiers {
		if t == allowed {
			return true
		}
	}
	return false
}
