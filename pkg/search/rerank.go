package search

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// RerankWeights distributes the conversational score across five factors.
// The weights must sum to 1.
type RerankWeights struct {
	Semantic   float64
	Recency    float64
	Importance float64
	Frequency  float64
	Context    float64
}

// DefaultRerankWeights favors topical fit and freshness over raw importance.
var DefaultRerankWeights = RerankWeights{
	Semantic:   0.35,
	Recency:    0.25,
	Importance: 0.15,
	Frequency:  0.15,
	Context:    0.10,
}

const (
	// DefaultRecencyHalfLife halves the recency factor per day since last
	// access.
	DefaultRecencyHalfLife = 24 * time.Hour

	// frequencySaturation is the access count treated as "fully
	// established". The log scale flattens everything above it.
	frequencySaturation = 100

	// jaccardThreshold is the minimum token overlap with recent session
	// content for a record to count as topically related.
	jaccardThreshold = 0.2
)

// Validate checks the weights sum to 1 and are individually non-negative.
func (w RerankWeights) Validate() error {
	for name, v := range map[string]float64{
		"semantic":   w.Semantic,
		"recency":    w.Recency,
		"importance": w.Importance,
		"frequency":  w.Frequency,
		"context":    w.Context,
	} {
		if v < 0 {
			return fmt.Errorf("rerank weight %s is negative", name)
		}
	}

	sum := w.Semantic + w.Recency + w.Importance + w.Frequency + w.Context
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("rerank weights sum to %.4f, want 1", sum)
	}
	return nil
}

// Reranker re-scores fused search results for conversational retrieval.
type Reranker struct {
	weights  RerankWeights
	halfLife time.Duration
}

// NewReranker validates the weights and returns a reranker. A zero halfLife
// uses DefaultRecencyHalfLife.
func NewReranker(w RerankWeights, halfLife time.Duration) (*Reranker, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if halfLife <= 0 {
		halfLife = DefaultRecencyHalfLife
	}
	return &Reranker{weights: w, halfLife: halfLife}, nil
}

// RerankedResult pairs a fused result with its conversational score and the
// factor breakdown that produced it.
type RerankedResult struct {
	Result

	// RerankScore replaces the fusion score as the sort key.
	RerankScore float64

	// Factors holds each factor's raw (unweighted) value.
	Factors map[string]float64
}

// Rerank re-orders candidates by the weighted five-factor score. The input
// slice is not modified.
func (r *Reranker) Rerank(candidates []Result, session *Session, now time.Time) []RerankedResult {
	out := make([]RerankedResult, 0, len(candidates))
	for _, c := range candidates {
		factors := map[string]float64{
			"semantic":   r.semanticFactor(c),
			"recency":    r.recencyFactor(c, now),
			"importance": c.Record.Importance,
			"frequency":  r.frequencyFactor(c),
			"context":    r.contextFactor(c, session),
		}

		score := factors["semantic"]*r.weights.Semantic +
			factors["recency"]*r.weights.Recency +
			factors["importance"]*r.weights.Importance +
			factors["frequency"]*r.weights.Frequency +
			factors["context"]*r.weights.Context

		out = append(out, RerankedResult{
			Result:      c,
			RerankScore: score,
			Factors:     factors,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RerankScore != out[j].RerankScore {
			return out[i].RerankScore > out[j].RerankScore
		}
		return out[i].Record.Importance > out[j].Record.Importance
	})
	return out
}

// semanticFactor prefers the raw semantic signal; results found only by
// text signals fall back to their fused score.
func (r *Reranker) semanticFactor(c Result) float64 {
	if s, ok := c.Signals[SignalSemantic]; ok {
		return s
	}
	return c.Score
}

// recencyFactor decays exponentially with time since last access.
func (r *Reranker) recencyFactor(c Result, now time.Time) float64 {
	age := now.Sub(c.Record.AccessedAt)
	if age <= 0 {
		return 1
	}
	return math.Exp2(-age.Hours() / r.halfLife.Hours())
}

// frequencyFactor log-scales the access count so a handful of recalls
// already counts for something and heavy recall saturates.
func (r *Reranker) frequencyFactor(c Result) float64 {
	f := math.Log1p(float64(c.Record.AccessCount)) / math.Log1p(frequencySaturation)
	if f > 1 {
		return 1
	}
	return f
}

// contextFactor boosts records already surfaced in the active session and
// records whose content overlaps the session's recent topics.
func (r *Reranker) contextFactor(c Result, session *Session) float64 {
	if session == nil {
		return 0
	}

	var f float64
	if session.Contains(c.Record.ID) {
		f += 0.5
	}
	if session.MaxJaccard(c.Record.Content) > jaccardThreshold {
		f += 0.5
	}
	return f
}
