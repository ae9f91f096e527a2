package migrate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
)

// DefaultConsolidateThreshold is the cosine similarity above which two
// same-context long-term records are considered duplicates.
const DefaultConsolidateThreshold = 0.85

// consolidate merges near-duplicate long-term records. Best effort: every
// failure is collected into the report and the pass continues.
func (s *Scheduler) consolidate(ctx context.Context, now time.Time, report *Report) {
	recs, err := s.storage.List(ctx, storage.Filter{Tiers: []record.Tier{record.TierLongterm}})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("consolidation scan: %v", err))
		return
	}

	byContext := make(map[record.Context][]*record.Record)
	for _, rec := range recs {
		if len(rec.Embedding) == 0 {
			continue
		}
		byContext[rec.Context] = append(byContext[rec.Context], rec)
	}

	merged := make(map[string]bool)
	for _, group := range byContext {
		for i := 0; i < len(group); i++ {
			if merged[group[i].ID] {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				if merged[group[j].ID] {
					continue
				}

				sim := cosineSimilarity(group[i].Embedding, group[j].Embedding)
				if sim < s.config.ConsolidateThreshold {
					continue
				}

				survivor, duplicate := pickSurvivor(group[i], group[j])
				if err := s.merge(ctx, survivor, duplicate, now); err != nil {
					report.Errors = append(report.Errors,
						fmt.Sprintf("consolidating %s into %s: %v", duplicate.ID, survivor.ID, err))
					continue
				}

				merged[duplicate.ID] = true
				report.Consolidated++

				s.logger.Info("consolidated duplicate memory",
					zap.String("survivor", survivor.ID),
					zap.String("removed", duplicate.ID),
					zap.Float64("similarity", sim),
				)

				if survivor.ID != group[i].ID {
					// The earlier record was absorbed; stop
					// comparing against it.
					break
				}
			}
		}
	}
}

// pickSurvivor keeps the more important record; access count breaks ties.
func pickSurvivor(a, b *record.Record) (survivor, duplicate *record.Record) {
	if b.Importance > a.Importance {
		return b, a
	}
	if b.Importance == a.Importance && b.AccessCount > a.AccessCount {
		return b, a
	}
	return a, b
}

// merge folds the duplicate into the survivor: summed access counts, union
// metadata with the survivor winning key conflicts, then deletes the
// duplicate.
func (s *Scheduler) merge(ctx context.Context, survivor, duplicate *record.Record, now time.Time) error {
	survivor.AccessCount += duplicate.AccessCount
	if duplicate.AccessedAt.After(survivor.AccessedAt) {
		survivor.AccessedAt = duplicate.AccessedAt
	}

	mergedMeta, conflicts := survivor.Metadata.Merge(duplicate.Metadata)
	survivor.Metadata = mergedMeta
	for _, key := range conflicts {
		s.logger.Debug("metadata key conflict during consolidation, keeping survivor value",
			zap.String("survivor", survivor.ID),
			zap.String("key", key),
		)
	}

	survivor.ModifiedAt = now
	if err := s.storage.Update(ctx, survivor); err != nil {
		return fmt.Errorf("updating survivor: %w", err)
	}

	if _, err := s.storage.Delete(ctx, duplicate.ID); err != nil {
		return fmt.Errorf("deleting duplicate: %w", err)
	}
	return nil
}

// cosineSimilarity over float32 vectors. Mismatched or zero-magnitude
// vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
