package search_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/search"
)

var _ = Describe("RerankWeights", func() {
	It("accepts the default weights", func() {
		Expect(search.DefaultRerankWeights.Validate()).To(Succeed())
	})

	It("rejects weights that do not sum to 1", func() {
		w := search.RerankWeights{Semantic: 0.5, Recency: 0.5, Importance: 0.5}
		Expect(w.Validate()).NotTo(Succeed())
	})

	It("rejects negative weights", func() {
		w := search.RerankWeights{Semantic: 1.2, Recency: -0.2}
		Expect(w.Validate()).NotTo(Succeed())
	})
})

var _ = Describe("Reranker", func() {
	var (
		reranker *search.Reranker
		now      time.Time
	)

	result := func(rec *record.Record, score float64, signals map[string]float64) search.Result {
		return search.Result{Record: rec, Score: score, Signals: signals}
	}

	newRecord := func(importance float64, accessCount int64, accessedAt time.Time) *record.Record {
		rec := record.New("some stored fact", record.ContextGeneral, importance, nil, nil, accessedAt)
		rec.AccessCount = accessCount
		rec.AccessedAt = accessedAt
		return rec
	}

	BeforeEach(func() {
		var err error
		reranker, err = search.NewReranker(search.DefaultRerankWeights, 0)
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	})

	It("refuses invalid weights", func() {
		_, err := search.NewReranker(search.RerankWeights{Semantic: 2}, 0)
		Expect(err).To(HaveOccurred())
	})

	It("uses the raw semantic signal when present", func() {
		rec := newRecord(0.5, 0, now)
		out := reranker.Rerank([]search.Result{
			result(rec, 0.2, map[string]float64{search.SignalSemantic: 0.9}),
		}, nil, now)

		Expect(out).To(HaveLen(1))
		Expect(out[0].Factors["semantic"]).To(Equal(0.9))
	})

	It("falls back to the fused score for text-only hits", func() {
		rec := newRecord(0.5, 0, now)
		out := reranker.Rerank([]search.Result{
			result(rec, 0.65, map[string]float64{search.SignalExact: 1.0}),
		}, nil, now)

		Expect(out[0].Factors["semantic"]).To(Equal(0.65))
	})

	It("halves the recency factor per half-life", func() {
		rec := newRecord(0.5, 0, now.Add(-24*time.Hour))
		out := reranker.Rerank([]search.Result{result(rec, 0.5, nil)}, nil, now)

		Expect(out[0].Factors["recency"]).To(BeNumerically("~", 0.5, 1e-9))
	})

	It("gives just-accessed records full recency", func() {
		rec := newRecord(0.5, 0, now)
		out := reranker.Rerank([]search.Result{result(rec, 0.5, nil)}, nil, now)

		Expect(out[0].Factors["recency"]).To(Equal(1.0))
	})

	It("log-scales frequency and saturates at the cap", func() {
		never := newRecord(0.5, 0, now)
		some := newRecord(0.5, 10, now)
		heavy := newRecord(0.5, 100000, now)

		out := reranker.Rerank([]search.Result{
			result(never, 0.5, nil),
			result(some, 0.5, nil),
			result(heavy, 0.5, nil),
		}, nil, now)

		byID := map[string]search.RerankedResult{}
		for _, r := range out {
			byID[r.Record.ID] = r
		}

		Expect(byID[never.ID].Factors["frequency"]).To(BeZero())
		expected := math.Log1p(10) / math.Log1p(100)
		Expect(byID[some.ID].Factors["frequency"]).To(BeNumerically("~", expected, 1e-9))
		Expect(byID[heavy.ID].Factors["frequency"]).To(Equal(1.0))
	})

	It("scores context 0 without a session", func() {
		rec := newRecord(0.5, 0, now)
		out := reranker.Rerank([]search.Result{result(rec, 0.5, nil)}, nil, now)

		Expect(out[0].Factors["context"]).To(BeZero())
	})

	It("boosts records the session already surfaced", func() {
		rec := newRecord(0.5, 0, now)
		session := search.NewSession(0)
		session.Observe(rec.ID, "completely unrelated words here")

		out := reranker.Rerank([]search.Result{result(rec, 0.5, nil)}, session, now)

		Expect(out[0].Factors["context"]).To(BeNumerically(">=", 0.5))
	})

	It("boosts records overlapping the session topic", func() {
		rec := newRecord(0.5, 0, now)
		session := search.NewSession(0)
		session.Observe("other-id", "some stored fact about databases")

		out := reranker.Rerank([]search.Result{result(rec, 0.5, nil)}, session, now)

		Expect(out[0].Factors["context"]).To(BeNumerically(">=", 0.5))
	})

	It("orders by the weighted combined score", func() {
		stale := newRecord(0.5, 0, now.Add(-30*24*time.Hour))
		fresh := newRecord(0.5, 20, now)

		out := reranker.Rerank([]search.Result{
			result(stale, 0.5, nil),
			result(fresh, 0.5, nil),
		}, nil, now)

		Expect(out[0].Record.ID).To(Equal(fresh.ID))
		Expect(out[0].RerankScore).To(BeNumerically(">", out[1].RerankScore))
	})

	It("does not modify the input slice", func() {
		a := result(newRecord(0.9, 50, now), 0.9, nil)
		b := result(newRecord(0.1, 0, now.Add(-100*time.Hour)), 0.1, nil)
		in := []search.Result{b, a}

		_ = reranker.Rerank(in, nil, now)
		Expect(in[0].Record.ID).To(Equal(b.Record.ID))
	})
})
