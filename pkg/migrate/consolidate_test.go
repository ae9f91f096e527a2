package migrate_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/migrate"
	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/storage/inmemory"
)

var _ = Describe("consolidation", func() {
	var (
		driver *inmemory.Driver
		ctx    context.Context
		now    time.Time
	)

	newScheduler := func() *migrate.Scheduler {
		return migrate.NewScheduler(migrate.Config{
			// No policies that can fire; runs exercise only the
			// consolidation pass.
			Policies:    []migrate.TierPolicy{{Tier: record.TierWorking, MinAge: 10000 * time.Hour}},
			Consolidate: true,
			Now:         func() time.Time { return now },
		}, driver, nil, zap.NewNop())
	}

	putLongterm := func(content string, context record.Context, importance float64, accessCount int64, embedding []float32, meta record.Metadata) *record.Record {
		rec := record.New(content, context, importance, embedding, meta, now)
		rec.Tier = record.TierLongterm
		rec.AccessCount = accessCount
		Expect(driver.Put(ctx, rec)).To(Succeed())
		return rec
	}

	BeforeEach(func() {
		driver = inmemory.NewDriver()
		ctx = context.Background()
		now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	})

	It("merges near-duplicate longterm records in the same context", func() {
		survivor := putLongterm("tabs preferred", record.ContextPreference, 0.8, 3, []float32{1, 0}, nil)
		duplicate := putLongterm("prefers tabs", record.ContextPreference, 0.5, 2, []float32{0.99, 0.01}, nil)

		report, err := newScheduler().RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consolidated).To(Equal(1))

		_, err = driver.Get(ctx, duplicate.ID)
		Expect(storage.IsNotFound(err)).To(BeTrue())

		kept, err := driver.Get(ctx, survivor.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(kept.AccessCount).To(Equal(int64(5)))
	})

	It("keeps the more important record", func() {
		low := putLongterm("fact restated", record.ContextGeneral, 0.4, 10, []float32{1, 0}, nil)
		high := putLongterm("fact", record.ContextGeneral, 0.9, 0, []float32{1, 0}, nil)

		report, err := newScheduler().RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consolidated).To(Equal(1))

		_, err = driver.Get(ctx, low.ID)
		Expect(storage.IsNotFound(err)).To(BeTrue())
		_, err = driver.Get(ctx, high.ID)
		Expect(err).NotTo(HaveOccurred())
	})

	It("breaks importance ties by access count", func() {
		cold := putLongterm("fact", record.ContextGeneral, 0.5, 1, []float32{1, 0}, nil)
		hot := putLongterm("fact again", record.ContextGeneral, 0.5, 9, []float32{1, 0}, nil)

		report, err := newScheduler().RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consolidated).To(Equal(1))

		_, err = driver.Get(ctx, cold.ID)
		Expect(storage.IsNotFound(err)).To(BeTrue())
		_, err = driver.Get(ctx, hot.ID)
		Expect(err).NotTo(HaveOccurred())
	})

	It("unions metadata with the survivor winning conflicts", func() {
		survivor := putLongterm("fact", record.ContextGeneral, 0.9, 0, []float32{1, 0}, record.Metadata{
			"source": record.String("survivor"),
		})
		putLongterm("fact copy", record.ContextGeneral, 0.4, 0, []float32{1, 0}, record.Metadata{
			"source": record.String("duplicate"),
			"extra":  record.Bool(true),
		})

		_, err := newScheduler().RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())

		kept, err := driver.Get(ctx, survivor.ID)
		Expect(err).NotTo(HaveOccurred())
		source, _ := kept.Metadata["source"].AsString()
		Expect(source).To(Equal("survivor"))
		Expect(kept.Metadata).To(HaveKey("extra"))
	})

	It("does not merge across contexts", func() {
		putLongterm("fact", record.ContextPreference, 0.5, 0, []float32{1, 0}, nil)
		putLongterm("fact", record.ContextDecision, 0.5, 0, []float32{1, 0}, nil)

		report, err := newScheduler().RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consolidated).To(BeZero())
	})

	It("does not merge below the similarity threshold", func() {
		putLongterm("first topic", record.ContextGeneral, 0.5, 0, []float32{1, 0}, nil)
		putLongterm("unrelated topic", record.ContextGeneral, 0.5, 0, []float32{0, 1}, nil)

		report, err := newScheduler().RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consolidated).To(BeZero())
	})

	It("ignores tiers other than longterm", func() {
		a := record.New("fact", record.ContextGeneral, 0.5, []float32{1, 0}, nil, now)
		b := record.New("fact copy", record.ContextGeneral, 0.5, []float32{1, 0}, nil, now)
		Expect(driver.Put(ctx, a)).To(Succeed())
		Expect(driver.Put(ctx, b)).To(Succeed())

		report, err := newScheduler().RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consolidated).To(BeZero())
	})

	It("skips when consolidation is disabled", func() {
		putLongterm("fact", record.ContextGeneral, 0.5, 0, []float32{1, 0}, nil)
		putLongterm("fact copy", record.ContextGeneral, 0.5, 0, []float32{1, 0}, nil)

		s := migrate.NewScheduler(migrate.Config{
			Policies: []migrate.TierPolicy{{Tier: record.TierWorking, MinAge: 10000 * time.Hour}},
			Now:      func() time.Time { return now },
		}, driver, nil, zap.NewNop())

		report, err := s.RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Consolidated).To(BeZero())

		n, err := driver.Count(ctx, record.TierLongterm)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(2)))
	})
})
