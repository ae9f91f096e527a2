package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/storage/postgres"
)

func TestPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Postgres Storage Suite")
}

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("ENGRAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("ENGRAM_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = Describe("Driver", func() {
	var (
		driver *postgres.Driver
		ctx    context.Context
		now    time.Time
	)

	newRecord := func(content string, memContext record.Context, importance float64) *record.Record {
		return record.New(content, memContext, importance, []float32{0.1, 0.2, 0.3}, nil, now)
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

		var err error
		driver, err = postgres.NewDriver(ctx, connStr(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		// Clean all records before each test for isolation.
		for _, tier := range []record.Tier{record.TierWorking, record.TierSession, record.TierLongterm} {
			recs, err := driver.List(ctx, storage.Filter{Tiers: []record.Tier{tier}})
			Expect(err).NotTo(HaveOccurred())
			for _, rec := range recs {
				_, err := driver.Delete(ctx, rec.ID)
				Expect(err).NotTo(HaveOccurred())
			}
		}
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	Describe("Put and Get", func() {
		It("stores and retrieves a record", func() {
			rec := newRecord("prefers tabs over spaces", record.ContextPreference, 0.8)
			rec.Metadata = record.Metadata{"source": record.String("session-42")}

			Expect(driver.Put(ctx, rec)).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(rec.ID))
			Expect(got.Content).To(Equal(rec.Content))
			Expect(got.Context).To(Equal(record.ContextPreference))
			Expect(got.Tier).To(Equal(record.TierWorking))
			Expect(got.Embedding).To(Equal([]float32{0.1, 0.2, 0.3}))
			Expect(got.Metadata).To(Equal(record.Metadata{"source": record.String("session-42")}))
		})

		It("rejects duplicate IDs", func() {
			rec := newRecord("fact", record.ContextGeneral, 0.5)
			Expect(driver.Put(ctx, rec)).To(Succeed())
			Expect(driver.Put(ctx, rec)).NotTo(Succeed())
		})

		It("returns NotFoundError for an unknown ID", func() {
			_, err := driver.Get(ctx, "nonexistent")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Touch", func() {
		It("bumps access count and access time together", func() {
			rec := newRecord("fact", record.ContextGeneral, 0.5)
			Expect(driver.Put(ctx, rec)).To(Succeed())

			later := now.Add(time.Hour)
			got, err := driver.Touch(ctx, rec.ID, later)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.AccessCount).To(Equal(int64(1)))
			Expect(got.AccessedAt.Equal(later)).To(BeTrue())
		})

		It("returns NotFoundError for an unknown ID", func() {
			_, err := driver.Touch(ctx, "nonexistent", now)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("SetTier", func() {
		It("advances the tier when the expected tier matches", func() {
			rec := newRecord("fact", record.ContextGeneral, 0.5)
			Expect(driver.Put(ctx, rec)).To(Succeed())

			Expect(driver.SetTier(ctx, rec.ID, record.TierWorking, record.TierSession, now.Add(time.Hour))).To(Succeed())

			got, err := driver.Get(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Tier).To(Equal(record.TierSession))
		})

		It("returns ConflictError when the tier changed underneath", func() {
			rec := newRecord("fact", record.ContextGeneral, 0.5)
			Expect(driver.Put(ctx, rec)).To(Succeed())

			err := driver.SetTier(ctx, rec.ID, record.TierSession, record.TierLongterm, now)
			Expect(storage.IsConflict(err)).To(BeTrue())
		})

		It("returns NotFoundError for an unknown ID", func() {
			err := driver.SetTier(ctx, "nonexistent", record.TierWorking, record.TierSession, now)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("removes a record and reports idempotently", func() {
			rec := newRecord("fact", record.ContextGeneral, 0.5)
			Expect(driver.Put(ctx, rec)).To(Succeed())

			existed, err := driver.Delete(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeTrue())

			existed, err = driver.Delete(ctx, rec.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeFalse())
		})
	})

	Describe("List", func() {
		It("filters by tier and context", func() {
			working := newRecord("working fact", record.ContextGeneral, 0.5)
			Expect(driver.Put(ctx, working)).To(Succeed())

			session := record.New("session fact", record.ContextDecision, 0.7, nil, nil, now.Add(time.Minute))
			session.Tier = record.TierSession
			Expect(driver.Put(ctx, session)).To(Succeed())

			out, err := driver.List(ctx, storage.Filter{Tiers: []record.Tier{record.TierSession}})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].ID).To(Equal(session.ID))

			out, err = driver.List(ctx, storage.Filter{Context: record.ContextGeneral})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].ID).To(Equal(working.ID))
		})
	})

	Describe("MatchExact", func() {
		It("finds case-insensitive substring matches with highlights", func() {
			Expect(driver.Put(ctx, newRecord("switched the build to pnpm workspaces", record.ContextDecision, 0.8))).To(Succeed())

			out, err := driver.MatchExact(ctx, "PNPM Workspaces", storage.Filter{}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].Score).To(Equal(1.0))
			Expect(out[0].Highlights).NotTo(BeEmpty())
		})

		It("does not treat LIKE wildcards as syntax", func() {
			Expect(driver.Put(ctx, newRecord("uses 100% test coverage", record.ContextGeneral, 0.5))).To(Succeed())

			out, err := driver.MatchExact(ctx, "100%", storage.Filter{}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
		})
	})

	Describe("MatchLexical", func() {
		It("ranks full-text matches", func() {
			Expect(driver.Put(ctx, newRecord("the quick brown fox jumps", record.ContextGeneral, 0.5))).To(Succeed())
			Expect(driver.Put(ctx, newRecord("lazy dogs sleep all day", record.ContextGeneral, 0.5))).To(Succeed())

			out, err := driver.MatchLexical(ctx, "quick fox", storage.Filter{}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].Record.Content).To(ContainSubstring("fox"))
			Expect(out[0].Score).To(BeNumerically(">", 0))
			Expect(out[0].Score).To(BeNumerically("<", 1.0))
		})
	})

	Describe("Count", func() {
		It("counts records per tier", func() {
			Expect(driver.Put(ctx, newRecord("first", record.ContextGeneral, 0.5))).To(Succeed())
			Expect(driver.Put(ctx, newRecord("second", record.ContextGeneral, 0.5))).To(Succeed())

			n, err := driver.Count(ctx, record.TierWorking)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
		})
	})
})
