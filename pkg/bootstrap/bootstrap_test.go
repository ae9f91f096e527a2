package bootstrap_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/bootstrap"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/record"
)

func TestBootstrap(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Bootstrap Suite")
}

var _ = Describe("New", func() {
	var (
		cfg    *config.Config
		logger *zap.Logger
		ctx    context.Context
	)

	BeforeEach(func() {
		cfg = config.NewDefaultConfig()
		logger = zap.NewNop()
		ctx = context.Background()
	})

	It("builds a runtime from the default config", func() {
		r, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		Expect(r.Storage).NotTo(BeNil())
		Expect(r.Store).NotTo(BeNil())
		Expect(r.Engine).NotTo(BeNil())
		Expect(r.Embedder).NotTo(BeNil())
		Expect(r.Publisher).NotTo(BeNil())

		// No vector index configured, so no synchronizer either.
		Expect(r.Vector).To(BeNil())
		Expect(r.Syncer).To(BeNil())

		Expect(r.Scheduler).NotTo(BeNil())
	})

	It("applies configured batching and tier ages to the scheduler", func() {
		cfg.Migration.BatchSize = 25
		cfg.Migration.BatchWorkers = 4
		cfg.Migration.WorkingMinAgeHours = 1
		cfg.Migration.SessionMinAgeHours = 72

		r, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()
		Expect(r.Scheduler).NotTo(BeNil())

		// Two hours idle clears the configured 1-hour working age but
		// not the 48-hour default, so migrating proves the override
		// reached the scheduler.
		rec := record.New("aged fact", record.ContextGeneral, 0.0, nil, nil, time.Now().UTC().Add(-2*time.Hour))
		Expect(r.Storage.Put(ctx, rec)).To(Succeed())

		report, err := r.Scheduler.RunNow(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.PerPath).To(HaveKeyWithValue("working->session", 1))
	})

	It("wires the synchronizer when a vector index is configured", func() {
		cfg.VectorStore.Target = ":memory:"

		r, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		Expect(r.Vector).NotTo(BeNil())
		Expect(r.Syncer).NotTo(BeNil())
	})

	It("omits the scheduler when migration is disabled", func() {
		cfg.Migration.Enabled = false

		r, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		Expect(r.Scheduler).To(BeNil())
	})

	It("uses a file-backed sqlite store when a path is set", func() {
		tmpDir := GinkgoT().TempDir()
		cfg.Storage.SQLitePath = tmpDir + "/engram.db"

		r, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Close()).To(Succeed())
	})

	It("rejects unknown storage providers", func() {
		cfg.Storage.Provider = "dynamo"

		_, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown storage provider"))
	})

	It("requires a postgres URL for the postgres provider", func() {
		cfg.Storage.Provider = "postgres"

		_, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("postgres_url"))
	})

	It("rejects unknown vector store providers", func() {
		cfg.VectorStore.Provider = "pinecone"

		_, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown vector store provider"))
	})

	It("rejects unknown events providers", func() {
		cfg.Events.Provider = "rabbitmq"

		_, err := bootstrap.New(ctx, cfg, logger)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unknown events provider"))
	})
})

var _ = Describe("Runtime lifecycle", func() {
	It("starts and stops background workers", func() {
		cfg := config.NewDefaultConfig()
		cfg.VectorStore.Target = ":memory:"

		r, err := bootstrap.New(context.Background(), cfg, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		r.Start(context.Background())
		r.Stop()
	})

	It("tolerates Close on a partially constructed runtime", func() {
		r := &bootstrap.Runtime{}
		Expect(r.Close()).To(Succeed())
	})
})
