package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/migrate"
	"github.com/engramhq/engram/pkg/search"
	"github.com/engramhq/engram/pkg/storage/inmemory"
	"github.com/engramhq/engram/pkg/syncer"
	testutils "github.com/engramhq/engram/pkg/utils/test"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

// newTestHarness builds a server backed by in-memory components. The
// scheduler and syncer are wired so their endpoints are exercisable.
type testHarness struct {
	server    *Server
	driver    *inmemory.Driver
	vec       *testutils.MockVectorDriver
	embedder  *testutils.MockEmbedder
	scheduler *migrate.Scheduler
	syncer    *syncer.Syncer
}

func newTestHarness() *testHarness {
	logger := zap.NewNop()
	driver := inmemory.NewDriver()
	vec := testutils.NewMockVectorDriver()
	embedder := testutils.NewMockEmbedder()

	sync := syncer.New(syncer.Config{
		Storage: driver,
		Vector:  vec,
		Logger:  logger,
	})

	store := memory.NewStore(memory.Config{}, driver, embedder, logger,
		memory.WithSyncer(sync),
		memory.WithVector(vec),
	)

	engine, err := search.NewEngine(search.Config{}, driver, vec, embedder, logger, store)
	Expect(err).NotTo(HaveOccurred())

	scheduler := migrate.NewScheduler(migrate.Config{}, driver, nil, logger)

	return &testHarness{
		server:    NewServer(Config{ListenAddr: ":0"}, store, engine, scheduler, sync, logger),
		driver:    driver,
		vec:       vec,
		embedder:  embedder,
		scheduler: scheduler,
		syncer:    sync,
	}
}

func (h *testHarness) request(method, target string, body any) *http.Response {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, reader)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.app.Test(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func decodeBody[T any](resp *http.Response) T {
	var out T
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(data, &out)).To(Succeed())
	return out
}

func (h *testHarness) storeMemory(content, memContext string, importance float64) string {
	resp := h.request(http.MethodPost, "/v1/memories", StoreMemoryRequest{
		Content:    content,
		Context:    memContext,
		Importance: importance,
	})
	Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

	stored := decodeBody[StoreMemoryResponse](resp)
	Expect(stored.Stored).To(BeTrue())
	return stored.ID
}

var _ = Describe("API server", func() {
	var h *testHarness

	BeforeEach(func() {
		h = newTestHarness()
	})

	Describe("GET /ping", func() {
		It("returns pong", func() {
			resp := h.request(http.MethodGet, "/ping", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("pong"))
		})
	})

	Describe("POST /v1/memories", func() {
		It("stores a memory and returns 201", func() {
			resp := h.request(http.MethodPost, "/v1/memories", StoreMemoryRequest{
				Content:    "prefers tabs over spaces",
				Context:    "preference",
				Importance: 0.8,
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusCreated))

			stored := decodeBody[StoreMemoryResponse](resp)
			Expect(stored.Stored).To(BeTrue())
			Expect(stored.ID).NotTo(BeEmpty())
			Expect(stored.Reason).To(BeEmpty())
		})

		It("returns 200 with a reason when importance is below threshold", func() {
			resp := h.request(http.MethodPost, "/v1/memories", StoreMemoryRequest{
				Content:    "trivial observation",
				Context:    "general",
				Importance: 0.1,
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			stored := decodeBody[StoreMemoryResponse](resp)
			Expect(stored.Stored).To(BeFalse())
			Expect(stored.ID).To(BeEmpty())
			Expect(stored.Reason).NotTo(BeEmpty())
		})

		It("returns 400 for an invalid request body", func() {
			req, err := http.NewRequest(http.MethodPost, "/v1/memories", bytes.NewReader([]byte("not json")))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")

			resp, err := h.server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for an unknown context", func() {
			resp := h.request(http.MethodPost, "/v1/memories", StoreMemoryRequest{
				Content:    "some fact",
				Context:    "diary",
				Importance: 0.5,
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for empty content", func() {
			resp := h.request(http.MethodPost, "/v1/memories", StoreMemoryRequest{
				Content:    "",
				Context:    "general",
				Importance: 0.5,
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for importance outside [0, 1]", func() {
			resp := h.request(http.MethodPost, "/v1/memories", StoreMemoryRequest{
				Content:    "some fact",
				Context:    "general",
				Importance: 1.5,
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("GET /v1/memories/:id", func() {
		It("returns the memory without its embedding", func() {
			id := h.storeMemory("uses pnpm for package management", "preference", 0.7)

			resp := h.request(http.MethodGet, "/v1/memories/"+id, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			mem := decodeBody[MemoryResponse](resp)
			Expect(mem.ID).To(Equal(id))
			Expect(mem.Content).To(Equal("uses pnpm for package management"))
			Expect(mem.Context).To(Equal("preference"))
			Expect(mem.Importance).To(Equal(0.7))
			Expect(mem.Tier).To(Equal("working"))
			Expect(mem.CreatedAt).NotTo(BeEmpty())
			Expect(mem.AccessCount).To(BeZero())
		})

		It("returns 404 for an unknown id", func() {
			resp := h.request(http.MethodGet, "/v1/memories/nonexistent", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("POST /v1/memories/:id/touch", func() {
		It("increments the access count", func() {
			id := h.storeMemory("fact", "general", 0.5)

			resp := h.request(http.MethodPost, "/v1/memories/"+id+"/touch", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			mem := decodeBody[MemoryResponse](resp)
			Expect(mem.AccessCount).To(Equal(int64(1)))
		})

		It("returns 404 for an unknown id", func() {
			resp := h.request(http.MethodPost, "/v1/memories/nonexistent/touch", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("DELETE /v1/memories/:id", func() {
		It("deletes and reports idempotently", func() {
			id := h.storeMemory("fact", "general", 0.5)

			resp := h.request(http.MethodDelete, "/v1/memories/"+id, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(decodeBody[DeleteMemoryResponse](resp).Deleted).To(BeTrue())

			resp = h.request(http.MethodDelete, "/v1/memories/"+id, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(decodeBody[DeleteMemoryResponse](resp).Deleted).To(BeFalse())
		})
	})

	Describe("GET /v1/memories", func() {
		BeforeEach(func() {
			h.storeMemory("switched the project to pnpm", "decision", 0.8)
			h.storeMemory("prefers dark terminal themes", "preference", 0.6)
		})

		It("lists all memories by default", func() {
			resp := h.request(http.MethodGet, "/v1/memories", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[QueryMemoriesResponse](resp)
			Expect(out.Count).To(Equal(2))
			Expect(out.Memories).To(HaveLen(2))
		})

		It("filters by context", func() {
			resp := h.request(http.MethodGet, "/v1/memories?context=decision", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[QueryMemoriesResponse](resp)
			Expect(out.Count).To(Equal(1))
			Expect(out.Memories[0].Context).To(Equal("decision"))
		})

		It("filters by text", func() {
			resp := h.request(http.MethodGet, "/v1/memories?text=pnpm", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[QueryMemoriesResponse](resp)
			Expect(out.Count).To(Equal(1))
			Expect(out.Memories[0].Content).To(ContainSubstring("pnpm"))
		})

		It("returns 400 for an unknown tier", func() {
			resp := h.request(http.MethodGet, "/v1/memories?tiers=permafrost", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for a non-positive limit", func() {
			resp := h.request(http.MethodGet, "/v1/memories?limit=0", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("POST /v1/migration/run", func() {
		It("runs a migration pass and returns the report", func() {
			resp := h.request(http.MethodPost, "/v1/migration/run", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			report := decodeBody[migrate.Report](resp)
			Expect(report.TotalMigrated).To(BeZero())
			Expect(report.Errors).To(BeEmpty())
		})

		It("returns 503 when migration is not configured", func() {
			bare := newTestHarness()
			bare.server.scheduler = nil

			resp := bare.request(http.MethodPost, "/v1/migration/run", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	Describe("GET /v1/migration/status", func() {
		It("reports an idle scheduler", func() {
			resp := h.request(http.MethodGet, "/v1/migration/status", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			status := decodeBody[MigrationStatusResponse](resp)
			Expect(status.IsRunning).To(BeFalse())
			Expect(status.LastRunAt).To(BeEmpty())
		})

		It("reports the last run time after a pass", func() {
			resp := h.request(http.MethodPost, "/v1/migration/run", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			resp = h.request(http.MethodGet, "/v1/migration/status", nil)
			status := decodeBody[MigrationStatusResponse](resp)
			Expect(status.LastRunAt).NotTo(BeEmpty())
		})

		It("returns 503 when migration is not configured", func() {
			bare := newTestHarness()
			bare.server.scheduler = nil

			resp := bare.request(http.MethodGet, "/v1/migration/status", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	Describe("GET /v1/sync/status", func() {
		It("reports the queue depth", func() {
			h.storeMemory("fact", "general", 0.5)

			resp := h.request(http.MethodGet, "/v1/sync/status", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			status := decodeBody[SyncStatusResponse](resp)
			Expect(status.QueueDepth).To(Equal(1))
			Expect(status.DeadLetters).To(BeZero())
		})

		It("returns 503 when sync is not configured", func() {
			bare := newTestHarness()
			bare.server.sync = nil

			resp := bare.request(http.MethodGet, "/v1/sync/status", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	Describe("GET /v1/stats", func() {
		It("returns per-tier counts", func() {
			h.storeMemory("first", "general", 0.5)
			h.storeMemory("second", "decision", 0.8)

			resp := h.request(http.MethodGet, "/v1/stats", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			stats := decodeBody[StatsResponse](resp)
			Expect(stats.TotalMemories).To(Equal(int64(2)))
			Expect(stats.Tiers["working"]).To(Equal(int64(2)))
		})
	})
})
