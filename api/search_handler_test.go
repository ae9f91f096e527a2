package api

import (
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/search"
	"github.com/engramhq/engram/pkg/vector"
)

var _ = Describe("handleSearchEndpoint", func() {
	var h *testHarness

	BeforeEach(func() {
		h = newTestHarness()
	})

	Context("when search is not configured", func() {
		It("returns 503", func() {
			bare := newTestHarness()
			bare.server.engine = nil

			resp := bare.request(http.MethodGet, "/v1/search?query=test", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	Context("when query parameter is missing", func() {
		It("returns 400", func() {
			resp := h.request(http.MethodGet, "/v1/search", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("query parameter is required"))
		})
	})

	Context("when parameters are invalid", func() {
		It("returns 400 for a non-integer limit", func() {
			resp := h.request(http.MethodGet, "/v1/search?query=test&limit=abc", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("limit must be a positive integer"))
		})

		It("returns 400 for a zero limit", func() {
			resp := h.request(http.MethodGet, "/v1/search?query=test&limit=0", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for an unknown context", func() {
			resp := h.request(http.MethodGet, "/v1/search?query=test&context=diary", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for an unknown tier", func() {
			resp := h.request(http.MethodGet, "/v1/search?query=test&tiers=permafrost", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 400 for a non-numeric exact weight", func() {
			resp := h.request(http.MethodGet, "/v1/search?query=test&exact_weight=heavy", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("exact_weight must be a number"))
		})

		It("returns 400 for an unknown signal", func() {
			resp := h.request(http.MethodGet, "/v1/search?query=test&signals=psychic", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("unknown signal"))
		})
	})

	Context("when search succeeds with no results", func() {
		It("returns 200 with empty results", func() {
			resp := h.request(http.MethodGet, "/v1/search?query=nothing+matches+this", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[SearchOutput](resp)
			Expect(out.Count).To(BeZero())
			Expect(out.Results).To(BeEmpty())
		})
	})

	Context("when search succeeds with results", func() {
		It("returns fused hits with scores and signals", func() {
			id := h.storeMemory("switched the build to pnpm workspaces", "decision", 0.8)

			resp := h.request(http.MethodGet, "/v1/search?query=pnpm+workspaces&signals=exact,fulltext", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[SearchOutput](resp)
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].Memory.ID).To(Equal(id))
			Expect(out.Results[0].Score).To(BeNumerically(">", 0))
			Expect(out.Results[0].Signals).NotTo(BeEmpty())
		})

		It("includes semantic hits from the vector index", func() {
			id := h.storeMemory("migrated the cache to redis", "decision", 0.8)

			h.vec.Results = []vector.QueryResult{
				{
					Document: vector.Document{ID: id, Context: "decision"},
					Score:    0.9,
				},
			}

			resp := h.request(http.MethodGet, "/v1/search?query=caching+layer&signals=semantic", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[SearchOutput](resp)
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].Memory.ID).To(Equal(id))
			Expect(out.Results[0].MatchType).To(Equal(search.SignalSemantic))
			Expect(out.Results[0].Signals).To(HaveKey(search.SignalSemantic))
		})

		It("reranks results when rerank and session parameters are set", func() {
			id := h.storeMemory("sprint retro notes from the platform team", "general", 0.8)

			resp := h.request(http.MethodGet, "/v1/search?query=retro+notes&signals=exact&rerank=true&session=conv-1", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[SearchOutput](resp)
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].Memory.ID).To(Equal(id))
			Expect(out.Results[0].Score).To(BeNumerically(">", 0))
		})

		It("restricts results by tier", func() {
			h.storeMemory("working tier fact about gophers", "general", 0.8)

			resp := h.request(http.MethodGet, "/v1/search?query=gophers&tiers=longterm&signals=exact", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			out := decodeBody[SearchOutput](resp)
			Expect(out.Count).To(BeZero())
		})
	})
})
