package api

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/search"
	"github.com/engramhq/engram/pkg/storage"
)

// SearchOutput is the GET /v1/search response body.
type SearchOutput struct {
	Count   int                    `json:"count"`
	Results []SearchResultResponse `json:"results"`
}

// SearchResultResponse is one fused search hit.
type SearchResultResponse struct {
	Memory     MemoryResponse     `json:"memory"`
	Score      float64            `json:"score"`
	MatchType  string             `json:"match_type"`
	Signals    map[string]float64 `json:"signals"`
	Highlights []string           `json:"highlights,omitempty"`
}

// handleSearchEndpoint handles GET /v1/search requests.
// Query parameters:
//   - query (required): the search query text
//   - context (optional): restrict to one memory context
//   - tiers (optional): comma-separated tier names
//   - limit (optional, default 10): number of results to return
//   - exact_weight (optional): override the exact-signal weight
//   - signals (optional): comma-separated subset of exact,fulltext,semantic
//   - rerank (optional): re-order results by conversational relevance
//   - session (optional): conversation ID feeding the rerank context factor;
//     implies rerank
func (s *Server) handleSearchEndpoint(c *fiber.Ctx) error {
	if s.engine == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "search is not configured",
		})
	}

	query := c.Query("query")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "query parameter is required",
		})
	}

	in := search.Input{Query: query}

	if ctxParam := c.Query("context"); ctxParam != "" {
		memContext, err := record.ParseContext(ctxParam)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
		}
		in.Context = memContext
	}

	tiers, err := parseTiers(c.Query("tiers"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	in.Tiers = tiers

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error: "limit must be a positive integer",
			})
		}
		in.Limit = limit
	}

	if weightStr := c.Query("exact_weight"); weightStr != "" {
		weight, err := strconv.ParseFloat(weightStr, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error: "exact_weight must be a number",
			})
		}
		in.ExactWeight = weight
	}

	if signals := c.Query("signals"); signals != "" {
		for _, name := range strings.Split(signals, ",") {
			name = strings.TrimSpace(name)
			switch name {
			case search.SignalExact:
				in.IncludeExact = true
			case search.SignalFullText:
				in.IncludeFullText = true
			case search.SignalSemantic:
				in.IncludeSemantic = true
			default:
				return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
					Error: "unknown signal: " + name,
				})
			}
		}
	}

	in.Rerank = c.QueryBool("rerank")
	in.SessionID = c.Query("session")

	results, err := s.engine.Search(c.Context(), in)
	if err != nil {
		var verr storage.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: verr.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	out := make([]SearchResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResultResponse{
			Memory:     toMemoryResponse(r.Record),
			Score:      r.Score,
			MatchType:  r.MatchType,
			Signals:    r.Signals,
			Highlights: r.Highlights,
		})
	}

	return c.JSON(SearchOutput{
		Count:   len(out),
		Results: out,
	})
}
