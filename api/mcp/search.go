package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/search"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search stored memories using hybrid retrieval: exact substring, full-text, and semantic similarity signals fused into one ranking. Use this to recall persistent knowledge from past sessions."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"the search query text to find relevant memories"`
	Context   string `json:"context,omitempty" jsonschema:"optional memory context to restrict the search to"`
	TopK      int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
	Rerank    bool   `json:"rerank,omitempty" jsonschema:"re-order results by conversational relevance (recency, frequency, session context)"`
	SessionID string `json:"session_id,omitempty" jsonschema:"conversation ID whose recent recalls boost related memories; implies rerank"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Context    string   `json:"context"`
	Tier       string   `json:"tier"`
	Score      float64  `json:"score"`
	MatchType  string   `json:"match_type"`
	Highlights []string `json:"highlights,omitempty"`
}

// SearchOutput represents the output of the memory_search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// handleMemorySearch processes a search request.
func (s *Server) handleMemorySearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("MCP memory search request",
		zap.String("query", input.Query),
		zap.Int("topK", topK),
	)

	in := search.Input{
		Query:     input.Query,
		Limit:     topK,
		Rerank:    input.Rerank,
		SessionID: input.SessionID,
	}
	if input.Context != "" {
		memContext, err := record.ParseContext(input.Context)
		if err != nil {
			return toolError(fmt.Sprintf("invalid context: %v", err)), SearchOutput{}, nil
		}
		in.Context = memContext
	}

	results, err := s.config.Engine.Search(ctx, in)
	if err != nil {
		logger.Error("MCP memory search failed", zap.Error(err))
		return toolError(fmt.Sprintf("Memory search failed: %v", err)), SearchOutput{}, nil
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		searchResults = append(searchResults, SearchResult{
			ID:         r.Record.ID,
			Content:    r.Record.Content,
			Context:    r.Record.Context.String(),
			Tier:       r.Record.Tier.String(),
			Score:      r.Score,
			MatchType:  r.MatchType,
			Highlights: r.Highlights,
		})
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: searchResults,
		Count:   len(searchResults),
	}
	return toolJSON(output), output, nil
}

// toolError builds an error tool result with a plain-text message.
func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}

// toolJSON serializes the output as the tool result text content.
func toolJSON(output any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}
