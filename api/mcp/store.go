package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/record"
)

var (
	storeToolName    = "memory_store"
	storeDescription = "Store a memory for later recall. Provide the memory text, a context classifying it (general, preference, decision, code-symbol, code-pattern, conversation, task), and an importance score in [0,1]. Low-importance memories below the configured threshold are rejected."
)

// StoreInput represents the input arguments for the memory_store tool.
type StoreInput struct {
	Content    string         `json:"content" jsonschema:"the memory text to store"`
	Context    string         `json:"context" jsonschema:"the memory context classification"`
	Importance float64        `json:"importance" jsonschema:"importance score in [0,1]"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"optional key/value metadata"`
}

// StoreOutput represents the structured output of a store.
type StoreOutput struct {
	ID     string `json:"id,omitempty"`
	Stored bool   `json:"stored"`
	Reason string `json:"reason,omitempty"`
}

// handleMemoryStore processes a memory store request via MCP.
func (s *Server) handleMemoryStore(ctx context.Context, _ *mcp.CallToolRequest, input StoreInput) (*mcp.CallToolResult, StoreOutput, error) {
	memContext, err := record.ParseContext(input.Context)
	if err != nil {
		return toolError(fmt.Sprintf("invalid context: %v", err)), StoreOutput{}, nil
	}

	metadata, err := record.MetadataFromAny(input.Metadata)
	if err != nil {
		return toolError(fmt.Sprintf("invalid metadata: %v", err)), StoreOutput{}, nil
	}

	result, err := s.config.Store.Store(ctx, memory.StoreInput{
		Content:    input.Content,
		Context:    memContext,
		Importance: input.Importance,
		Metadata:   metadata,
	})
	if err != nil {
		s.config.Logger.Error("MCP memory store failed", zap.Error(err))
		return toolError(fmt.Sprintf("Memory store failed: %v", err)), StoreOutput{}, nil
	}

	output := StoreOutput{
		ID:     result.ID,
		Stored: result.Stored,
		Reason: result.Reason,
	}
	return toolJSON(output), output, nil
}
