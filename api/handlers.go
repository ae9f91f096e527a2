package api

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/storage"
)

// StoreMemoryRequest is the POST /v1/memories body.
type StoreMemoryRequest struct {
	Content    string         `json:"content"`
	Context    string         `json:"context"`
	Importance float64        `json:"importance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StoreMemoryResponse reports the store outcome. A rejected memory (below
// the importance threshold) returns stored=false with a reason, not an error.
type StoreMemoryResponse struct {
	ID     string `json:"id,omitempty"`
	Stored bool   `json:"stored"`
	Reason string `json:"reason,omitempty"`
}

// MemoryResponse is a record without its embedding; clients have no use for
// raw vectors.
type MemoryResponse struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	Context     string          `json:"context"`
	Importance  float64         `json:"importance"`
	Tier        string          `json:"tier"`
	CreatedAt   string          `json:"created_at"`
	AccessedAt  string          `json:"accessed_at"`
	ModifiedAt  string          `json:"modified_at"`
	AccessCount int64           `json:"access_count"`
	Metadata    record.Metadata `json:"metadata,omitempty"`
}

// QueryMemoriesResponse is the GET /v1/memories response body.
type QueryMemoriesResponse struct {
	Count    int              `json:"count"`
	Memories []MemoryResponse `json:"memories"`
}

// DeleteMemoryResponse is the DELETE /v1/memories/:id response body.
type DeleteMemoryResponse struct {
	Deleted bool `json:"deleted"`
}

// MigrationStatusResponse is the GET /v1/migration/status response body.
type MigrationStatusResponse struct {
	IsRunning bool   `json:"is_running"`
	LastRunAt string `json:"last_run_at,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// SyncStatusResponse is the GET /v1/sync/status response body.
type SyncStatusResponse struct {
	QueueDepth  int `json:"queue_depth"`
	DeadLetters int `json:"dead_letters"`
}

// StatsResponse is the GET /v1/stats response body.
type StatsResponse struct {
	TotalMemories int64            `json:"total_memories"`
	Tiers         map[string]int64 `json:"tiers"`
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func toMemoryResponse(rec *record.Record) MemoryResponse {
	return MemoryResponse{
		ID:          rec.ID,
		Content:     rec.Content,
		Context:     rec.Context.String(),
		Importance:  rec.Importance,
		Tier:        rec.Tier.String(),
		CreatedAt:   rec.CreatedAt.Format(timeLayout),
		AccessedAt:  rec.AccessedAt.Format(timeLayout),
		ModifiedAt:  rec.ModifiedAt.Format(timeLayout),
		AccessCount: rec.AccessCount,
		Metadata:    rec.Metadata,
	}
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleStoreMemory handles POST /v1/memories.
func (s *Server) handleStoreMemory(c *fiber.Ctx) error {
	var req StoreMemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	memContext, err := record.ParseContext(req.Context)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	metadata, err := record.MetadataFromAny(req.Metadata)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	result, err := s.store.Store(c.Context(), memory.StoreInput{
		Content:    req.Content,
		Context:    memContext,
		Importance: req.Importance,
		Metadata:   metadata,
	})
	if err != nil {
		var verr storage.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: verr.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	status := fiber.StatusCreated
	if !result.Stored {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(StoreMemoryResponse{
		ID:     result.ID,
		Stored: result.Stored,
		Reason: result.Reason,
	})
}

// handleGetMemory handles GET /v1/memories/:id.
func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	id := c.Params("id")

	rec, err := s.store.Get(c.Context(), id)
	if storage.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(toMemoryResponse(rec))
}

// handleTouchMemory handles POST /v1/memories/:id/touch.
func (s *Server) handleTouchMemory(c *fiber.Ctx) error {
	id := c.Params("id")

	rec, err := s.store.Touch(c.Context(), id, storage.AccessRecall)
	if storage.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "memory not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(toMemoryResponse(rec))
}

// handleDeleteMemory handles DELETE /v1/memories/:id. Idempotent.
func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	id := c.Params("id")

	existed, err := s.store.Delete(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(DeleteMemoryResponse{Deleted: existed})
}

// handleQueryMemories handles GET /v1/memories.
// Query parameters: text, context, tiers (comma-separated), limit.
func (s *Server) handleQueryMemories(c *fiber.Ctx) error {
	in := memory.QueryInput{
		Text:  c.Query("text"),
		Limit: 50,
	}

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
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		in.Limit = limit
	}

	matches, err := s.store.Query(c.Context(), in)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	out := make([]MemoryResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, toMemoryResponse(m.Record))
	}
	return c.JSON(QueryMemoriesResponse{
		Count:    len(out),
		Memories: out,
	})
}

// handleMigrationRun handles POST /v1/migration/run.
func (s *Server) handleMigrationRun(c *fiber.Ctx) error {
	if s.scheduler == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "migration is not configured"})
	}

	report, err := s.scheduler.RunNow(c.Context())
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(report)
}

// handleMigrationStatus handles GET /v1/migration/status.
func (s *Server) handleMigrationStatus(c *fiber.Ctx) error {
	if s.scheduler == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "migration is not configured"})
	}

	status := s.scheduler.Status()
	resp := MigrationStatusResponse{IsRunning: status.IsRunning}
	if !status.LastRunAt.IsZero() {
		resp.LastRunAt = status.LastRunAt.Format(timeLayout)
	}
	if !status.NextRunAt.IsZero() {
		resp.NextRunAt = status.NextRunAt.Format(timeLayout)
	}
	return c.JSON(resp)
}

// handleSyncStatus handles GET /v1/sync/status.
func (s *Server) handleSyncStatus(c *fiber.Ctx) error {
	if s.sync == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "sync is not configured"})
	}

	return c.JSON(SyncStatusResponse{
		QueueDepth:  s.sync.QueueDepth(),
		DeadLetters: len(s.sync.DeadLetters()),
	})
}

// handleStats handles GET /v1/stats: per-tier record counts.
func (s *Server) handleStats(c *fiber.Ctx) error {
	counts, err := s.store.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	tiers := make(map[string]int64, len(counts))
	var total int64
	for tier, n := range counts {
		tiers[tier.String()] = n
		total += n
	}
	return c.JSON(StatsResponse{
		TotalMemories: total,
		Tiers:         tiers,
	})
}

func parseTiers(param string) ([]record.Tier, error) {
	if param == "" {
		return nil, nil
	}

	var out []record.Tier
	for _, part := range strings.Split(param, ",") {
		tier, err := record.ParseTier(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, tier)
	}
	return out, nil
}
