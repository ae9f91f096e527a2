package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/migrate"
	"github.com/engramhq/engram/pkg/search"
	"github.com/engramhq/engram/pkg/syncer"
)

// Server is the API server for managing and querying memories.
type Server struct {
	config Config
	store  *memory.Store
	engine *search.Engine
	logger *zap.Logger
	app    *fiber.App

	// scheduler and sync are optional; their endpoints return 503 when
	// the component is not wired.
	scheduler *migrate.Scheduler
	sync      *syncer.Syncer
}

// NewServer creates a new API server. The store and engine are injected to
// allow sharing with other components (e.g., the MCP server).
func NewServer(config Config, store *memory.Store, engine *search.Engine, scheduler *migrate.Scheduler, sync *syncer.Syncer, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:    config,
		store:     store,
		engine:    engine,
		scheduler: scheduler,
		sync:      sync,
		logger:    logger,
		app:       app,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/v1/memories", s.handleStoreMemory)
	app.Get("/v1/memories", s.handleQueryMemories)
	app.Get("/v1/memories/:id", s.handleGetMemory)
	app.Post("/v1/memories/:id/touch", s.handleTouchMemory)
	app.Delete("/v1/memories/:id", s.handleDeleteMemory)

	app.Get("/v1/search", s.handleSearchEndpoint)

	app.Post("/v1/migration/run", s.handleMigrationRun)
	app.Get("/v1/migration/status", s.handleMigrationStatus)

	app.Get("/v1/sync/status", s.handleSyncStatus)

	app.Get("/v1/stats", s.handleStats)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
