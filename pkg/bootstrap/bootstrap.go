// Package bootstrap wires the engram components together from a loaded
// configuration: storage, vector index, embedder, event publisher, tiered
// store, search engine, synchronizer, and migration scheduler.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/embeddings/ollama"
	"github.com/engramhq/engram/pkg/eventstream"
	"github.com/engramhq/engram/pkg/eventstream/kafka"
	"github.com/engramhq/engram/pkg/eventstream/nop"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/migrate"
	"github.com/engramhq/engram/pkg/record"
	"github.com/engramhq/engram/pkg/search"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/storage/inmemory"
	"github.com/engramhq/engram/pkg/storage/postgres"
	"github.com/engramhq/engram/pkg/storage/sqlite"
	"github.com/engramhq/engram/pkg/syncer"
	"github.com/engramhq/engram/pkg/vector"
	"github.com/engramhq/engram/pkg/vector/qdrant"
	"github.com/engramhq/engram/pkg/vector/sqlitevec"
)

// QdrantCollection is the collection name used for memory embeddings.
const QdrantCollection = "engram_memories"

// Runtime holds the wired components for one engram process.
type Runtime struct {
	Config *config.Config
	Logger *zap.Logger

	Storage   storage.Driver
	Vector    vector.Driver
	Embedder  embeddings.Embedder
	Publisher eventstream.Publisher

	Store     *memory.Store
	Engine    *search.Engine
	Syncer    *syncer.Syncer
	Scheduler *migrate.Scheduler
}

// New builds a Runtime from the configuration. Optional components (vector
// index, synchronizer, scheduler) are nil when not configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	r := &Runtime{Config: cfg, Logger: logger}

	var err error
	if r.Storage, err = newStorageDriver(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if r.Vector, err = newVectorDriver(ctx, cfg, logger); err != nil {
		r.Close()
		return nil, err
	}
	if r.Embedder, err = ollama.NewEmbedder(ollama.Config{
		BaseURL: cfg.Embedding.Target,
		Model:   cfg.Embedding.Model,
	}); err != nil {
		r.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if r.Publisher, err = newPublisher(cfg, logger); err != nil {
		r.Close()
		return nil, err
	}

	if r.Vector != nil {
		r.Syncer = syncer.New(syncer.Config{
			Storage:      r.Storage,
			Vector:       r.Vector,
			Publisher:    r.Publisher,
			TickInterval: time.Duration(cfg.Sync.TickSeconds) * time.Second,
			BatchSize:    cfg.Sync.BatchSize,
			MaxAttempts:  cfg.Sync.MaxAttempts,
			Logger:       logger,
		})
	}

	storeOpts := []memory.Option{
		memory.WithPublisher(r.Publisher),
	}
	if r.Syncer != nil {
		storeOpts = append(storeOpts, memory.WithSyncer(r.Syncer))
	}
	if r.Vector != nil {
		storeOpts = append(storeOpts, memory.WithVector(r.Vector))
	}
	r.Store = memory.NewStore(memory.Config{
		ImportanceThreshold: cfg.Memory.ImportanceThreshold,
		Dimensions:          cfg.Embedding.Dimensions,
	}, r.Storage, r.Embedder, logger, storeOpts...)

	if r.Engine, err = search.NewEngine(search.Config{
		ExactWeight:   cfg.Search.ExactWeight,
		SignalTimeout: time.Duration(cfg.Search.SignalTimeoutMS) * time.Millisecond,
	}, r.Storage, r.Vector, r.Embedder, logger, r.Store); err != nil {
		r.Close()
		return nil, fmt.Errorf("creating search engine: %w", err)
	}

	if cfg.Migration.Enabled {
		policies := migrate.DefaultPolicies()
		for i := range policies {
			switch policies[i].Tier {
			case record.TierWorking:
				if cfg.Migration.WorkingMinAgeHours > 0 {
					policies[i].MinAge = time.Duration(cfg.Migration.WorkingMinAgeHours) * time.Hour
				}
			case record.TierSession:
				if cfg.Migration.SessionMinAgeHours > 0 {
					policies[i].MinAge = time.Duration(cfg.Migration.SessionMinAgeHours) * time.Hour
				}
			}
		}

		r.Scheduler = migrate.NewScheduler(migrate.Config{
			Policies:     policies,
			Interval:     time.Duration(cfg.Migration.IntervalMinutes) * time.Minute,
			BatchSize:    cfg.Migration.BatchSize,
			BatchWorkers: cfg.Migration.BatchWorkers,
			Consolidate:  cfg.Migration.Consolidate,
		}, r.Storage, r.Publisher, logger)
	}

	return r, nil
}

// Start launches the background workers (synchronizer, scheduler).
func (r *Runtime) Start(ctx context.Context) {
	if r.Syncer != nil {
		r.Syncer.Start()
	}
	if r.Scheduler != nil {
		r.Scheduler.Start(ctx)
	}
}

// Stop halts background workers without releasing drivers.
func (r *Runtime) Stop() {
	if r.Scheduler != nil {
		r.Scheduler.Stop()
	}
	if r.Syncer != nil {
		r.Syncer.Stop()
	}
}

// Close releases all drivers. Safe on a partially-constructed runtime.
func (r *Runtime) Close() error {
	var firstErr error

	closers := []func() error{}
	if r.Publisher != nil {
		closers = append(closers, r.Publisher.Close)
	}
	if r.Embedder != nil {
		closers = append(closers, r.Embedder.Close)
	}
	if r.Vector != nil {
		closers = append(closers, r.Vector.Close)
	}
	if r.Storage != nil {
		closers = append(closers, r.Storage.Close)
	}

	for _, close := range closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newStorageDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Driver, error) {
	switch cfg.Storage.Provider {
	case "postgres":
		if cfg.Storage.PostgresURL == "" {
			return nil, fmt.Errorf("storage.postgres_url is required for the postgres provider")
		}
		driver, err := postgres.NewDriver(ctx, cfg.Storage.PostgresURL, logger)
		if err != nil {
			return nil, fmt.Errorf("creating postgres record store: %w", err)
		}
		return driver, nil

	case "sqlite", "":
		if cfg.Storage.SQLitePath == "" {
			logger.Info("using in-memory record store")
			return inmemory.NewDriver(), nil
		}
		driver, err := sqlite.NewDriver(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite record store: %w", err)
		}
		return driver, nil
	}
	return nil, fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
}

func newVectorDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vector.Driver, error) {
	switch cfg.VectorStore.Provider {
	case "qdrant":
		driver, err := qdrant.NewDriver(ctx, qdrant.Config{
			Host:       cfg.VectorStore.Target,
			Port:       cfg.VectorStore.QdrantPort,
			Collection: QdrantCollection,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant vector index: %w", err)
		}
		return driver, nil

	case "sqlite", "":
		if cfg.VectorStore.Target == "" {
			// No vector index configured; semantic search is off.
			logger.Info("vector index not configured, semantic search disabled")
			return nil, nil
		}
		driver, err := sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     cfg.VectorStore.Target,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite-vec vector index: %w", err)
		}
		return driver, nil
	}
	return nil, fmt.Errorf("unknown vector store provider: %q", cfg.VectorStore.Provider)
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (eventstream.Publisher, error) {
	switch cfg.Events.Provider {
	case "kafka":
		brokers := strings.Split(cfg.Events.Brokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers: brokers,
			Topic:   cfg.Events.Topic,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return pub, nil

	case "nop", "":
		return nop.NewPublisher(), nil
	}
	return nil, fmt.Errorf("unknown events provider: %q", cfg.Events.Provider)
}

// LoadConfig reads configuration via viper (defaults, config.toml, ENGRAM_
// environment variables) and unmarshals it into a Config.
func LoadConfig(configDir string) (*config.Config, error) {
	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
