package config

const (
	defaultStorageProvider = "sqlite"
	defaultAPIListen       = ":8081"

	defaultVectorProvider = "sqlite"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultImportanceThreshold = 0.3

	defaultExactWeight     = 0.4
	defaultSignalTimeoutMS = 2000

	defaultMigrationIntervalMinutes = 60

	defaultSyncTickSeconds = 5
	defaultSyncBatchSize   = 100
	defaultSyncMaxAttempts = 5

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "engram.memory"

	defaultClientAPITarget = "http://localhost:8081"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Memory: MemoryConfig{
			ImportanceThreshold: defaultImportanceThreshold,
		},
		Search: SearchConfig{
			ExactWeight:     defaultExactWeight,
			SignalTimeoutMS: defaultSignalTimeoutMS,
		},
		Migration: MigrationConfig{
			Enabled:         true,
			IntervalMinutes: defaultMigrationIntervalMinutes,
		},
		Sync: SyncConfig{
			TickSeconds: defaultSyncTickSeconds,
			BatchSize:   defaultSyncBatchSize,
			MaxAttempts: defaultSyncMaxAttempts,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
	}
}
