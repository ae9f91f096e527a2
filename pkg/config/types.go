package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as
// config.toml in the .engram/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version" mapstructure:"version"`
	Storage     StorageConfig     `toml:"storage" mapstructure:"storage"`
	API         APIConfig         `toml:"api" mapstructure:"api"`
	VectorStore VectorStoreConfig `toml:"vector_store" mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding" mapstructure:"embedding"`
	Memory      MemoryConfig      `toml:"memory" mapstructure:"memory"`
	Search      SearchConfig      `toml:"search" mapstructure:"search"`
	Migration   MigrationConfig   `toml:"migration" mapstructure:"migration"`
	Sync        SyncConfig        `toml:"sync" mapstructure:"sync"`
	Events      EventsConfig      `toml:"events" mapstructure:"events"`
	Client      ClientConfig      `toml:"client" mapstructure:"client"`
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	// Provider is one of "sqlite" or "postgres".
	Provider    string `toml:"provider,omitempty" mapstructure:"provider"`
	SQLitePath  string `toml:"sqlite_path,omitempty" mapstructure:"sqlite_path"`
	PostgresURL string `toml:"postgres_url,omitempty" mapstructure:"postgres_url"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty" mapstructure:"listen"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	// Provider is one of "sqlite" or "qdrant".
	Provider string `toml:"provider,omitempty" mapstructure:"provider"`

	// Target is the sqlite-vec database path or the qdrant host.
	Target string `toml:"target,omitempty" mapstructure:"target"`

	// QdrantPort is the qdrant gRPC port.
	QdrantPort int `toml:"qdrant_port,omitempty" mapstructure:"qdrant_port"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty" mapstructure:"provider"`
	Target     string `toml:"target,omitempty" mapstructure:"target"`
	Model      string `toml:"model,omitempty" mapstructure:"model"`
	Dimensions uint   `toml:"dimensions,omitempty" mapstructure:"dimensions"`
}

// MemoryConfig holds tiered store settings.
type MemoryConfig struct {
	ImportanceThreshold float64 `toml:"importance_threshold,omitempty" mapstructure:"importance_threshold"`
}

// SearchConfig holds hybrid search settings.
type SearchConfig struct {
	ExactWeight     float64 `toml:"exact_weight,omitempty" mapstructure:"exact_weight"`
	SignalTimeoutMS int     `toml:"signal_timeout_ms,omitempty" mapstructure:"signal_timeout_ms"`
}

// MigrationConfig holds migration scheduler settings. Zero values for the
// batch and age fields fall back to the scheduler defaults.
type MigrationConfig struct {
	Enabled         bool `toml:"enabled,omitempty" mapstructure:"enabled"`
	IntervalMinutes int  `toml:"interval_minutes,omitempty" mapstructure:"interval_minutes"`
	Consolidate     bool `toml:"consolidate,omitempty" mapstructure:"consolidate"`

	// BatchSize and BatchWorkers tune how migrations are applied.
	BatchSize    int `toml:"batch_size,omitempty" mapstructure:"batch_size"`
	BatchWorkers int `toml:"batch_workers,omitempty" mapstructure:"batch_workers"`

	// WorkingMinAgeHours and SessionMinAgeHours override the idle age
	// after which records leave their tier.
	WorkingMinAgeHours int `toml:"working_min_age_hours,omitempty" mapstructure:"working_min_age_hours"`
	SessionMinAgeHours int `toml:"session_min_age_hours,omitempty" mapstructure:"session_min_age_hours"`
}

// SyncConfig holds dual-write synchronizer settings.
type SyncConfig struct {
	TickSeconds int `toml:"tick_seconds,omitempty" mapstructure:"tick_seconds"`
	BatchSize   int `toml:"batch_size,omitempty" mapstructure:"batch_size"`
	MaxAttempts int `toml:"max_attempts,omitempty" mapstructure:"max_attempts"`
}

// EventsConfig holds lifecycle event publishing settings.
type EventsConfig struct {
	// Provider is "nop" or "kafka".
	Provider string `toml:"provider,omitempty" mapstructure:"provider"`
	Brokers  string `toml:"brokers,omitempty" mapstructure:"brokers"`
	Topic    string `toml:"topic,omitempty" mapstructure:"topic"`
}

// ClientConfig holds settings for CLI commands that talk to a running server.
type ClientConfig struct {
	// APITarget is the base URL of the engram API server.
	APITarget string `toml:"api_target,omitempty" mapstructure:"api_target"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider": {
		get: func(c *Config) string { return c.Storage.Provider },
		set: func(c *Config, v string) error { c.Storage.Provider = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_url": {
		get: func(c *Config) string { return c.Storage.PostgresURL },
		set: func(c *Config, v string) error { c.Storage.PostgresURL = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.target": {
		get: func(c *Config) string { return c.VectorStore.Target },
		set: func(c *Config, v string) error { c.VectorStore.Target = v; return nil },
	},
	"vector_store.qdrant_port": {
		get: func(c *Config) string { return strconv.Itoa(c.VectorStore.QdrantPort) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for vector_store.qdrant_port: %w", err)
			}
			c.VectorStore.QdrantPort = n
			return nil
		},
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"memory.importance_threshold": {
		get: func(c *Config) string {
			return strconv.FormatFloat(c.Memory.ImportanceThreshold, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for memory.importance_threshold: %w", err)
			}
			c.Memory.ImportanceThreshold = f
			return nil
		},
	},
	"search.exact_weight": {
		get: func(c *Config) string {
			return strconv.FormatFloat(c.Search.ExactWeight, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for search.exact_weight: %w", err)
			}
			c.Search.ExactWeight = f
			return nil
		},
	},
	"search.signal_timeout_ms": {
		get: func(c *Config) string { return strconv.Itoa(c.Search.SignalTimeoutMS) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for search.signal_timeout_ms: %w", err)
			}
			c.Search.SignalTimeoutMS = n
			return nil
		},
	},
	"migration.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Migration.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for migration.enabled: %w", err)
			}
			c.Migration.Enabled = b
			return nil
		},
	},
	"migration.interval_minutes": {
		get: func(c *Config) string { return strconv.Itoa(c.Migration.IntervalMinutes) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for migration.interval_minutes: %w", err)
			}
			c.Migration.IntervalMinutes = n
			return nil
		},
	},
	"migration.consolidate": {
		get: func(c *Config) string { return strconv.FormatBool(c.Migration.Consolidate) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for migration.consolidate: %w", err)
			}
			c.Migration.Consolidate = b
			return nil
		},
	},
	"migration.batch_size": {
		get: func(c *Config) string { return strconv.Itoa(c.Migration.BatchSize) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for migration.batch_size: %w", err)
			}
			c.Migration.BatchSize = n
			return nil
		},
	},
	"migration.batch_workers": {
		get: func(c *Config) string { return strconv.Itoa(c.Migration.BatchWorkers) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for migration.batch_workers: %w", err)
			}
			c.Migration.BatchWorkers = n
			return nil
		},
	},
	"migration.working_min_age_hours": {
		get: func(c *Config) string { return strconv.Itoa(c.Migration.WorkingMinAgeHours) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for migration.working_min_age_hours: %w", err)
			}
			c.Migration.WorkingMinAgeHours = n
			return nil
		},
	},
	"migration.session_min_age_hours": {
		get: func(c *Config) string { return strconv.Itoa(c.Migration.SessionMinAgeHours) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for migration.session_min_age_hours: %w", err)
			}
			c.Migration.SessionMinAgeHours = n
			return nil
		},
	},
	"sync.tick_seconds": {
		get: func(c *Config) string { return strconv.Itoa(c.Sync.TickSeconds) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for sync.tick_seconds: %w", err)
			}
			c.Sync.TickSeconds = n
			return nil
		},
	},
	"sync.batch_size": {
		get: func(c *Config) string { return strconv.Itoa(c.Sync.BatchSize) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for sync.batch_size: %w", err)
			}
			c.Sync.BatchSize = n
			return nil
		},
	},
	"sync.max_attempts": {
		get: func(c *Config) string { return strconv.Itoa(c.Sync.MaxAttempts) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for sync.max_attempts: %w", err)
			}
			c.Sync.MaxAttempts = n
			return nil
		},
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error { c.Events.Provider = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return c.Events.Brokers },
		set: func(c *Config, v string) error { c.Events.Brokers = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
}
