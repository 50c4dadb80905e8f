// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from environment variables and,
// optionally, a YAML config file.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: override any setting via environment variables
//
// Configuration Categories:
//
//  1. Persistence:
//     - Mongo: connection string, database name, collection names, sharding switch
//
//  2. Domain configuration files:
//     - Domain: paths to the JSON documents that drive FactMapper, FactIndexer
//       and CounterProducer
//
//  3. Engine:
//     - Dispatcher: worker pool sizing and per-query timeouts
//     - LogSampler: worst-request sampling frequency
//
//  4. HTTP & observability:
//     - Server: listen port/host
//     - Logging: log level/format
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := storage.New(ctx, cfg.Mongo, storage.Dependencies{Dispatcher: queryDispatcher})
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from multiple goroutines.
type Config struct {
	Mongo      MongoConfig      `koanf:"mongo"`
	Domain     DomainConfig     `koanf:"domain"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	LogSampler LogSamplerConfig `koanf:"log_sampler"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// MongoConfig holds document-database connection settings.
//
// Environment Variables:
//   - MONGODB_CONNECTION_STRING: connection URI (default: mongodb://localhost:27017)
//   - MONGODB_DATABASE_NAME: database to use (default: counters)
//   - INCLUDE_FACT_DATA_TO_INDEX: embed fact payload into index entries, avoiding
//     a $lookup join during counter evaluation (default: false)
//   - MONGODB_SHARDING_ENABLED: declare shard keys on facts/factIndex at startup (default: false)
type MongoConfig struct {
	ConnectionString       string        `koanf:"connection_string"`
	DatabaseName           string        `koanf:"database_name"`
	FactsCollection        string        `koanf:"facts_collection"`
	IndexCollection        string        `koanf:"index_collection"`
	LogCollection          string        `koanf:"log_collection"`
	IncludeFactDataToIndex bool          `koanf:"include_fact_data_to_index"`
	ShardingEnabled        bool          `koanf:"sharding_enabled"`
	ConnectTimeout         time.Duration `koanf:"connect_timeout"`
	OperationTimeout       time.Duration `koanf:"operation_timeout"`
	MinPoolSize            uint64        `koanf:"min_pool_size"`
	MaxPoolSize            uint64        `koanf:"max_pool_size"`
}

// DomainConfig locates the JSON documents that describe message mapping, indexing
// and counter definitions.
//
// Environment Variables:
//   - MESSAGE_CONFIG_PATH, INDEX_CONFIG_PATH, COUNTER_CONFIG_PATH
//   - ALLOWED_MESSAGE_TYPES: optional comma-separated whitelist of message types
//   - FACT_TARGET_SIZE: target bytes per generated example fact (GET .../json|iris)
type DomainConfig struct {
	MessageConfigPath   string   `koanf:"message_config_path"`
	IndexConfigPath     string   `koanf:"index_config_path"`
	CounterConfigPath   string   `koanf:"counter_config_path"`
	AllowedMessageTypes []int    `koanf:"allowed_message_types"`
	FactTargetSizeBytes int      `koanf:"fact_target_size_bytes"`
	AllowedCounterNames []string `koanf:"allowed_counter_names"`
}

// DispatcherConfig sizes the worker pool that multiplexes counter queries across a
// bounded set of database connections.
//
// Environment Variables:
//   - DISPATCHER_WORKERS: number of worker goroutines (default: 8)
//   - DISPATCHER_QUERY_TIMEOUT: per-query timeout (default: 5s)
//   - DISPATCHER_WORKER_ACQUIRE_TIMEOUT: time to wait for a free worker before
//     failing the submission with NoAvailableWorkersError (default: 2s)
//   - DISPATCHER_REQUEST_CONCURRENCY: loaded into RequestConcurrency (default: 16);
//     no component reads this value, so it does not cap the queries awaited
//     in parallel per request
type DispatcherConfig struct {
	Workers              int           `koanf:"workers"`
	QueryTimeout         time.Duration `koanf:"query_timeout"`
	WorkerAcquireTimeout time.Duration `koanf:"worker_acquire_timeout"`
	RequestConcurrency   int           `koanf:"request_concurrency"`
}

// LogSamplerConfig controls the DebugLogSampler's worst-of-window retention.
//
// Environment Variables:
//   - LOG_SAVE_FREQUENCY: number of requests per retained sample (default: 1000)
type LogSamplerConfig struct {
	SaveFrequency int `koanf:"save_frequency"`
}

// ServerConfig holds HTTP listener settings.
//
// Environment Variables:
//   - WEB_PORT: listen port (default: 8080)
//   - CLUSTER_WORKERS: loaded into ClusterWorkers (default: 1); cmd/server
//     does not read this value and always runs a single process;
//     orthogonal to DispatcherConfig.Workers
type ServerConfig struct {
	Port           int           `koanf:"port"`
	Host           string        `koanf:"host"`
	ClusterWorkers int           `koanf:"cluster_workers"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
}

// LoggingConfig holds zerolog settings.
//
// Environment Variables:
//   - LOG_LEVEL: DEBUG|INFO|WARN|ERROR (default: INFO)
//   - LOG_FORMAT: json|console (default: json)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks required fields and value ranges, returning an error describing
// the first problem found. Failures here are fatal at startup; they are
// returned as plain errors, not as apperrors.ConfigError.
func (c *Config) Validate() error {
	if c.Mongo.ConnectionString == "" {
		return fmt.Errorf("config: MONGODB_CONNECTION_STRING is required")
	}
	if c.Mongo.DatabaseName == "" {
		return fmt.Errorf("config: MONGODB_DATABASE_NAME is required")
	}
	if c.Domain.MessageConfigPath == "" || c.Domain.IndexConfigPath == "" || c.Domain.CounterConfigPath == "" {
		return fmt.Errorf("config: MESSAGE_CONFIG_PATH, INDEX_CONFIG_PATH and COUNTER_CONFIG_PATH are required")
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("config: dispatcher.workers must be > 0, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.QueryTimeout <= 0 {
		return fmt.Errorf("config: dispatcher.query_timeout must be > 0")
	}
	if c.LogSampler.SaveFrequency <= 0 {
		return fmt.Errorf("config: log_sampler.save_frequency must be > 0, got %d", c.LogSampler.SaveFrequency)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of DEBUG|INFO|WARN|ERROR, got %q", c.Logging.Level)
	}
	return nil
}
