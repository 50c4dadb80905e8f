// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched, in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/counters/config.yaml",
	"/etc/counters/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with sensible defaults for everything optional.
func defaultConfig() *Config {
	return &Config{
		Mongo: MongoConfig{
			ConnectionString:       "mongodb://localhost:27017",
			DatabaseName:           "counters",
			FactsCollection:        "facts",
			IndexCollection:        "factIndex",
			LogCollection:          "log",
			IncludeFactDataToIndex: false,
			ShardingEnabled:        false,
			ConnectTimeout:         10 * time.Second,
			OperationTimeout:       10 * time.Second,
			MinPoolSize:            2,
			MaxPoolSize:            32,
		},
		Domain: DomainConfig{
			MessageConfigPath:   "config/message.json",
			IndexConfigPath:     "config/index.json",
			CounterConfigPath:   "config/counter.json",
			FactTargetSizeBytes: 1024,
		},
		Dispatcher: DispatcherConfig{
			Workers:              8,
			QueryTimeout:         5 * time.Second,
			WorkerAcquireTimeout: 2 * time.Second,
			RequestConcurrency:   16,
		},
		LogSampler: LogSamplerConfig{
			SaveFrequency: 1000,
		},
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			ClusterWorkers: 1,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (if present)
//  3. Environment Variables: override any setting (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are config paths that arrive as comma-separated strings from
// the environment but must be unmarshaled as slices.
var sliceConfigPaths = []string{
	"domain.allowed_message_types",
	"domain.allowed_counter_names",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if path == "domain.allowed_message_types" {
			ints := make([]int, 0, len(trimmed))
			for _, s := range trimmed {
				if n, err := strconv.Atoi(s); err == nil {
					ints = append(ints, n)
				}
			}
			if err := k.Set(path, ints); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps the flat environment variable names documented in the
// external interface onto the nested koanf config paths.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"mongodb_connection_string":  "mongo.connection_string",
		"mongodb_database_name":      "mongo.database_name",
		"mongodb_facts_collection":   "mongo.facts_collection",
		"mongodb_index_collection":   "mongo.index_collection",
		"mongodb_log_collection":     "mongo.log_collection",
		"include_fact_data_to_index": "mongo.include_fact_data_to_index",
		"mongodb_sharding_enabled":   "mongo.sharding_enabled",
		"mongodb_connect_timeout":    "mongo.connect_timeout",
		"mongodb_operation_timeout":  "mongo.operation_timeout",
		"mongodb_min_pool_size":      "mongo.min_pool_size",
		"mongodb_max_pool_size":      "mongo.max_pool_size",

		"message_config_path":   "domain.message_config_path",
		"index_config_path":     "domain.index_config_path",
		"counter_config_path":   "domain.counter_config_path",
		"allowed_message_types": "domain.allowed_message_types",
		"fact_target_size":      "domain.fact_target_size_bytes",
		"allowed_counter_names": "domain.allowed_counter_names",

		"dispatcher_workers":                "dispatcher.workers",
		"dispatcher_query_timeout":          "dispatcher.query_timeout",
		"dispatcher_worker_acquire_timeout": "dispatcher.worker_acquire_timeout",
		"dispatcher_request_concurrency":    "dispatcher.request_concurrency",

		"log_save_frequency": "log_sampler.save_frequency",

		"web_port":          "server.port",
		"web_host":          "server.host",
		"cluster_workers":   "server.cluster_workers",
		"web_read_timeout":  "server.read_timeout",
		"web_write_timeout": "server.write_timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// GetKoanfInstance returns a new Koanf instance for advanced usage (tests, tooling).
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}
