// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides centralized configuration management for the counters
engine. It loads, validates and defaults the environment variables and optional
YAML config file that drive every other package in this module.

# Configuration Sources

The package reads configuration, in increasing priority, from:
  - built-in defaults
  - an optional YAML config file (config.yaml, or CONFIG_PATH)
  - process environment variables

# Configuration Structure

  - MongoConfig: document-database connection, collection names, sharding switch
  - DomainConfig: paths to the message/index/counter JSON configuration files
  - DispatcherConfig: worker pool size, per-query and worker-acquire timeouts
  - LogSamplerConfig: worst-of-window debug log retention frequency
  - ServerConfig: HTTP listener and process-cluster size
  - LoggingConfig: zerolog level/format

# Usage Example

	cfg, err := config.Load()
	if err != nil {
	    log.Fatalf("failed to load config: %v", err)
	}
	fmt.Printf("listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)

# Thread Safety

Config is immutable after Load() returns and is safe for concurrent read access.
*/
package config
