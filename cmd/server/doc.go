// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package main is the entry point for the counters engine server application.

The counters engine ingests fact-bearing messages over HTTP (JSON or IRIS
XML), projects them into facts via a configurable field mapping, indexes
each fact for relevance lookup, and evaluates a configurable set of counters
(sum/count/average-style aggregates) over the facts relevant to the incoming
one.

# Application Architecture

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and an optional config file
 2. Logging: zerolog with JSON/console output modes
 3. Domain configuration: message/index/counter JSON documents loaded from
    MESSAGE_CONFIG_PATH, INDEX_CONFIG_PATH, COUNTER_CONFIG_PATH
 4. FactMapper, FactIndexer, CounterProducer: built from the domain configuration
 5. QueryDispatcher: bounded worker pool multiplexing counter queries
 6. StorageLayer: document database connection and schema/index setup
 7. IngestionPipeline: wires mapper, indexer, producer, storage and the
    DebugLogSampler together
 8. HTTP Server: chi router serving the ingestion/example/health endpoints

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	# Storage
	MONGODB_CONNECTION_STRING=mongodb://localhost:27017
	MONGODB_DATABASE_NAME=counters

	# Domain configuration documents
	MESSAGE_CONFIG_PATH=config/message.json
	INDEX_CONFIG_PATH=config/index.json
	COUNTER_CONFIG_PATH=config/counter.json
	ALLOWED_MESSAGE_TYPES=1,2,3
	FACT_TARGET_SIZE=1024

	# Query dispatcher
	DISPATCHER_WORKERS=8
	DISPATCHER_QUERY_TIMEOUT=5s
	DISPATCHER_WORKER_ACQUIRE_TIMEOUT=2s

	# Debug log sampler
	LOG_SAVE_FREQUENCY=1000

	# HTTP server
	WEB_PORT=8080
	WEB_HOST=0.0.0.0

	# Logging
	LOG_LEVEL=info
	LOG_FORMAT=json

See internal/config for the complete environment variable reference.

# External Interface

	POST /api/v1/message/iris        - ingest one IRIS XML message
	POST /api/v1/message/{t}/json    - ingest one JSON message of type t
	GET  /api/v1/message/{t}/{format} - a synthetic example message (json|iris)
	GET  /health                     - liveness/readiness probe
	GET  /metrics                    - Prometheus metrics

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. Stops accepting new HTTP connections
 2. Waits for in-flight requests to complete (10s timeout)
 3. Closes the storage layer connection

# Usage Examples

	export MONGODB_CONNECTION_STRING=mongodb://localhost:27017
	export MESSAGE_CONFIG_PATH=config/message.json
	export INDEX_CONFIG_PATH=config/index.json
	export COUNTER_CONFIG_PATH=config/counter.json
	./counters-engine

Docker:

	docker run -d \
	  -e MONGODB_CONNECTION_STRING=mongodb://mongo:27017 \
	  -v $(pwd)/config:/etc/counters/domain \
	  -p 8080:8080 \
	  ghcr.io/sgaydamakov/counters-engine

# See Also

  - internal/config: Configuration management
  - internal/pipeline: IngestionPipeline orchestration
  - internal/api: HTTP handlers and routing
  - internal/storage: document database persistence
*/
package main
