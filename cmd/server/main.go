// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main is the entry point for the counters engine server application.
//
// The counters engine ingests fact-bearing messages (JSON or IRIS XML),
// indexes them for fast relevance lookup, and evaluates configured counters
// over the facts relevant to each incoming fact.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and an optional
//     config file (Koanf v2)
//  2. Logging: zerolog, configured per LoggingConfig
//  3. Domain configuration: load the message/index/counter JSON documents
//     that drive the FactMapper, FactIndexer and CounterProducer
//  4. QueryDispatcher: bounded worker pool for counter queries
//  5. StorageLayer: connect to the document database and ensure schema
//  6. IngestionPipeline: wire mapper, indexer, producer, storage and the
//     DebugLogSampler together
//  7. HTTP Server: chi router serving spec's external interface
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables
//   - Config file (config.yaml), if present
//   - Built-in defaults
//
// See internal/config for the full list of environment variables.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting new connections, waits for in-flight requests to complete, then
// closes the storage layer connection.
//
// # Example Usage
//
//	export MONGODB_CONNECTION_STRING=mongodb://localhost:27017
//	export MESSAGE_CONFIG_PATH=config/message.json
//	export INDEX_CONFIG_PATH=config/index.json
//	export COUNTER_CONFIG_PATH=config/counter.json
//	./counters-engine
//
// Docker:
//
//	docker run -d \
//	  -e MONGODB_CONNECTION_STRING=mongodb://mongo:27017 \
//	  -v $(pwd)/config:/etc/counters/domain \
//	  -p 8080:8080 \
//	  ghcr.io/sgaydamakov/counters-engine
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sgaydamakov/counters-engine/internal/api"
	"github.com/sgaydamakov/counters-engine/internal/config"
	"github.com/sgaydamakov/counters-engine/internal/counters"
	"github.com/sgaydamakov/counters-engine/internal/dispatcher"
	"github.com/sgaydamakov/counters-engine/internal/indexer"
	"github.com/sgaydamakov/counters-engine/internal/logging"
	"github.com/sgaydamakov/counters-engine/internal/logsampler"
	"github.com/sgaydamakov/counters-engine/internal/mapper"
	"github.com/sgaydamakov/counters-engine/internal/models"
	"github.com/sgaydamakov/counters-engine/internal/pipeline"
	"github.com/sgaydamakov/counters-engine/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting the counters engine")

	messageCfg, indexCfg, counterCfg, err := loadDomainConfig(cfg.Domain)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load domain configuration")
	}

	factMapper, err := mapper.New(messageCfg, cfg.Domain.AllowedMessageTypes)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build fact mapper")
	}
	factIndexer, err := indexer.New(indexCfg, cfg.Mongo.IncludeFactDataToIndex)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build fact indexer")
	}
	producer, err := counters.New(counterCfg, indexCfg, cfg.Domain.AllowedCounterNames)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build counter producer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queryDispatcher := dispatcher.New(dispatcher.Config{
		WorkerCount:          cfg.Dispatcher.Workers,
		QueryTimeout:         cfg.Dispatcher.QueryTimeout,
		WorkerAcquireTimeout: cfg.Dispatcher.WorkerAcquireTimeout,
	})

	store, err := storage.New(ctx, cfg.Mongo, storage.Dependencies{Dispatcher: queryDispatcher})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize storage layer")
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			logging.Error().Err(err).Msg("Error closing storage layer")
		}
	}()
	logging.Info().Str("database", cfg.Mongo.DatabaseName).Msg("Storage layer initialized")

	sampler := logsampler.New(cfg.LogSampler.SaveFrequency)

	ingestionPipeline := pipeline.New(factMapper, factIndexer, producer, store, sampler, pipeline.Config{})

	handler := api.NewHandler(ingestionPipeline, messageCfg.Fields, cfg.Domain.FactTargetSizeBytes)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serveErrCh:
		if err != nil {
			logging.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server did not shut down cleanly within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}

// loadDomainConfig reads the three JSON documents MESSAGE_CONFIG_PATH,
// INDEX_CONFIG_PATH and COUNTER_CONFIG_PATH point at.
func loadDomainConfig(cfg config.DomainConfig) (models.MessageMapperConfig, models.IndexConfig, models.CounterConfig, error) {
	var messageCfg models.MessageMapperConfig
	var indexCfg models.IndexConfig
	var counterCfg models.CounterConfig

	if err := readJSONFile(cfg.MessageConfigPath, &messageCfg); err != nil {
		return messageCfg, indexCfg, counterCfg, fmt.Errorf("message config: %w", err)
	}
	if err := readJSONFile(cfg.IndexConfigPath, &indexCfg); err != nil {
		return messageCfg, indexCfg, counterCfg, fmt.Errorf("index config: %w", err)
	}
	if err := readJSONFile(cfg.CounterConfigPath, &counterCfg); err != nil {
		return messageCfg, indexCfg, counterCfg, fmt.Errorf("counter config: %w", err)
	}
	return messageCfg, indexCfg, counterCfg, nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
