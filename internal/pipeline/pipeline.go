// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline implements the IngestionPipeline: orchestrates
// FactMapper -> FactIndexer -> StorageLayer -> CounterProducer/QueryDispatcher
// for one incoming message and assembles the IngestionResult (spec §4.7).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/counters"
	"github.com/sgaydamakov/counters-engine/internal/indexer"
	"github.com/sgaydamakov/counters-engine/internal/logging"
	"github.com/sgaydamakov/counters-engine/internal/logsampler"
	"github.com/sgaydamakov/counters-engine/internal/mapper"
	"github.com/sgaydamakov/counters-engine/internal/metrics"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// Storage is the subset of the storage layer the pipeline depends on.
type Storage interface {
	SaveFact(ctx context.Context, fact *models.Fact) (models.SaveResult, error)
	SaveFactIndexList(ctx context.Context, entries []models.IndexEntry) (int, error)
	GetRelevantFactCounters(ctx context.Context, producer *counters.Producer, fact *models.Fact, hashValues models.HashValuesByIndexType) (map[string]models.AttributeMap, models.MetricsInfo, error)
	GetRelevantFacts(ctx context.Context, hashValues models.HashValuesByIndexType, excludedFactID string, depthLimit int, depthFromDate *time.Time) ([]*models.Fact, error)
	SaveLog(ctx context.Context, record interface{})
}

// Config bounds the counter-evaluation window passed to GetRelevantFactCounters.
type Config struct {
	DepthLimit    int
	DepthFromDate *time.Time
}

// Pipeline wires together one request's worth of processing.
type Pipeline struct {
	mapper   *mapper.FactMapper
	indexer  *indexer.FactIndexer
	producer *counters.Producer
	storage  Storage
	sampler  *logsampler.Sampler
	logger   *logging.PipelineLogger
	cfg      Config
}

// New builds a Pipeline from its collaborators.
func New(m *mapper.FactMapper, ix *indexer.FactIndexer, p *counters.Producer, store Storage, sampler *logsampler.Sampler, cfg Config) *Pipeline {
	return &Pipeline{
		mapper:   m,
		indexer:  ix,
		producer: p,
		storage:  store,
		sampler:  sampler,
		logger:   logging.NewPipelineLogger(),
		cfg:      cfg,
	}
}

// Process implements the per-message flow of spec §4.7, steps 1-8.
func (p *Pipeline) Process(ctx context.Context, message map[string]interface{}) (*models.IngestionResult, error) {
	t0 := time.Now()

	fact, err := p.mapper.MapMessageToFact(message)
	if err != nil {
		p.logger.LogMappingFailed(ctx, intMessageType(message), err)
		return nil, err
	}
	metrics.RecordPipelineStage("map", time.Since(t0))

	indexStart := time.Now()
	entries := p.indexer.Index(fact)
	metrics.RecordPipelineStage("index", time.Since(indexStart))

	var saveFactMs, saveIndexMs int64
	var saveResult models.SaveResult
	var saveErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		saveResult, saveErr = p.saveFactWithRetry(ctx, fact)
		saveFactMs = time.Since(start).Milliseconds()
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		_, _ = p.storage.SaveFactIndexList(ctx, entries)
		saveIndexMs = time.Since(start).Milliseconds()
	}()
	wg.Wait()
	metrics.RecordPipelineStage("save_fact", time.Duration(saveFactMs)*time.Millisecond)
	metrics.RecordPipelineStage("save_index", time.Duration(saveIndexMs)*time.Millisecond)

	if saveErr != nil {
		return nil, saveErr
	}
	p.logger.LogFactPersisted(ctx, fact.ID, string(saveResult), saveFactMs)
	p.logger.LogIndexPersisted(ctx, fact.ID, len(entries), saveIndexMs)

	hashValues := p.indexer.GetHashValuesForSearch(entries)

	countersStart := time.Now()
	counterValues, info, err := p.storage.GetRelevantFactCounters(ctx, p.producer, fact, hashValues)
	metrics.RecordPipelineStage("counters", time.Since(countersStart))
	countersMs := time.Since(countersStart).Milliseconds()
	if err != nil {
		info.Warnings = append(info.Warnings, err.Error())
	}

	var debugInfo *models.DebugInfo
	if models.DebugRequested(ctx) {
		facts, err := p.storage.GetRelevantFacts(ctx, hashValues, fact.ID, p.cfg.DepthLimit, p.cfg.DepthFromDate)
		if err != nil {
			info.Warnings = append(info.Warnings, "relevant fact lookup failed: "+err.Error())
		} else {
			ids := make([]string, len(facts))
			for i, f := range facts {
				ids[i] = f.ID
			}
			debugInfo = &models.DebugInfo{RelevantFactIDs: ids, RelevantFactCount: len(ids)}
		}
	}

	total := time.Since(t0).Milliseconds()
	result := &models.IngestionResult{
		Fact:           fact,
		SaveFactResult: saveResult,
		Counters:       asAttributeMaps(counterValues),
		ProcessingTime: models.ProcessingTime{
			Total:     total,
			Counters:  countersMs,
			SaveFact:  saveFactMs,
			SaveIndex: saveIndexMs,
		},
		Metrics: info,
	}
	if debugInfo != nil {
		result.Debug = debugInfo
	}

	p.logger.LogRequestCompleted(ctx, fact.ID, total, len(result.Counters))
	metrics.RecordPipelineStage("total", time.Since(t0))
	metrics.RecordPipelineRequest(fact.Type, "ok")

	p.sampler.Observe(logsampler.Sample{
		Message:        message,
		Fact:           fact,
		ProcessingTime: result.ProcessingTime,
		Metrics:        info,
	}, func(s logsampler.Sample) {
		p.storage.SaveLog(context.Background(), s)
	})

	return result, nil
}

// saveFactWithRetry retries a transient persistence failure exactly once
// (spec §4.7 failure policy).
func (p *Pipeline) saveFactWithRetry(ctx context.Context, fact *models.Fact) (models.SaveResult, error) {
	result, err := p.storage.SaveFact(ctx, fact)
	if err == nil {
		return result, nil
	}
	if !apperrors.IsTransientPersistence(err) {
		return "", err
	}
	return p.storage.SaveFact(ctx, fact)
}

func asAttributeMaps(m map[string]models.AttributeMap) map[string]models.AttributeMap {
	if m == nil {
		return map[string]models.AttributeMap{}
	}
	return m
}

func intMessageType(message map[string]interface{}) int {
	raw, ok := message["t"]
	if !ok {
		return 0
	}
	switch n := raw.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
