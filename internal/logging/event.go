// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// PipelineLogger provides specialized logging for the ingestion pipeline.
// It carries domain-specific methods for the stages a message passes through:
// mapping, indexing, persistence, counter dispatch and log sampling.
type PipelineLogger struct {
	logger zerolog.Logger
}

// NewPipelineLogger creates a logger configured for pipeline events.
func NewPipelineLogger() *PipelineLogger {
	return &PipelineLogger{
		logger: With().Str("component", "pipeline").Logger(),
	}
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPipelineLoggerWithLogger(logger zerolog.Logger) *PipelineLogger {
	return &PipelineLogger{
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// WithFields returns a new PipelineLogger with additional default fields.
func (p *PipelineLogger) WithFields(fields map[string]interface{}) *PipelineLogger {
	ctx := p.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &PipelineLogger{logger: ctx.Logger()}
}

func (p *PipelineLogger) loggerWithContext(ctx context.Context) zerolog.Logger {
	logCtx := p.logger.With()
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}
	return logCtx.Logger()
}

// LogMessageReceived logs acceptance of an inbound message, before mapping.
func (p *PipelineLogger) LogMessageReceived(ctx context.Context, messageType int, source string) {
	p.loggerWithContext(ctx).Debug().
		Int("message_type", messageType).
		Str("source", source).
		Msg("message received")
}

// LogFactPersisted logs the outcome of saveFact.
func (p *PipelineLogger) LogFactPersisted(ctx context.Context, factID string, result string, durationMs int64) {
	p.loggerWithContext(ctx).Debug().
		Str("fact_id", factID).
		Str("result", result).
		Int64("duration_ms", durationMs).
		Msg("fact persisted")
}

// LogIndexPersisted logs the outcome of saveFactIndexList.
func (p *PipelineLogger) LogIndexPersisted(ctx context.Context, factID string, entryCount int, durationMs int64) {
	p.loggerWithContext(ctx).Debug().
		Str("fact_id", factID).
		Int("entry_count", entryCount).
		Int64("duration_ms", durationMs).
		Msg("index entries persisted")
}

// LogCounterEvaluated logs a single counter's completion.
func (p *PipelineLogger) LogCounterEvaluated(ctx context.Context, counterName string, queryID string, durationMs int64) {
	p.loggerWithContext(ctx).Debug().
		Str("counter", counterName).
		Str("query_id", queryID).
		Int64("duration_ms", durationMs).
		Msg("counter evaluated")
}

// LogCounterTimeout logs a query-level timeout. Never logged as "unknown query".
func (p *PipelineLogger) LogCounterTimeout(ctx context.Context, counterName string, queryID string) {
	p.loggerWithContext(ctx).Warn().
		Str("counter", counterName).
		Str("query_id", queryID).
		Msg("counter query timed out")
}

// LogWorkersExhausted logs a NoAvailableWorkersError degradation.
func (p *PipelineLogger) LogWorkersExhausted(ctx context.Context, pending int) {
	p.loggerWithContext(ctx).Warn().
		Int("pending", pending).
		Msg("no available workers, counters degraded")
}

// LogMappingFailed logs a FactMapper rejection.
func (p *PipelineLogger) LogMappingFailed(ctx context.Context, messageType int, err error) {
	p.loggerWithContext(ctx).Warn().
		Int("message_type", messageType).
		Err(err).
		Msg("message mapping failed")
}

// LogRequestCompleted logs a fully assembled IngestionResult.
func (p *PipelineLogger) LogRequestCompleted(ctx context.Context, factID string, totalMs int64, counterCount int) {
	p.loggerWithContext(ctx).Info().
		Str("fact_id", factID).
		Int64("total_ms", totalMs).
		Int("counter_count", counterCount).
		Msg("request completed")
}

// LogSampleRetained logs that the DebugLogSampler wrote a worst-of-window sample.
func (p *PipelineLogger) LogSampleRetained(factID string, windowSize int, worstTotalMs int64) {
	p.logger.Info().
		Str("fact_id", factID).
		Int("window_size", windowSize).
		Int64("worst_total_ms", worstTotalMs).
		Msg("debug log sample retained")
}
