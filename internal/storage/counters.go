// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/condition"
	"github.com/sgaydamakov/counters-engine/internal/counters"
	"github.com/sgaydamakov/counters-engine/internal/metrics"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// GetRelevantFactCounters implements getRelevantFactCounters(fact,
// hashValuesByIndexType, producer) -> {name -> attributeMap} (spec §4.5):
// dispatches every QuerySpec from the CounterProducer through the
// QueryDispatcher, merges results by counter name, and applies
// evaluationConditions in-process for counters that carry them.
func (s *Storage) GetRelevantFactCounters(ctx context.Context, producer *counters.Producer, fact *models.Fact, hashValues models.HashValuesByIndexType) (map[string]models.AttributeMap, models.MetricsInfo, error) {
	specs := producer.PipelinesFor(fact, hashValues)
	out := make(map[string]models.AttributeMap)
	var info models.MetricsInfo
	info.EvaluatedCount = len(specs)

	type specResult struct {
		spec   counters.QuerySpec
		values map[string]models.AttributeMap
		err    error
	}
	resultCh := make(chan specResult, len(specs))

	for _, spec := range specs {
		spec := spec
		go func() {
			raw, err := s.dispatcher.Submit(ctx, spec.QueryID, func(ctx context.Context) (interface{}, error) {
				return s.runCounterAggregation(ctx, spec)
			})
			if err != nil {
				resultCh <- specResult{spec: spec, err: err}
				return
			}
			resultCh <- specResult{spec: spec, values: raw.(map[string]models.AttributeMap)}
		}()
	}

	ev := condition.New()
	for range specs {
		r := <-resultCh
		if r.err != nil {
			switch {
			case errors.Is(r.err, apperrors.ErrNoAvailableWorkers):
				info.DegradedCount++
				info.Warnings = append(info.Warnings, "counter group skipped: no available workers")
			default:
				var te *apperrors.TimeoutError
				if errors.As(r.err, &te) {
					info.TimedOutCount++
					info.Warnings = append(info.Warnings, fmt.Sprintf("counter group timed out: %s", te.Error()))
				} else {
					info.Warnings = append(info.Warnings, fmt.Sprintf("counter group failed: %v", r.err))
				}
			}
			continue
		}
		for _, c := range r.spec.Counters {
			attrs, ok := r.values[c.Name]
			if !ok {
				continue
			}
			if c.EvaluationConditions != nil {
				evalStart := time.Now()
				matched := ev.Matches(attrs, c.EvaluationConditions)
				metrics.ConditionEvalDuration.Observe(time.Since(evalStart).Seconds())
				if !matched {
					continue
				}
			}
			out[c.Name] = attrs
		}
	}

	return out, info, nil
}

// runCounterAggregation assembles and runs the aggregation pipeline for one
// QuerySpec (spec §4.4): $match on index keys and time window -> optional
// $limit maxEvaluatedRecords -> $lookup/$unwind/$replaceRoot of the owning
// fact unless fact data is embedded in the index -> optional $limit
// maxMatchingRecords -> $facet branch per counter (its computationConditions
// $match, then $group).
func (s *Storage) runCounterAggregation(ctx context.Context, spec counters.QuerySpec) (map[string]models.AttributeMap, error) {
	match := bson.D{
		{Key: "_id.h", Value: bson.M{"$in": spec.HashValues}},
		{Key: "_id.f", Value: bson.M{"$ne": spec.ExcludedFactID}},
	}
	if spec.FromTimeMs > 0 || spec.ToTimeMs > 0 {
		dt := bson.M{}
		if spec.FromTimeMs > 0 {
			dt["$gte"] = time.Now().Add(-time.Duration(spec.FromTimeMs) * time.Millisecond)
		}
		if spec.ToTimeMs > 0 {
			dt["$lt"] = time.Now().Add(-time.Duration(spec.ToTimeMs) * time.Millisecond)
		}
		match = append(match, bson.E{Key: "dt", Value: dt})
	}

	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: match}}}

	maxEvaluated := 0
	maxMatching := 0
	for _, c := range spec.Counters {
		if c.MaxEvaluatedRecords > maxEvaluated {
			maxEvaluated = c.MaxEvaluatedRecords
		}
		if c.MaxMatchingRecords > maxMatching {
			maxMatching = c.MaxMatchingRecords
		}
	}
	if maxEvaluated > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: maxEvaluated}})
	}

	if !s.cfg.IncludeFactDataToIndex {
		pipeline = append(pipeline,
			bson.D{{Key: "$lookup", Value: bson.M{"from": s.facts.Name(), "localField": "_id.f", "foreignField": "_id", "as": "fact"}}},
			bson.D{{Key: "$unwind", Value: "$fact"}},
			bson.D{{Key: "$replaceRoot", Value: bson.M{"newRoot": bson.M{"$mergeObjects": bson.A{"$fact", bson.M{"d": "$fact.d"}}}}}},
		)
	}
	if maxMatching > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: maxMatching}})
	}

	facet := bson.M{}
	for _, c := range spec.Counters {
		facet[c.Name] = facetBranch(c)
	}
	pipeline = append(pipeline, bson.D{{Key: "$facet", Value: facet}})

	start := time.Now()
	cur, err := s.index.Aggregate(ctx, pipeline)
	metrics.RecordStorageOperation("counterAggregation", s.index.Name(), time.Since(start), errClass(err))
	if err != nil {
		return nil, classifyPersistenceError("counterAggregation", err)
	}
	defer cur.Close(ctx)

	var raw bson.M
	if cur.Next(ctx) {
		if err := cur.Decode(&raw); err != nil {
			return nil, apperrors.NewInternalError("storage: decode facet result", err)
		}
	}

	out := make(map[string]models.AttributeMap, len(spec.Counters))
	for _, c := range spec.Counters {
		branch, _ := raw[c.Name].(bson.A)
		attrs := models.AttributeMap{}
		if len(branch) > 0 {
			if doc, ok := branch[0].(bson.M); ok {
				for k, v := range doc {
					if k == "_id" {
						continue
					}
					attrs[k] = v
				}
			}
		}
		out[c.Name] = attrs
	}
	return out, nil
}

// facetBranch builds one counter's $facet sub-pipeline: optional push-down
// computationConditions re-check plus a single $group stage computing its
// configured attributes.
func facetBranch(c models.CounterDefinition) mongo.Pipeline {
	var branch mongo.Pipeline
	if c.ComputationConditions != nil {
		branch = append(branch, bson.D{{Key: "$match", Value: bson.M(c.ComputationConditions)}})
	}
	group := bson.M{"_id": nil}
	for attr, expr := range c.Attributes {
		group[attr] = expr
	}
	branch = append(branch, bson.D{{Key: "$group", Value: group}})
	return branch
}
