// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package counters implements the CounterProducer: selecting and grouping
// counter definitions applicable to an incoming fact, and assembling the
// query specs the storage layer executes (spec §4.4).
package counters

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/condition"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// QuerySpec is one grouped aggregation request: every counter in Counters
// shares the same time-window/row-cap bucket and runs as a single scan over
// the index (spec §9: grouping is an optimization, not a semantic change).
type QuerySpec struct {
	QueryID             int64
	IndexType           int
	IndexName           string
	HashValues          []string
	ExcludedFactID      string
	FromTimeMs          int64
	ToTimeMs            int64
	MaxEvaluatedRecords int
	MaxMatchingRecords  int
	Counters            []models.CounterDefinition
}

// Producer builds the QuerySpecs applicable to one incoming fact.
type Producer struct {
	byIndexType   map[int][]models.CounterDefinition
	indexTypeName map[string]int
	allowedNames  map[string]struct{} // nil means "all counters allowed"
	evaluator     *condition.Evaluator
	nextQueryID   atomic.Int64
}

// New validates the counter configuration against the index configuration
// and builds a Producer.
func New(counterCfg models.CounterConfig, indexCfg models.IndexConfig, allowedCounterNames []string) (*Producer, error) {
	indexTypeName := make(map[string]int, len(indexCfg.Fields))
	for _, f := range indexCfg.Fields {
		indexTypeName[f.IndexTypeName] = f.IndexType
	}

	byIndexType := make(map[int][]models.CounterDefinition)
	seenNames := make(map[string]struct{})
	for _, c := range counterCfg.Counters {
		if c.Name == "" {
			return nil, apperrors.NewConfigError("counters: counter definition missing name")
		}
		if _, dup := seenNames[c.Name]; dup {
			return nil, apperrors.NewConfigError("counters: duplicate counter name %q", c.Name)
		}
		seenNames[c.Name] = struct{}{}

		it, ok := indexTypeName[c.IndexTypeName]
		if !ok {
			return nil, apperrors.NewConfigError("counters: counter %q references unknown indexTypeName %q", c.Name, c.IndexTypeName)
		}
		byIndexType[it] = append(byIndexType[it], c)
	}

	var allowed map[string]struct{}
	if len(allowedCounterNames) > 0 {
		allowed = make(map[string]struct{}, len(allowedCounterNames))
		for _, n := range allowedCounterNames {
			allowed[n] = struct{}{}
		}
	}

	return &Producer{
		byIndexType:   byIndexType,
		indexTypeName: indexTypeName,
		allowedNames:  allowed,
		evaluator:     condition.New(),
	}, nil
}

// PipelinesFor implements pipelinesFor(fact, hashValues) -> QuerySpec[].
func (p *Producer) PipelinesFor(fact *models.Fact, hashValues models.HashValuesByIndexType) []QuerySpec {
	var specs []QuerySpec

	for indexType, hashes := range hashValues {
		defs, ok := p.byIndexType[indexType]
		if !ok {
			continue
		}

		var applicable []models.CounterDefinition
		for _, def := range defs {
			if p.allowedNames != nil {
				if _, ok := p.allowedNames[def.Name]; !ok {
					continue
				}
			}
			if def.ComputationConditions != nil && !p.evaluator.Matches(fact.Data, def.ComputationConditions) {
				continue
			}
			applicable = append(applicable, def)
		}
		if len(applicable) == 0 {
			continue
		}

		for _, group := range groupByBucket(applicable) {
			specs = append(specs, QuerySpec{
				QueryID:             p.nextQueryID.Add(1),
				IndexType:           indexType,
				IndexName:           indexNameFor(p.indexTypeName, indexType),
				HashValues:          hashes,
				ExcludedFactID:      fact.ID,
				FromTimeMs:          group.fromTimeMs,
				ToTimeMs:            group.toTimeMs,
				MaxEvaluatedRecords: group.maxEvaluatedRecords,
				MaxMatchingRecords:  group.maxMatchingRecords,
				Counters:            group.counters,
			})
		}
	}

	return specs
}

type bucket struct {
	fromTimeMs          int64
	toTimeMs            int64
	maxEvaluatedRecords int
	maxMatchingRecords  int
	counters            []models.CounterDefinition
}

// groupByBucket is the pure function [CounterDef] -> [Group{window, caps,
// counters[]}] called out in the design notes (spec §9): counters over an
// identical time-window/row-cap bucket share one aggregation.
func groupByBucket(defs []models.CounterDefinition) []bucket {
	index := make(map[string]int)
	var buckets []bucket
	for _, d := range defs {
		key := fmt.Sprintf("%d|%d|%d|%d", d.FromTimeMs, d.ToTimeMs, d.MaxEvaluatedRecords, d.MaxMatchingRecords)
		if i, ok := index[key]; ok {
			buckets[i].counters = append(buckets[i].counters, d)
			continue
		}
		index[key] = len(buckets)
		buckets = append(buckets, bucket{
			fromTimeMs:          d.FromTimeMs,
			toTimeMs:            d.ToTimeMs,
			maxEvaluatedRecords: d.MaxEvaluatedRecords,
			maxMatchingRecords:  d.MaxMatchingRecords,
			counters:            []models.CounterDefinition{d},
		})
	}
	// stable, deterministic order for tests and logs.
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].counters[0].Name < buckets[j].counters[0].Name
	})
	return buckets
}

func indexNameFor(indexTypeName map[string]int, indexType int) string {
	for name, it := range indexTypeName {
		if it == indexType {
			return name
		}
	}
	return ""
}
