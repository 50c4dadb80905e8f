// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package counters

import (
	"testing"

	"github.com/sgaydamakov/counters-engine/internal/models"
)

func testIndexConfig() models.IndexConfig {
	return models.IndexConfig{Fields: []models.IndexFieldConfig{
		{FieldName: "d.accountId", DateName: "d.createdAt", IndexTypeName: "account", IndexType: 1, IndexValueMode: models.IndexValueModeOpaque},
		{FieldName: "d.cardBin", DateName: "d.createdAt", IndexTypeName: "cardBin", IndexType: 2, IndexValueMode: models.IndexValueModeTransparent},
	}}
}

func testCounterConfig() models.CounterConfig {
	return models.CounterConfig{Counters: []models.CounterDefinition{
		{Name: "txCount1h", IndexTypeName: "account", FromTimeMs: 3600_000, Attributes: map[string]interface{}{"count": map[string]interface{}{"$sum": 1}}},
		{Name: "txSum1h", IndexTypeName: "account", FromTimeMs: 3600_000, Attributes: map[string]interface{}{"total": map[string]interface{}{"$sum": "$d.amount"}}},
		{Name: "txCount24h", IndexTypeName: "account", FromTimeMs: 86400_000, Attributes: map[string]interface{}{"count": map[string]interface{}{"$sum": 1}}},
		{Name: "binCount", IndexTypeName: "cardBin", Attributes: map[string]interface{}{"count": map[string]interface{}{"$sum": 1}}},
		{
			Name: "highValueCount", IndexTypeName: "account", FromTimeMs: 3600_000,
			ComputationConditions: models.Condition{"d.amount": map[string]interface{}{"$gt": 1000.0}},
			Attributes:            map[string]interface{}{"count": map[string]interface{}{"$sum": 1}},
		},
	}}
}

func testFact() *models.Fact {
	return &models.Fact{
		ID:   "f-1",
		Type: 1,
		Data: map[string]interface{}{"d": map[string]interface{}{"amount": 50.0}},
	}
}

func TestNew_RejectsUnknownIndexTypeName(t *testing.T) {
	cfg := models.CounterConfig{Counters: []models.CounterDefinition{{Name: "x", IndexTypeName: "nope"}}}
	if _, err := New(cfg, testIndexConfig(), nil); err == nil {
		t.Fatal("expected ConfigError for unknown indexTypeName")
	}
}

func TestNew_RejectsDuplicateName(t *testing.T) {
	cfg := models.CounterConfig{Counters: []models.CounterDefinition{
		{Name: "dup", IndexTypeName: "account"},
		{Name: "dup", IndexTypeName: "cardBin"},
	}}
	if _, err := New(cfg, testIndexConfig(), nil); err == nil {
		t.Fatal("expected ConfigError for duplicate counter name")
	}
}

func TestPipelinesFor_GroupsSharedBucket(t *testing.T) {
	p, err := New(testCounterConfig(), testIndexConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hashValues := models.HashValuesByIndexType{1: {"h1", "h2"}}
	specs := p.PipelinesFor(testFact(), hashValues)

	var total int
	for _, s := range specs {
		total += len(s.Counters)
	}
	if total != 3 {
		t.Fatalf("expected 3 applicable account counters (highValueCount excluded), got %d across %d specs", total, len(specs))
	}

	foundSharedBucket := false
	for _, s := range specs {
		if len(s.Counters) == 2 {
			foundSharedBucket = true
			names := map[string]bool{}
			for _, c := range s.Counters {
				names[c.Name] = true
			}
			if !names["txCount1h"] || !names["txSum1h"] {
				t.Errorf("expected txCount1h and txSum1h to share a bucket, got %v", names)
			}
		}
	}
	if !foundSharedBucket {
		t.Error("expected txCount1h and txSum1h to be grouped into one QuerySpec")
	}
}

func TestPipelinesFor_FiltersByComputationConditions(t *testing.T) {
	p, err := New(testCounterConfig(), testIndexConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hashValues := models.HashValuesByIndexType{1: {"h1"}}
	specs := p.PipelinesFor(testFact(), hashValues)
	for _, s := range specs {
		for _, c := range s.Counters {
			if c.Name == "highValueCount" {
				t.Error("highValueCount should be filtered out for a fact with amount=50")
			}
		}
	}
}

func TestPipelinesFor_ComputationConditionsMatch(t *testing.T) {
	p, err := New(testCounterConfig(), testIndexConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	fact := testFact()
	fact.Data["d"].(map[string]interface{})["amount"] = 5000.0

	hashValues := models.HashValuesByIndexType{1: {"h1"}}
	specs := p.PipelinesFor(fact, hashValues)
	found := false
	for _, s := range specs {
		for _, c := range s.Counters {
			if c.Name == "highValueCount" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected highValueCount to apply for a fact with amount=5000")
	}
}

func TestPipelinesFor_AllowedCounterNames(t *testing.T) {
	p, err := New(testCounterConfig(), testIndexConfig(), []string{"txCount1h"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hashValues := models.HashValuesByIndexType{1: {"h1"}}
	specs := p.PipelinesFor(testFact(), hashValues)
	var names []string
	for _, s := range specs {
		for _, c := range s.Counters {
			names = append(names, c.Name)
		}
	}
	if len(names) != 1 || names[0] != "txCount1h" {
		t.Errorf("expected only txCount1h, got %v", names)
	}
}

func TestPipelinesFor_SkipsIndexTypeWithNoCounters(t *testing.T) {
	p, err := New(testCounterConfig(), testIndexConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	hashValues := models.HashValuesByIndexType{99: {"hx"}}
	specs := p.PipelinesFor(testFact(), hashValues)
	if len(specs) != 0 {
		t.Errorf("expected no specs for unconfigured indexType, got %d", len(specs))
	}
}

func TestPipelinesFor_QueryIDsAreUniqueAndMonotonic(t *testing.T) {
	p, err := New(testCounterConfig(), testIndexConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	hashValues := models.HashValuesByIndexType{1: {"h1"}, 2: {"h2"}}

	seen := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		for _, s := range p.PipelinesFor(testFact(), hashValues) {
			if seen[s.QueryID] {
				t.Fatalf("duplicate queryId %d", s.QueryID)
			}
			seen[s.QueryID] = true
		}
	}
}
