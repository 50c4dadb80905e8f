// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package indexer

import (
	"testing"
	"time"

	"github.com/sgaydamakov/counters-engine/internal/models"
)

func testConfig() models.IndexConfig {
	return models.IndexConfig{
		Fields: []models.IndexFieldConfig{
			{FieldName: "d.accountId", DateName: "d.createdAt", IndexTypeName: "account", IndexType: 1, IndexValueMode: models.IndexValueModeOpaque},
			{FieldName: "d.cardBin", DateName: "d.createdAt", IndexTypeName: "cardBin", IndexType: 2, IndexValueMode: models.IndexValueModeTransparent},
		},
	}
}

func testFact() *models.Fact {
	return &models.Fact{
		ID:        "f-1",
		Type:      1,
		CreatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"d": map[string]interface{}{
				"accountId": "acc-9",
				"cardBin":   "411111",
				"createdAt": time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestNew_RejectsDuplicatePair(t *testing.T) {
	cfg := testConfig()
	cfg.Fields = append(cfg.Fields, models.IndexFieldConfig{
		FieldName: "d.accountId", DateName: "d.createdAt", IndexTypeName: "account", IndexType: 3, IndexValueMode: models.IndexValueModeOpaque,
	})
	if _, err := New(cfg, false); err == nil {
		t.Fatal("expected ConfigError for duplicate (fieldName, indexTypeName) pair")
	}
}

func TestNew_RejectsDuplicateIndexType(t *testing.T) {
	cfg := testConfig()
	cfg.Fields = append(cfg.Fields, models.IndexFieldConfig{
		FieldName: "d.other", DateName: "d.createdAt", IndexTypeName: "other", IndexType: 1, IndexValueMode: models.IndexValueModeOpaque,
	})
	if _, err := New(cfg, false); err == nil {
		t.Fatal("expected ConfigError for duplicate indexType")
	}
}

func TestNew_RejectsInvalidMode(t *testing.T) {
	cfg := models.IndexConfig{Fields: []models.IndexFieldConfig{
		{FieldName: "d.x", DateName: "d.createdAt", IndexTypeName: "x", IndexType: 5, IndexValueMode: 9},
	}}
	if _, err := New(cfg, false); err == nil {
		t.Fatal("expected ConfigError for invalid indexValueMode")
	}
}

func TestIndex_OpaqueAndTransparent(t *testing.T) {
	ix, err := New(testConfig(), false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entries := ix.Index(testFact())
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	var byType = make(map[int]models.IndexEntry)
	for _, e := range entries {
		byType[e.IndexType] = e
	}

	opaque := byType[1]
	if opaque.ID.H == "1:acc-9" {
		t.Error("opaque entry hash key should not be the plain concatenation")
	}
	if opaque.ID.F != "f-1" {
		t.Errorf("opaque entry F = %q, want f-1", opaque.ID.F)
	}

	transparent := byType[2]
	if transparent.ID.H != "2:411111" {
		t.Errorf("transparent entry hash key = %q, want 2:411111", transparent.ID.H)
	}
}

func TestIndex_OpaqueDeterministic(t *testing.T) {
	ix, err := New(testConfig(), false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a := ix.Index(testFact())
	b := ix.Index(testFact())
	if a[0].ID.H != b[0].ID.H {
		t.Error("opaque hash key is not deterministic across calls")
	}
}

func TestIndex_SkipsMissingField(t *testing.T) {
	ix, err := New(testConfig(), false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	fact := testFact()
	delete(fact.Data["d"].(map[string]interface{}), "cardBin")

	entries := ix.Index(fact)
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].IndexType != 1 {
		t.Errorf("remaining entry IndexType = %d, want 1", entries[0].IndexType)
	}
}

func TestIndex_IncludeFactDataToIndex(t *testing.T) {
	ix, err := New(testConfig(), true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	entries := ix.Index(testFact())
	for _, e := range entries {
		if e.Data == nil {
			t.Error("expected Data to be embedded when includeFactDataToIndex is true")
		}
	}
}

func TestGetHashValuesForSearch_GroupsByIndexType(t *testing.T) {
	ix, err := New(testConfig(), false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	entries := ix.Index(testFact())
	grouped := ix.GetHashValuesForSearch(entries)

	if len(grouped[1]) != 1 {
		t.Errorf("grouped[1] has %d entries, want 1", len(grouped[1]))
	}
	if len(grouped[2]) != 1 {
		t.Errorf("grouped[2] has %d entries, want 1", len(grouped[2]))
	}
	if _, ok := grouped[99]; ok {
		t.Error("grouped should omit indexTypes with no entries")
	}
}
