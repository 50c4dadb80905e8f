// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package indexer implements the FactIndexer: Fact -> IndexEntry[] with
// deterministic index-key formation (spec §4.2, §3).
package indexer

import (
	"crypto/sha1" //nolint:gosec // opaque index keys need determinism, not collision resistance
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// FactIndexer turns a Fact into its deterministic set of IndexEntries.
type FactIndexer struct {
	fields                 []models.IndexFieldConfig
	includeFactDataToIndex bool
}

// New validates the index configuration and builds a FactIndexer.
// includeFactDataToIndex embeds the fact payload into each emitted entry,
// per the INCLUDE_FACT_DATA_TO_INDEX switch (spec §9: "a configuration
// switch, not a code branch to duplicate").
func New(cfg models.IndexConfig, includeFactDataToIndex bool) (*FactIndexer, error) {
	seenPair := make(map[string]struct{})
	seenType := make(map[int]struct{})
	for _, f := range cfg.Fields {
		if f.FieldName == "" || f.DateName == "" || f.IndexTypeName == "" {
			return nil, apperrors.NewConfigError("indexer: field entry missing fieldName/dateName/indexTypeName")
		}
		if f.IndexType == 0 {
			return nil, apperrors.NewConfigError("indexer: field %q missing indexType", f.FieldName)
		}
		if f.IndexValueMode != models.IndexValueModeOpaque && f.IndexValueMode != models.IndexValueModeTransparent {
			return nil, apperrors.NewConfigError("indexer: field %q has invalid indexValueMode %d", f.FieldName, f.IndexValueMode)
		}
		pairKey := f.FieldName + "\x00" + f.IndexTypeName
		if _, dup := seenPair[pairKey]; dup {
			return nil, apperrors.NewConfigError("indexer: duplicate (fieldName, indexTypeName) pair %q/%q", f.FieldName, f.IndexTypeName)
		}
		seenPair[pairKey] = struct{}{}
		if _, dup := seenType[f.IndexType]; dup {
			return nil, apperrors.NewConfigError("indexer: duplicate indexType %d", f.IndexType)
		}
		seenType[f.IndexType] = struct{}{}
	}

	return &FactIndexer{fields: cfg.Fields, includeFactDataToIndex: includeFactDataToIndex}, nil
}

// Index implements index(fact) -> IndexEntry[].
func (ix *FactIndexer) Index(fact *models.Fact) []models.IndexEntry {
	entries := make([]models.IndexEntry, 0, len(ix.fields))
	for _, f := range ix.fields {
		raw, ok := lookup(fact.Data, f.FieldName)
		if !ok || isEmpty(raw) {
			continue
		}
		dateRaw, ok := lookup(fact.Data, f.DateName)
		if !ok {
			continue
		}
		date, ok := asTime(dateRaw)
		if !ok {
			continue
		}

		value := fmt.Sprintf("%v", raw)
		h := formHashKey(f.IndexType, value, f.IndexValueMode)

		entry := models.IndexEntry{
			ID:        models.IndexEntryID{H: h, F: fact.ID},
			IndexType: f.IndexType,
			Value:     value,
			Type:      fact.Type,
			Date:      date,
			CreatedAt: fact.CreatedAt,
		}
		if ix.includeFactDataToIndex {
			entry.Data = fact.Data
		}
		entries = append(entries, entry)
	}
	return entries
}

// GetHashValuesForSearch groups the hash keys of a set of entries by
// indexType, omitting indexTypes with no entries.
func (ix *FactIndexer) GetHashValuesForSearch(entries []models.IndexEntry) models.HashValuesByIndexType {
	result := make(models.HashValuesByIndexType)
	for _, e := range entries {
		result[e.IndexType] = append(result[e.IndexType], e.ID.H)
	}
	return result
}

// formHashKey implements the §3 index-key formation rule.
func formHashKey(indexType int, value string, mode models.IndexValueMode) string {
	plain := fmt.Sprintf("%d:%s", indexType, value)
	if mode == models.IndexValueModeOpaque {
		sum := sha1.Sum([]byte(plain)) //nolint:gosec // deterministic key, not a security hash
		return base64.StdEncoding.EncodeToString(sum[:])
	}
	return plain
}

func isEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	}
	return false
}

func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = data
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case float64:
		return time.UnixMilli(int64(t)), true
	}
	return time.Time{}, false
}
