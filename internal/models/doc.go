// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models holds the persisted data model (Fact, IndexEntry) and the
// configuration shapes (FieldConfig, IndexFieldConfig, CounterDefinition) that
// the mapper, indexer and counter producer are built from.
package models
