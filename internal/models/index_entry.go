// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// IndexEntryID is the composite key of an IndexEntry: the index key H and the
// owning fact's ID F. (H, F) is unique; many facts sharing a field value
// produce entries with the same H and distinct F.
type IndexEntryID struct {
	H string `bson:"h" json:"h"`
	F string `bson:"f" json:"f"`
}

// IndexEntry is one projection of a fact's field into the searchable index.
type IndexEntry struct {
	ID IndexEntryID `bson:"_id" json:"_id"`
	// IndexType ties this entry to one FieldConfig definition (1..N, unique per definition).
	IndexType int `bson:"it" json:"it"`
	// Value is the original field value as a string, for diagnostics and optional lookup.
	Value string `bson:"v" json:"v"`
	// Type is a copy of the owning fact's Type.
	Type int `bson:"t" json:"t"`
	// Date is the domain date copied from the fact's configured date field.
	Date time.Time `bson:"dt" json:"dt"`
	// CreatedAt is a copy of the owning fact's CreatedAt.
	CreatedAt time.Time `bson:"c" json:"c"`
	// Data optionally embeds the fact's payload, enabling single-collection
	// counter evaluation when IncludeFactDataToIndex is set. Nil otherwise.
	Data map[string]interface{} `bson:"d,omitempty" json:"d,omitempty"`
}

// HashValuesByIndexType maps an indexType to the list of index keys (H
// values) produced for it by one fact's IndexEntries. Produced by
// FactIndexer.GetHashValuesForSearch and consumed by the storage layer.
type HashValuesByIndexType map[int][]string
