// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "time"

// Fact is the canonical record of one business event. It is produced by the
// FactMapper from an inbound message and persisted by the StorageLayer.
//
// Invariant: ID is globally unique. Re-submitting the same ID updates D and
// leaves CreatedAt unchanged (see StorageLayer.SaveFact).
type Fact struct {
	// ID is derived from the message's designated key field at mapping time.
	ID string `bson:"_id" json:"_id"`
	// Type is the integer message-type discriminator.
	Type int `bson:"t" json:"t"`
	// CreatedAt is server-assigned and monotonic within a process.
	CreatedAt time.Time `bson:"c" json:"c"`
	// Data holds the projected, type-coerced payload fields.
	Data map[string]interface{} `bson:"d" json:"d"`
}

// SaveResult classifies the outcome of an upsert against the facts collection.
type SaveResult string

const (
	SaveResultInserted SaveResult = "inserted"
	SaveResultUpdated  SaveResult = "updated"
	SaveResultIgnored  SaveResult = "ignored"
)
