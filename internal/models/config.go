// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

// FieldDataType is the type-coercion schema applied by the FactMapper to one
// field's value when copying it from a message into a fact.
type FieldDataType string

const (
	FieldTypeString  FieldDataType = "string"
	FieldTypeInteger FieldDataType = "integer"
	FieldTypeFloat   FieldDataType = "float"
	FieldTypeDate    FieldDataType = "date"
	FieldTypeEnum    FieldDataType = "enum"
	FieldTypeBool    FieldDataType = "bool"
)

// FieldConfig describes one field projected from an inbound message into a
// Fact's Data map. Entries whose MessageTypes includes the message's Type are
// applied; missing optional fields are skipped, missing key candidates cause
// MissingKeyError (see internal/mapper).
type FieldConfig struct {
	// Source is the field path read from the inbound message.
	Source string `json:"source"`
	// Dest is the field path written into fact.Data; defaults to Source if empty.
	Dest string `json:"dest"`
	// MessageTypes lists the message types this field applies to.
	MessageTypes []int `json:"message_types"`
	// DataType drives the coercion applied to the raw value.
	DataType FieldDataType `json:"data_type"`
	// EnumValues restricts accepted values when DataType is "enum".
	EnumValues []string `json:"enum_values,omitempty"`
	// KeyOrder marks this field as a key candidate; 0 means "not a key
	// candidate". Candidates are tried in ascending KeyOrder and the first
	// one that resolves to a non-empty value becomes fact.ID.
	KeyOrder int `json:"key_order,omitempty"`
}

// MessageMapperConfig is the parsed contents of MESSAGE_CONFIG_PATH.
type MessageMapperConfig struct {
	Fields []FieldConfig `json:"fields"`
}

// IndexValueMode selects how FactIndexer forms an index key from a field value.
type IndexValueMode int

const (
	// IndexValueModeOpaque hashes the field value: h = Base64(SHA1(indexType:value)).
	IndexValueModeOpaque IndexValueMode = 1
	// IndexValueModeTransparent concatenates the field value in plain text: h = indexType:value.
	IndexValueModeTransparent IndexValueMode = 2
)

// IndexFieldConfig describes one IndexEntry-producing projection of a fact.
type IndexFieldConfig struct {
	FieldName      string         `json:"field_name"`
	DateName       string         `json:"date_name"`
	IndexTypeName  string         `json:"index_type_name"`
	IndexType      int            `json:"index_type"`
	IndexValueMode IndexValueMode `json:"index_value_mode"`
}

// IndexConfig is the parsed contents of INDEX_CONFIG_PATH.
type IndexConfig struct {
	Fields []IndexFieldConfig `json:"fields"`
}

// Condition is one node of the document-query filter dialect evaluated by
// ConditionEvaluator. It is decoded straight from the counter configuration's
// JSON; operators are dispatched by the condition package's interpreter.
type Condition map[string]interface{}

// CounterDefinition describes one named aggregate counter.
type CounterDefinition struct {
	Name          string `json:"name"`
	IndexTypeName string `json:"index_type_name"`
	// ComputationConditions is pushed down into the database aggregation;
	// gates whether this counter applies to the incoming fact at all.
	ComputationConditions Condition `json:"computation_conditions,omitempty"`
	// EvaluationConditions is applied in-process to each candidate fact,
	// used when push-down cannot express the predicate.
	EvaluationConditions Condition `json:"evaluation_conditions,omitempty"`
	// Attributes maps an output attribute name to an aggregation expression
	// (e.g. {"$sum": "$d.amount"}).
	Attributes map[string]interface{} `json:"attributes"`
	// FromTimeMs/ToTimeMs bound the time window relative to now: inclusive
	// lower bound now-FromTimeMs, exclusive upper bound now-ToTimeMs. 0 means
	// that side is unbounded.
	FromTimeMs int64 `json:"from_time_ms,omitempty"`
	ToTimeMs   int64 `json:"to_time_ms,omitempty"`
	// MaxEvaluatedRecords/MaxMatchingRecords cap rows scanned/matched. 0 = no cap.
	MaxEvaluatedRecords int `json:"max_evaluated_records,omitempty"`
	MaxMatchingRecords  int `json:"max_matching_records,omitempty"`
}

// CounterConfig is the parsed contents of COUNTER_CONFIG_PATH.
type CounterConfig struct {
	Counters []CounterDefinition `json:"counters"`
}
