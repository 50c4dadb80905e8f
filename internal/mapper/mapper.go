// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mapper implements the FactMapper: message -> canonical Fact
// projection and type coercion (spec §4.1). Fields absent from the message
// are left out of the Fact; no default values are filled in.
package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// now is overridable in tests.
var now = time.Now

// FactMapper turns an inbound message into a canonical Fact per a configured
// set of field projections.
type FactMapper struct {
	fieldsByType map[int][]models.FieldConfig
	allowedTypes map[int]struct{} // nil means "all types allowed"
}

// New validates the mapper configuration and builds a FactMapper. Returns a
// ConfigError if any field entry is malformed or a configured message type
// has no key candidate field.
func New(cfg models.MessageMapperConfig, allowedMessageTypes []int) (*FactMapper, error) {
	fieldsByType := make(map[int][]models.FieldConfig)
	for _, f := range cfg.Fields {
		if f.Source == "" {
			return nil, apperrors.NewConfigError("mapper: field config missing source")
		}
		if len(f.MessageTypes) == 0 {
			return nil, apperrors.NewConfigError("mapper: field %q has no message_types", f.Source)
		}
		switch f.DataType {
		case models.FieldTypeString, models.FieldTypeInteger, models.FieldTypeFloat,
			models.FieldTypeDate, models.FieldTypeEnum, models.FieldTypeBool, "":
		default:
			return nil, apperrors.NewConfigError("mapper: field %q has unsupported data_type %q", f.Source, f.DataType)
		}
		dst := f.Dest
		if dst == "" {
			dst = f.Source
		}
		entry := f
		entry.Dest = dst
		for _, t := range f.MessageTypes {
			fieldsByType[t] = append(fieldsByType[t], entry)
		}
	}
	for t, fields := range fieldsByType {
		hasKey := false
		for _, f := range fields {
			if f.KeyOrder > 0 {
				hasKey = true
				break
			}
		}
		if !hasKey {
			return nil, apperrors.NewConfigError("mapper: message type %d has no key candidate fields configured", t)
		}
	}

	var allowed map[int]struct{}
	if len(allowedMessageTypes) > 0 {
		allowed = make(map[int]struct{}, len(allowedMessageTypes))
		for _, t := range allowedMessageTypes {
			allowed[t] = struct{}{}
		}
	}

	return &FactMapper{fieldsByType: fieldsByType, allowedTypes: allowed}, nil
}

// MapMessageToFact implements mapMessageToFact(message) -> Fact.
func (m *FactMapper) MapMessageToFact(message map[string]interface{}) (*models.Fact, error) {
	msgType, err := extractMessageType(message)
	if err != nil {
		return nil, err
	}

	// An unrecognized or disallowed message type is a property of the
	// inbound request, not of the mapper's own configuration: ConfigError is
	// reserved for failures building the FactMapper itself (New, above),
	// which are fatal at startup. Rejecting one bad request must not be
	// confused with that, so both cases here are ValidationErrors.
	fields, known := m.fieldsByType[msgType]
	if !known {
		return nil, apperrors.NewValidationError("unknown message type %d", msgType)
	}
	if m.allowedTypes != nil {
		if _, ok := m.allowedTypes[msgType]; !ok {
			return nil, apperrors.NewValidationError("message type %d not in ALLOWED_MESSAGE_TYPES", msgType)
		}
	}

	data := make(map[string]interface{})
	var keyCandidates []models.FieldConfig
	for _, f := range fields {
		if f.KeyOrder > 0 {
			keyCandidates = append(keyCandidates, f)
		}

		raw, present := getPath(message, f.Source)
		if !present || isEmptyValue(raw) {
			continue
		}

		coerced, err := coerce(f, raw)
		if err != nil {
			return nil, err
		}
		setPath(data, f.Dest, coerced)
	}

	id, err := resolveKey(message, keyCandidates)
	if err != nil {
		return nil, err
	}

	return &models.Fact{
		ID:        id,
		Type:      msgType,
		CreatedAt: now(),
		Data:      data,
	}, nil
}

func resolveKey(message map[string]interface{}, candidates []models.FieldConfig) (string, error) {
	if len(candidates) == 0 {
		return "", apperrors.NewConfigError("mapper: message type has no key candidate fields configured")
	}
	ordered := make([]models.FieldConfig, len(candidates))
	copy(ordered, candidates)
	// stable insertion sort by KeyOrder ascending; candidate counts are small.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].KeyOrder < ordered[j-1].KeyOrder; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	for _, f := range ordered {
		raw, present := getPath(message, f.Source)
		if !present || isEmptyValue(raw) {
			continue
		}
		return fmt.Sprintf("%v", raw), nil
	}
	var msgType int
	if t, ok := message["t"]; ok {
		if n, ok := toInt(t); ok {
			msgType = n
		}
	}
	return "", &apperrors.MissingKeyError{MessageType: msgType}
}

func extractMessageType(message map[string]interface{}) (int, error) {
	raw, ok := message["t"]
	if !ok {
		return 0, apperrors.NewValidationError("message missing required field \"t\"")
	}
	n, ok := toInt(raw)
	if !ok {
		return 0, apperrors.NewValidationError("message field \"t\" is not an integer")
	}
	return n, nil
}

func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	}
	return false
}

// getPath reads a dotted field path ("a.b.c") from a nested map.
func getPath(m map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = m
	for _, p := range parts {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := asMap[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// setPath writes a dotted field path into a nested map, creating
// intermediate maps as needed.
func setPath(m map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func coerce(f models.FieldConfig, raw interface{}) (interface{}, error) {
	switch f.DataType {
	case models.FieldTypeString, "":
		return fmt.Sprintf("%v", raw), nil
	case models.FieldTypeInteger:
		n, ok := toInt(raw)
		if !ok {
			return nil, apperrors.NewTypeError(f.Source, "cannot coerce %v to integer", raw)
		}
		return n, nil
	case models.FieldTypeFloat:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case string:
			fl, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, apperrors.NewTypeError(f.Source, "cannot coerce %q to float", n)
			}
			return fl, nil
		}
		return nil, apperrors.NewTypeError(f.Source, "cannot coerce %v to float", raw)
	case models.FieldTypeBool:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, apperrors.NewTypeError(f.Source, "cannot coerce %q to bool", b)
			}
			return parsed, nil
		}
		return nil, apperrors.NewTypeError(f.Source, "cannot coerce %v to bool", raw)
	case models.FieldTypeDate:
		t, err := coerceDate(raw)
		if err != nil {
			return nil, apperrors.NewTypeError(f.Source, "%v", err)
		}
		return t, nil
	case models.FieldTypeEnum:
		s := fmt.Sprintf("%v", raw)
		if len(f.EnumValues) == 0 {
			return s, nil
		}
		for _, allowed := range f.EnumValues {
			if allowed == s {
				return s, nil
			}
		}
		return nil, apperrors.NewTypeError(f.Source, "value %q not in enum %v", s, f.EnumValues)
	default:
		return raw, nil
	}
}

func coerceDate(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	case string:
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms), nil
		}
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", v)
	}
	return time.Time{}, fmt.Errorf("cannot coerce %v to date", raw)
}
