// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgaydamakov/counters-engine/internal/models"
)

// buildExampleMessage synthesizes a message for messageType conforming to the
// configured field projections, padding a filler string field so the encoded
// size approaches targetSizeBytes (spec §6 GET .../{t}/{json|iris}).
func buildExampleMessage(messageType int, fields []models.FieldConfig, targetSizeBytes int) map[string]interface{} {
	message := map[string]interface{}{"t": messageType}
	for _, f := range fields {
		applies := false
		for _, t := range f.MessageTypes {
			if t == messageType {
				applies = true
				break
			}
		}
		if !applies {
			continue
		}
		setPath(message, f.Source, exampleValue(f))
	}

	if targetSizeBytes > 0 {
		padExampleMessage(message, targetSizeBytes)
	}
	return message
}

func exampleValue(f models.FieldConfig) interface{} {
	switch f.DataType {
	case models.FieldTypeInteger:
		return 1
	case models.FieldTypeFloat:
		return 1.5
	case models.FieldTypeBool:
		return true
	case models.FieldTypeDate:
		return time.Now().UTC().Format(time.RFC3339)
	case models.FieldTypeEnum:
		if len(f.EnumValues) > 0 {
			return f.EnumValues[0]
		}
		return "example"
	default:
		if f.KeyOrder > 0 {
			return uuid.New().String()
		}
		return "example-" + lastSegment(f.Source)
	}
}

func lastSegment(path string) string {
	parts := strings.Split(path, ".")
	return parts[len(parts)-1]
}

// padExampleMessage grows a "_filler" field until the message is approximately
// targetSizeBytes when JSON-encoded; used only for test-message generation,
// so an approximate byte count (not an exact encoder round-trip) is fine.
func padExampleMessage(message map[string]interface{}, targetSizeBytes int) {
	current := approximateSize(message)
	if current >= targetSizeBytes {
		return
	}
	message["_filler"] = strings.Repeat("x", targetSizeBytes-current)
}

func approximateSize(message map[string]interface{}) int {
	size := 0
	for k, v := range message {
		size += len(k) + len(fmt.Sprintf("%v", v)) + 4
	}
	return size
}

// setPath writes a dotted field path into a nested map, creating
// intermediate maps as needed. Mirrors internal/mapper's setPath.
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
