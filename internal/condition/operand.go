// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package condition

import (
	"fmt"
	"strings"
	"time"
)

// operand is a node of the $expr operand AST: Literal | FieldPath | Now |
// DateAdd | DateSubtract | DateDiff (spec §9 design note). evalExprBool
// parses each $expr argument into this tagged union on every evaluation
// (the parsed tree is not cached) and then evaluates it against the data.
type operand interface {
	eval(data map[string]interface{}, now time.Time) (interface{}, bool)
}

type literalOperand struct{ value interface{} }

func (o literalOperand) eval(map[string]interface{}, time.Time) (interface{}, bool) {
	return o.value, true
}

type fieldPathOperand struct{ path string }

func (o fieldPathOperand) eval(data map[string]interface{}, _ time.Time) (interface{}, bool) {
	return lookupPath(data, o.path)
}

type nowOperand struct{}

func (nowOperand) eval(_ map[string]interface{}, now time.Time) (interface{}, bool) {
	return now, true
}

type dateAddOperand struct {
	start  operand
	unit   string
	amount operand
}

func (o dateAddOperand) eval(data map[string]interface{}, now time.Time) (interface{}, bool) {
	start, ok := asTime(o.start, data, now)
	if !ok {
		return nil, false
	}
	amt, ok := asInt(o.amount, data, now)
	if !ok {
		return nil, false
	}
	return addUnit(start, o.unit, amt), true
}

type dateSubtractOperand struct {
	start  operand
	unit   string
	amount operand
}

func (o dateSubtractOperand) eval(data map[string]interface{}, now time.Time) (interface{}, bool) {
	start, ok := asTime(o.start, data, now)
	if !ok {
		return nil, false
	}
	amt, ok := asInt(o.amount, data, now)
	if !ok {
		return nil, false
	}
	return addUnit(start, o.unit, -amt), true
}

type dateDiffOperand struct {
	startDate operand
	endDate   operand
	unit      string
}

func (o dateDiffOperand) eval(data map[string]interface{}, now time.Time) (interface{}, bool) {
	start, ok := asTime(o.startDate, data, now)
	if !ok {
		return nil, false
	}
	end, ok := asTime(o.endDate, data, now)
	if !ok {
		return nil, false
	}
	d := end.Sub(start)
	switch o.unit {
	case "millisecond", "":
		return d.Milliseconds(), true
	case "second":
		return int64(d.Seconds()), true
	case "minute":
		return int64(d.Minutes()), true
	case "hour":
		return int64(d.Hours()), true
	case "day":
		return int64(d.Hours() / 24), true
	default:
		return d.Milliseconds(), true
	}
}

func addUnit(t time.Time, unit string, amount int) time.Time {
	switch unit {
	case "millisecond":
		return t.Add(time.Duration(amount) * time.Millisecond)
	case "second":
		return t.Add(time.Duration(amount) * time.Second)
	case "minute":
		return t.Add(time.Duration(amount) * time.Minute)
	case "hour":
		return t.Add(time.Duration(amount) * time.Hour)
	case "day":
		return t.AddDate(0, 0, amount)
	case "month":
		return t.AddDate(0, amount, 0)
	case "year":
		return t.AddDate(amount, 0, 0)
	default:
		return t.AddDate(0, 0, amount)
	}
}

func asTime(o operand, data map[string]interface{}, now time.Time) (time.Time, bool) {
	v, ok := o.eval(data, now)
	if !ok {
		return time.Time{}, false
	}
	return toTime(v)
}

func asInt(o operand, data map[string]interface{}, now time.Time) (int, bool) {
	v, ok := o.eval(data, now)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// parseOperand builds the operand AST node for one raw JSON value appearing
// inside an $expr tree.
func parseOperand(raw interface{}) operand {
	switch v := raw.(type) {
	case string:
		if v == "$$NOW" {
			return nowOperand{}
		}
		if strings.HasPrefix(v, "$") {
			return fieldPathOperand{path: strings.TrimPrefix(v, "$")}
		}
		return literalOperand{value: v}
	case map[string]interface{}:
		if len(v) == 1 {
			for k, arg := range v {
				switch k {
				case "$dateAdd":
					return parseDateAdd(arg, false)
				case "$dateSubtract":
					return parseDateAdd(arg, true)
				case "$dateDiff":
					return parseDateDiff(arg)
				}
			}
		}
		return literalOperand{value: v}
	default:
		return literalOperand{value: v}
	}
}

func parseDateAdd(raw interface{}, subtract bool) operand {
	m, _ := raw.(map[string]interface{})
	start := parseOperand(m["startDate"])
	unit, _ := m["unit"].(string)
	amount := parseOperand(m["amount"])
	if subtract {
		return dateSubtractOperand{start: start, unit: unit, amount: amount}
	}
	return dateAddOperand{start: start, unit: unit, amount: amount}
}

func parseDateDiff(raw interface{}) operand {
	m, _ := raw.(map[string]interface{})
	return dateDiffOperand{
		startDate: parseOperand(m["startDate"]),
		endDate:   parseOperand(m["endDate"]),
		unit:      fmt.Sprintf("%v", m["unit"]),
	}
}
