// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package condition implements the ConditionEvaluator: in-memory evaluation
// of the document-query filter dialect shared with the storage layer's
// push-down queries (spec §4.3), including $expr and date arithmetic.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Evaluator evaluates a Condition against a fact's data map. It mirrors the
// operator subset pushed down to the database, so push-down and in-process
// results agree (spec §8, property 5).
type Evaluator struct {
	now func() time.Time
}

// New builds an Evaluator using the wall clock for $$NOW / $expr.
func New() *Evaluator {
	return &Evaluator{now: time.Now}
}

// Matches implements matchesCondition(fact, condition) -> bool. Unknown
// field paths resolve to undefined and fail comparisons, per spec §4.3.
func (e *Evaluator) Matches(data map[string]interface{}, condition map[string]interface{}) bool {
	return e.matches(data, condition, false)
}

// MatchesUndefinedTrue is the undefinedFieldIsTrue=true variant used by
// reserved diagnostic paths (spec §4.3): unknown field paths are treated as
// satisfying the comparison instead of failing it.
func (e *Evaluator) MatchesUndefinedTrue(data map[string]interface{}, condition map[string]interface{}) bool {
	return e.matches(data, condition, true)
}

func (e *Evaluator) matches(data map[string]interface{}, condition map[string]interface{}, undefinedTrue bool) bool {
	now := e.now()
	for key, rawValue := range condition {
		switch key {
		case "$and":
			subs, ok := rawValue.([]interface{})
			if !ok {
				return false
			}
			for _, s := range subs {
				sub, ok := s.(map[string]interface{})
				if !ok || !e.matches(data, sub, undefinedTrue) {
					return false
				}
			}
		case "$or":
			subs, ok := rawValue.([]interface{})
			if !ok {
				return false
			}
			any := false
			for _, s := range subs {
				sub, ok := s.(map[string]interface{})
				if ok && e.matches(data, sub, undefinedTrue) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		case "$not":
			sub, ok := rawValue.(map[string]interface{})
			if !ok || e.matches(data, sub, undefinedTrue) {
				return false
			}
		case "$expr":
			expr, ok := rawValue.(map[string]interface{})
			if !ok || !e.evalExprBool(expr, data, now) {
				return false
			}
		default:
			fieldValue, exists := lookupPath(data, key)
			if !matchFieldCondition(fieldValue, exists, rawValue, now, undefinedTrue) {
				return false
			}
		}
	}
	return true
}

// matchFieldCondition evaluates one field's condition value: either an
// operator map ({"$gt": 5}) or an implicit equality literal.
func matchFieldCondition(fieldValue interface{}, exists bool, condValue interface{}, now time.Time, undefinedTrue bool) bool {
	opMap, isOpMap := condValue.(map[string]interface{})
	if !isOpMap {
		if !exists {
			return undefinedTrue
		}
		return looseEqual(fieldValue, condValue)
	}

	if _, hasOp := firstOperatorKey(opMap); !hasOp {
		if !exists {
			return undefinedTrue
		}
		return looseEqual(fieldValue, opMap)
	}

	for op, arg := range opMap {
		if op == "$options" {
			continue // consumed alongside $regex
		}
		if !exists && op != "$exists" {
			if !undefinedTrue {
				return false
			}
			continue
		}
		if !evalOperator(op, fieldValue, arg, opMap, exists) {
			return false
		}
	}
	return true
}

func firstOperatorKey(m map[string]interface{}) (string, bool) {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return k, true
		}
	}
	return "", false
}

func evalOperator(op string, fieldValue interface{}, arg interface{}, siblings map[string]interface{}, exists bool) bool {
	switch op {
	case "$eq":
		return looseEqual(fieldValue, arg)
	case "$ne":
		return !looseEqual(fieldValue, arg)
	case "$gt":
		cmp, ok := compareOrdered(fieldValue, arg)
		return ok && cmp > 0
	case "$gte":
		cmp, ok := compareOrdered(fieldValue, arg)
		return ok && cmp >= 0
	case "$lt":
		cmp, ok := compareOrdered(fieldValue, arg)
		return ok && cmp < 0
	case "$lte":
		cmp, ok := compareOrdered(fieldValue, arg)
		return ok && cmp <= 0
	case "$in":
		list, ok := arg.([]interface{})
		if !ok {
			return false
		}
		for _, v := range list {
			if looseEqual(fieldValue, v) {
				return true
			}
		}
		return false
	case "$nin":
		list, ok := arg.([]interface{})
		if !ok {
			return true
		}
		for _, v := range list {
			if looseEqual(fieldValue, v) {
				return false
			}
		}
		return true
	case "$all":
		want, ok := arg.([]interface{})
		if !ok {
			return false
		}
		have, ok := fieldValue.([]interface{})
		if !ok {
			return false
		}
		for _, w := range want {
			found := false
			for _, h := range have {
				if looseEqual(h, w) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case "$elemMatch":
		sub, ok := arg.(map[string]interface{})
		if !ok {
			return false
		}
		list, ok := fieldValue.([]interface{})
		if !ok {
			return false
		}
		ev := New()
		for _, elem := range list {
			m, ok := elem.(map[string]interface{})
			if !ok {
				continue
			}
			if ev.Matches(m, sub) {
				return true
			}
		}
		return false
	case "$size":
		list, ok := fieldValue.([]interface{})
		if !ok {
			return false
		}
		n, ok := toInt(arg)
		return ok && len(list) == n
	case "$regex":
		s, ok := fieldValue.(string)
		if !ok {
			return false
		}
		pattern := fmt.Sprintf("%v", arg)
		if opts, ok := siblings["$options"]; ok {
			optStr := fmt.Sprintf("%v", opts)
			if strings.Contains(optStr, "i") {
				pattern = "(?i)" + pattern
			}
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case "$exists":
		want, _ := arg.(bool)
		return exists == want
	case "$type":
		return matchesBSONType(fieldValue, fmt.Sprintf("%v", arg))
	case "$mod":
		pair, ok := arg.([]interface{})
		if !ok || len(pair) != 2 {
			return false
		}
		divisor, ok1 := toInt(pair[0])
		remainder, ok2 := toInt(pair[1])
		value, ok3 := toInt(fieldValue)
		if !ok1 || !ok2 || !ok3 || divisor == 0 {
			return false
		}
		return value%divisor == remainder
	default:
		// Unsupported operator ($where, $text, geo): fails closed per §4.3.
		return false
	}
}

func matchesBSONType(v interface{}, want string) bool {
	switch v.(type) {
	case string:
		return want == "string"
	case int, int32, int64:
		return want == "int" || want == "long"
	case float64, float32:
		return want == "double"
	case bool:
		return want == "bool"
	case time.Time:
		return want == "date"
	case []interface{}:
		return want == "array"
	case map[string]interface{}:
		return want == "object"
	case nil:
		return want == "null"
	}
	return false
}

func (e *Evaluator) evalExprBool(expr map[string]interface{}, data map[string]interface{}, now time.Time) bool {
	for op, arg := range expr {
		args, ok := arg.([]interface{})
		if !ok || len(args) != 2 {
			return false
		}
		left := parseOperand(args[0])
		right := parseOperand(args[1])
		lv, lok := left.eval(data, now)
		rv, rok := right.eval(data, now)
		if !lok || !rok {
			return false
		}
		switch op {
		case "$eq":
			return looseEqual(lv, rv)
		case "$ne":
			return !looseEqual(lv, rv)
		case "$gt", "$gte", "$lt", "$lte":
			cmp, ok := compareOrdered(lv, rv)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				return cmp > 0
			case "$gte":
				return cmp >= 0
			case "$lt":
				return cmp < 0
			default:
				return cmp <= 0
			}
		default:
			return false
		}
	}
	return true
}

func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
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

// looseEqual implements the "42" == 42 coercion rule (spec §4.3).
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareOrdered returns -1/0/1 for a<b, a==b, a>b, or ok=false if the two
// values cannot be ordered (e.g. not parseable as numbers or dates).
func compareOrdered(a, b interface{}) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	at, aok := toTime(a)
	bt, bok := toTime(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case at.Before(bt):
		return -1, true
	case at.After(bt):
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
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

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	case float64:
		return time.UnixMilli(int64(t)), true
	case string:
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
