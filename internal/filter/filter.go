// Package filter implements the predicate evaluator of spec §4.6: dot-path
// field lookups over a decoded Value, an operator table, $or disjunction,
// and post-processing (sort, offset, limit).
package filter

import (
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mikrodb/mikrodb/internal/types"
)

// Expression is a field-path -> condition mapping. A condition is either
// a bare leaf value (equality), a nested Expression keyed by sub-paths,
// or a Condition{Operator, Value}. The reserved key "$or" carries a list
// of Expressions combined disjunctively; a top-level Expression combines
// its own entries conjunctively.
type Expression map[string]interface{}

// Condition pairs an operator name with its comparison operand.
type Condition struct {
	Operator string
	Value    interface{}
}

// Options bundles a filter expression with post-processing.
type Options struct {
	Expr   Expression
	Sort   func(a, b types.KeyedRecord) bool
	Offset int
	Limit  int
}

// Matches reports whether value satisfies expr.
func Matches(value types.Value, expr Expression) bool {
	doc := value.Native()
	return matchExpression(doc, expr)
}

func matchExpression(doc interface{}, expr Expression) bool {
	for key, cond := range expr {
		if key == "$or" {
			branches, ok := cond.([]interface{})
			if !ok {
				return false
			}
			if !matchAny(doc, branches) {
				return false
			}
			continue
		}

		fieldValue, ok := GetValue(doc, ParsePath(key))
		if !ok || fieldValue == nil {
			return false
		}

		if !matchCondition(fieldValue, cond) {
			return false
		}
	}
	return true
}

func matchAny(doc interface{}, branches []interface{}) bool {
	for _, b := range branches {
		sub, ok := toExpression(b)
		if !ok {
			continue
		}
		if matchExpression(doc, sub) {
			return true
		}
	}
	return false
}

func toExpression(v interface{}) (Expression, bool) {
	switch x := v.(type) {
	case Expression:
		return x, true
	case map[string]interface{}:
		return Expression(x), true
	default:
		return nil, false
	}
}

func matchCondition(fieldValue interface{}, cond interface{}) bool {
	switch c := cond.(type) {
	case Condition:
		return evalOperator(c.Operator, fieldValue, c.Value)
	case map[string]interface{}:
		if op, hasOp := c["operator"]; hasOp {
			opName, _ := op.(string)
			return evalOperator(opName, fieldValue, c["value"])
		}
		// Nested expression: fieldValue itself is a sub-document.
		return matchExpression(fieldValue, Expression(c))
	case Expression:
		return matchExpression(fieldValue, c)
	default:
		return equal(fieldValue, cond)
	}
}

func evalOperator(op string, field, operand interface{}) bool {
	switch op {
	case "eq":
		return equal(field, operand)
	case "neq":
		return !equal(field, operand)
	case "gt":
		return compareNumbers(field, operand, func(a, b float64) bool { return a > b })
	case "gte":
		return compareNumbers(field, operand, func(a, b float64) bool { return a >= b })
	case "lt":
		return compareNumbers(field, operand, func(a, b float64) bool { return a < b })
	case "lte":
		return compareNumbers(field, operand, func(a, b float64) bool { return a <= b })
	case "in":
		list, ok := operand.([]interface{})
		if !ok {
			return false
		}
		for _, v := range list {
			if equal(field, v) {
				return true
			}
		}
		return false
	case "nin":
		list, ok := operand.([]interface{})
		if !ok {
			return false
		}
		for _, v := range list {
			if equal(field, v) {
				return false
			}
		}
		return true
	case "like":
		fs, ok1 := field.(string)
		os, ok2 := operand.(string)
		if !ok1 || !ok2 {
			return false
		}
		return strings.Contains(strings.ToLower(fs), strings.ToLower(os))
	case "between":
		bounds, ok := operand.([]interface{})
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := toFloat(bounds[0])
		hi, okHi := toFloat(bounds[1])
		val, okVal := toFloat(field)
		if !okLo || !okHi || !okVal {
			return false
		}
		return val >= lo && val <= hi
	case "regex":
		pattern, ok := operand.(string)
		if !ok {
			return false
		}
		fs, ok := field.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fs)
	case "contains":
		arr, ok := field.([]interface{})
		if !ok {
			return false
		}
		for _, v := range arr {
			if equal(v, operand) {
				return true
			}
		}
		return false
	case "containsAll":
		arr, ok := field.([]interface{})
		if !ok {
			return false
		}
		want, ok := operand.([]interface{})
		if !ok {
			return false
		}
		for _, w := range want {
			if !containsElement(arr, w) {
				return false
			}
		}
		return true
	case "containsAny":
		arr, ok := field.([]interface{})
		if !ok {
			return false
		}
		want, ok := operand.([]interface{})
		if !ok {
			return false
		}
		for _, w := range want {
			if containsElement(arr, w) {
				return true
			}
		}
		return false
	case "size":
		arr, ok := field.([]interface{})
		if !ok {
			return false
		}
		n, ok := toFloat(operand)
		if !ok {
			return false
		}
		return float64(len(arr)) == n
	default:
		return false
	}
}

func containsElement(arr []interface{}, target interface{}) bool {
	for _, v := range arr {
		if equal(v, target) {
			return true
		}
	}
	return false
}

// equal compares two decoded leaf values. Numeric comparisons go
// through toFloat so int/float/int32/int64 operands compare by value
// rather than by Go type. Arrays and objects (the []interface{}/
// map[string]interface{} shapes Value.Native() produces for non-leaf
// fields) are not comparable with ==, so they fall through to
// reflect.DeepEqual instead of panicking.
func equal(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if !isComparable(a) || !isComparable(b) {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

func isComparable(v interface{}) bool {
	switch v.(type) {
	case []interface{}, map[string]interface{}:
		return false
	default:
		return true
	}
}

func compareNumbers(a, b interface{}, cmp func(x, y float64) bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// ParsePath splits a dot-notation field path into segments.
func ParsePath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// GetValue walks doc (maps and slices, as produced by Value.Native())
// along path, returning the resolved value and whether the full path
// resolved.
func GetValue(doc interface{}, path []string) (interface{}, bool) {
	current := doc
	for _, segment := range path {
		switch v := current.(type) {
		case map[string]interface{}:
			val, ok := v[segment]
			if !ok {
				return nil, false
			}
			current = val
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Apply filters, sorts, and slices records per opts.
func Apply(records []types.KeyedRecord, opts Options) []types.KeyedRecord {
	var matched []types.KeyedRecord
	for _, r := range records {
		if opts.Expr == nil || matchExpression(r.Record.Value.Native(), opts.Expr) {
			matched = append(matched, r)
		}
		if opts.Limit > 0 && opts.Sort == nil && len(matched) >= opts.Limit+opts.Offset {
			break
		}
	}

	if opts.Sort != nil {
		sort.SliceStable(matched, func(i, j int) bool { return opts.Sort(matched[i], matched[j]) })
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched
}

