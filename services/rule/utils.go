package rule

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cast"
)

// toNumber coerces a record value to float64. Booleans, nil and
// non-numeric strings are not numbers.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case nil, bool:
		return 0, false
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

// equalValues compares a record value with a literal. When either side is a
// number both are compared numerically, so "450" equals 450; everything else
// must match exactly.
func equalValues(a, b any) bool {
	if isNumeric(a) || isNumeric(b) {
		x, okA := toNumber(a)
		y, okB := toNumber(b)
		return okA && okB && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// compareValues returns -1, 0 or 1. ok is false when the operands cannot be
// ordered against each other.
func compareValues(a, b any) (int, bool) {
	if isNumeric(a) || isNumeric(b) {
		x, okA := toNumber(a)
		y, okB := toNumber(b)
		if !okA || !okB {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, okA := a.(string)
	y, okB := b.(string)
	if !okA || !okB {
		if equalValues(a, b) {
			return 0, true
		}
		return 0, false
	}
	return strings.Compare(x, y), true
}

func applyOp(op string, a, b any) bool {
	switch op {
	case OpEq:
		return equalValues(a, b)
	case OpNe:
		return !equalValues(a, b)
	}
	c, ok := compareValues(a, b)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

func validOp(op string) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}
