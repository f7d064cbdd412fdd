package rule

import (
	"math"
)

// maxDepth bounds condition nesting so a malformed rule set cannot exhaust
// the stack.
const maxDepth = 32

// Evaluator decides eligibility and computes accrual for a record. Results
// depend only on the record and the rules; the program cache never changes
// an outcome.
type Evaluator struct {
	programs *ProgramCache
}

// NewEvaluator creates an Evaluator with its own program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{programs: NewProgramCache()}
}

func NewEvaluatorWithCache(cache *ProgramCache) *Evaluator {
	if cache == nil {
		cache = NewProgramCache()
	}
	return &Evaluator{programs: cache}
}

// Result is the outcome of evaluating one record against a RuleSet.
type Result struct {
	Eligible       bool
	Points         int64
	AppliedRuleIDs []string
}

// Evaluate runs eligibility and, if eligible, accrual.
func (e *Evaluator) Evaluate(record map[string]any, rs RuleSet) Result {
	if !e.EvaluateEligibility(record, rs.Eligibility) {
		return Result{}
	}
	points, applied := e.ComputeAccrual(record, rs.Accrual)
	return Result{Eligible: true, Points: points, AppliedRuleIDs: applied}
}

// EvaluateEligibility is the AND of every rule. No rules means eligible. A
// rule that reads a missing field is false.
func (e *Evaluator) EvaluateEligibility(record map[string]any, rules []EligibilityRule) bool {
	for _, r := range rules {
		if !e.Match(record, r.Condition) {
			return false
		}
	}
	return true
}

// ComputeAccrual sums the calculations of every rule whose condition holds
// and returns the ids of those rules in rule order.
func (e *Evaluator) ComputeAccrual(record map[string]any, rules []AccrualRule) (int64, []string) {
	var total int64
	applied := make([]string, 0, len(rules))
	for _, r := range rules {
		if !e.Match(record, r.Condition) {
			continue
		}
		total += Calculate(record, r.Calculation)
		applied = append(applied, r.ID)
	}
	return total, applied
}

// Match reports whether the condition holds for the record. Missing fields,
// unknown condition types and CEL errors all yield false.
func (e *Evaluator) Match(record map[string]any, c Condition) bool {
	v, known := e.eval(record, c, 0)
	return known && v
}

// eval uses three-valued logic: known is false when the outcome depends on a
// field the record does not carry, so negation cannot turn a missing field
// into a match.
func (e *Evaluator) eval(record map[string]any, c Condition, depth int) (value bool, known bool) {
	if depth > maxDepth {
		return false, false
	}

	switch c.Type {
	case TypeAlways:
		return true, true

	case TypeFieldEquals, TypeFieldNotEquals:
		v, ok := record[c.Field]
		if !ok || v == nil {
			return false, false
		}
		eq := equalValues(v, c.Value)
		if c.Type == TypeFieldNotEquals {
			return !eq, true
		}
		return eq, true

	case TypeFieldCompare:
		left, okL := record[c.Field]
		right, okR := record[c.Other]
		if !okL || !okR || left == nil || right == nil || !validOp(c.Op) {
			return false, false
		}
		return applyOp(c.Op, left, right), true

	case TypeFieldCompareValue:
		v, ok := record[c.Field]
		if !ok || v == nil || !validOp(c.Op) {
			return false, false
		}
		return applyOp(c.Op, v, c.Value), true

	case TypeAnd:
		result, known := true, true
		for _, child := range c.Conditions {
			v, k := e.eval(record, child, depth+1)
			if !k {
				known = false
				continue
			}
			if !v {
				result = false
			}
		}
		if !known {
			return false, false
		}
		return result, true

	case TypeOr:
		known := true
		for _, child := range c.Conditions {
			v, k := e.eval(record, child, depth+1)
			if k && v {
				return true, true
			}
			if !k {
				known = false
			}
		}
		return false, known

	case TypeNot:
		if c.Condition == nil {
			return false, false
		}
		v, k := e.eval(record, *c.Condition, depth+1)
		if !k {
			return false, false
		}
		return !v, true

	case TypeCEL:
		prg, err := e.programs.GetOrCompile(c.Expression)
		if err != nil {
			return false, false
		}
		v, err := prg.evaluate(record)
		if err != nil {
			return false, false
		}
		return v, true
	}

	return false, false
}

// Calculate evaluates a calculation against the record. An absent or
// non-numeric field, a non-positive divisor or an unknown type yields 0.
func Calculate(record map[string]any, c Calculation) int64 {
	if c.Type == CalcFixed {
		return c.Amount
	}

	v, ok := toNumber(record[c.Field])
	if !ok {
		return 0
	}

	var out float64
	switch c.Type {
	case CalcCeilDiv:
		if c.Divisor <= 0 {
			return 0
		}
		out = math.Ceil(v / c.Divisor)
	case CalcFloorDiv:
		if c.Divisor <= 0 {
			return 0
		}
		out = math.Floor(v / c.Divisor)
	case CalcMultiply:
		out = math.Floor(v * c.Factor)
	default:
		return 0
	}

	if math.IsNaN(out) || math.IsInf(out, 0) || math.Abs(out) >= math.MaxInt64 {
		return 0
	}
	return int64(out)
}
