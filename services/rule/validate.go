package rule

import (
	"fmt"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/pipeline"
)

// Validate checks the structure of a rule set: known variant types, usable
// operators and divisors, unique rule ids and compilable CEL. It never looks
// at records.
func (e *Evaluator) Validate(rs RuleSet) error {
	var details []errutil.Detail
	add := func(field, format string, args ...any) {
		details = append(details, errutil.Detail{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool)
	checkID := func(path, id string) {
		if id == "" {
			add(path+".id", "rule id is required")
			return
		}
		if seen[id] {
			add(path+".id", "duplicate rule id %q", id)
		}
		seen[id] = true
	}

	for i, r := range rs.Eligibility {
		path := fmt.Sprintf("eligibility[%d]", i)
		checkID(path, r.ID)
		e.validateCondition(path+".condition", r.Condition, 0, add)
	}
	for i, r := range rs.Accrual {
		path := fmt.Sprintf("accrual[%d]", i)
		checkID(path, r.ID)
		e.validateCondition(path+".condition", r.Condition, 0, add)
		validateCalculation(path+".calculation", r.Calculation, add)
	}

	if len(details) > 0 {
		return pipeline.Configuration("invalid rule set", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (e *Evaluator) validateCondition(path string, c Condition, depth int, add func(string, string, ...any)) {
	if depth > maxDepth {
		add(path, "conditions nested deeper than %d", maxDepth)
		return
	}

	switch c.Type {
	case TypeAlways:
	case TypeFieldEquals, TypeFieldNotEquals:
		if c.Field == "" {
			add(path+".field", "field is required")
		}
		if c.Value == nil {
			add(path+".value", "value is required")
		}
	case TypeFieldCompare:
		if c.Field == "" || c.Other == "" {
			add(path, "field and other are required")
		}
		if !validOp(c.Op) {
			add(path+".op", "unknown operator %q", c.Op)
		}
	case TypeFieldCompareValue:
		if c.Field == "" {
			add(path+".field", "field is required")
		}
		if !validOp(c.Op) {
			add(path+".op", "unknown operator %q", c.Op)
		}
		if _, ok := toNumber(c.Value); !ok && c.Op != OpEq && c.Op != OpNe {
			add(path+".value", "ordering comparison needs a numeric value")
		}
	case TypeAnd, TypeOr:
		if len(c.Conditions) == 0 {
			add(path+".conditions", "%s needs at least one condition", c.Type)
		}
		for i, child := range c.Conditions {
			e.validateCondition(fmt.Sprintf("%s.conditions[%d]", path, i), child, depth+1, add)
		}
	case TypeNot:
		if c.Condition == nil {
			add(path+".condition", "not needs a condition")
			return
		}
		e.validateCondition(path+".condition", *c.Condition, depth+1, add)
	case TypeCEL:
		if _, err := e.programs.GetOrCompile(c.Expression); err != nil {
			add(path+".expression", "%v", err)
		}
	default:
		add(path+".type", "unknown condition type %q", c.Type)
	}
}

func validateCalculation(path string, c Calculation, add func(string, string, ...any)) {
	switch c.Type {
	case CalcFixed:
		if c.Amount < 0 {
			add(path+".amount", "amount must not be negative")
		}
	case CalcCeilDiv, CalcFloorDiv:
		if c.Field == "" {
			add(path+".field", "field is required")
		}
		if c.Divisor <= 0 {
			add(path+".divisor", "divisor must be positive")
		}
	case CalcMultiply:
		if c.Field == "" {
			add(path+".field", "field is required")
		}
		if c.Factor < 0 {
			add(path+".factor", "factor must not be negative")
		}
	default:
		add(path+".type", "unknown calculation type %q", c.Type)
	}
}
