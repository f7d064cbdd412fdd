package rule

// Condition types.
const (
	TypeFieldEquals       = "field_equals"
	TypeFieldNotEquals    = "field_not_equals"
	TypeFieldCompare      = "field_compare"
	TypeFieldCompareValue = "field_compare_value"
	TypeAnd               = "and"
	TypeOr                = "or"
	TypeNot               = "not"
	TypeAlways            = "always"
	TypeCEL               = "cel"
)

// Calculation types.
const (
	CalcCeilDiv  = "ceil_div"
	CalcFloorDiv = "floor_div"
	CalcMultiply = "multiply"
	CalcFixed    = "fixed"
)

// Comparison operators for field_compare and field_compare_value.
const (
	OpEq  = "eq"
	OpNe  = "ne"
	OpGt  = "gt"
	OpGte = "gte"
	OpLt  = "lt"
	OpLte = "lte"
)

// Condition is a tagged variant selected by Type. Only the members relevant
// to Type are read.
type Condition struct {
	Type string `json:"type"`

	// field_equals, field_not_equals, field_compare, field_compare_value
	Field string `json:"field,omitempty"`
	// literal for field_equals, field_not_equals and field_compare_value
	Value any `json:"value,omitempty"`
	// right-hand field for field_compare
	Other string `json:"other,omitempty"`
	Op    string `json:"op,omitempty"`

	// and, or
	Conditions []Condition `json:"conditions,omitempty"`
	// not
	Condition *Condition `json:"condition,omitempty"`

	// cel; the record is bound to the variable "record"
	Expression string `json:"expression,omitempty"`
}

// Calculation is a tagged variant selected by Type.
type Calculation struct {
	Type    string  `json:"type"`
	Field   string  `json:"field,omitempty"`
	Divisor float64 `json:"divisor,omitempty"`
	Factor  float64 `json:"factor,omitempty"`
	Amount  int64   `json:"amount,omitempty"`
}

type EligibilityRule struct {
	ID          string    `json:"id"`
	Condition   Condition `json:"condition"`
	Description string    `json:"description,omitempty"`
}

type AccrualRule struct {
	ID          string      `json:"id"`
	Condition   Condition   `json:"condition"`
	Calculation Calculation `json:"calculation"`
	Description string      `json:"description,omitempty"`
}

// RuleSet is the declarative rule definition attached to a campaign.
type RuleSet struct {
	Eligibility []EligibilityRule `json:"eligibility"`
	Accrual     []AccrualRule     `json:"accrual"`
}

// Empty reports whether the set carries no rules at all.
func (rs RuleSet) Empty() bool {
	return len(rs.Eligibility) == 0 && len(rs.Accrual) == 0
}

// Equals builds a field_equals condition.
func Equals(field string, value any) Condition {
	return Condition{Type: TypeFieldEquals, Field: field, Value: value}
}

// NotEquals builds a field_not_equals condition.
func NotEquals(field string, value any) Condition {
	return Condition{Type: TypeFieldNotEquals, Field: field, Value: value}
}

// Compare builds a field_compare condition between two fields.
func Compare(field, op, other string) Condition {
	return Condition{Type: TypeFieldCompare, Field: field, Op: op, Other: other}
}

// CompareValue builds a field_compare_value condition.
func CompareValue(field, op string, value float64) Condition {
	return Condition{Type: TypeFieldCompareValue, Field: field, Op: op, Value: value}
}

func And(conds ...Condition) Condition { return Condition{Type: TypeAnd, Conditions: conds} }

func Or(conds ...Condition) Condition { return Condition{Type: TypeOr, Conditions: conds} }

func Not(c Condition) Condition { return Condition{Type: TypeNot, Condition: &c} }

func Always() Condition { return Condition{Type: TypeAlways} }

func CEL(expr string) Condition { return Condition{Type: TypeCEL, Expression: expr} }
