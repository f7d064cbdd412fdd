// Package transform maps raw source rows onto the canonical record shape.
package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"incentive-pipeline/pkg/errutil"
	"incentive-pipeline/services/pipeline"
)

// ParticipantField is the canonical field every record must carry.
const ParticipantField = "participantId"

// Derived functions.
const (
	FuncPointsFromAmount = "points_from_amount"
	FuncCeilDiv          = "ceil_div"
	FuncRound            = "round"
	FuncToNumber         = "to_number"
	FuncCopy             = "copy"
)

// Record is a canonical field map.
type Record map[string]any

// ParticipantID returns the participant reference as a string.
func (r Record) ParticipantID() string {
	return strings.TrimSpace(cast.ToString(r[ParticipantField]))
}

type DerivedField struct {
	Name    string  `json:"name"`
	Func    string  `json:"func"`
	Source  string  `json:"source"`
	Divisor float64 `json:"divisor,omitempty"`
}

// MappingSpec renames source columns and derives extra fields. Columns that
// are neither renamed nor listed in Keep are dropped unless KeepUnmapped is
// set.
type MappingSpec struct {
	Fields       map[string]string `json:"fields"`
	Keep         []string          `json:"keep,omitempty"`
	KeepUnmapped bool              `json:"keep_unmapped,omitempty"`
	Derived      []DerivedField    `json:"derived,omitempty"`
}

// Validate checks the mapping before any row is read.
func (m MappingSpec) Validate() error {
	var details []errutil.Detail
	produces := false
	for src, dst := range m.Fields {
		if src == "" || dst == "" {
			details = append(details, errutil.Detail{Field: "fields", Message: "empty column or field name"})
		}
		if dst == ParticipantField {
			produces = true
		}
	}
	for _, k := range m.Keep {
		if k == ParticipantField {
			produces = true
		}
	}
	if m.KeepUnmapped {
		produces = true
	}
	for i, d := range m.Derived {
		path := fmt.Sprintf("derived[%d]", i)
		if d.Name == "" {
			details = append(details, errutil.Detail{Field: path + ".name", Message: "name is required"})
		}
		switch d.Func {
		case FuncPointsFromAmount, FuncCeilDiv:
			if d.Divisor <= 0 {
				details = append(details, errutil.Detail{Field: path + ".divisor", Message: "divisor must be positive"})
			}
		case FuncRound, FuncToNumber, FuncCopy:
		default:
			details = append(details, errutil.Detail{Field: path + ".func", Message: fmt.Sprintf("unknown function %q", d.Func)})
		}
		if d.Source == "" {
			details = append(details, errutil.Detail{Field: path + ".source", Message: "source is required"})
		}
	}
	if !produces {
		details = append(details, errutil.Detail{Field: "fields", Message: "no column maps to " + ParticipantField})
	}

	if len(details) > 0 {
		return pipeline.Configuration("invalid field mapping", nil, errutil.WithDetails(details...))
	}
	return nil
}

// Transform renames the row's columns, applies the derived calculations and
// requires a participant reference. A row without one fails alone with a
// transform error.
func Transform(raw map[string]any, spec MappingSpec) (Record, error) {
	out := make(Record, len(spec.Fields)+len(spec.Derived))

	if spec.KeepUnmapped {
		for k, v := range raw {
			out[k] = v
		}
	}
	for _, k := range spec.Keep {
		if v, ok := raw[k]; ok {
			out[k] = v
		}
	}
	for src, dst := range spec.Fields {
		if v, ok := raw[src]; ok {
			if spec.KeepUnmapped && src != dst {
				delete(out, src)
			}
			out[dst] = v
		}
	}

	for _, d := range spec.Derived {
		out[d.Name] = derive(out, d)
	}

	pid := out.ParticipantID()
	if pid == "" {
		return nil, pipeline.Transform("row has no participant reference", nil,
			errutil.WithDetails(errutil.Detail{Field: ParticipantField, Message: "missing or empty"}))
	}
	out[ParticipantField] = pid

	return out, nil
}

// derive returns 0 for anything it cannot resolve.
func derive(rec Record, d DerivedField) any {
	v, ok := rec[d.Source]
	if !ok || v == nil {
		return 0
	}

	if d.Func == FuncCopy {
		return v
	}

	n, ok := number(v)
	if !ok {
		return 0
	}

	switch d.Func {
	case FuncToNumber:
		return n
	case FuncRound:
		return int64(math.Round(n))
	case FuncPointsFromAmount:
		if d.Divisor <= 0 {
			return 0
		}
		return int64(math.Floor(n / d.Divisor))
	case FuncCeilDiv:
		if d.Divisor <= 0 {
			return 0
		}
		return int64(math.Ceil(n / d.Divisor))
	}
	return 0
}

func number(v any) (float64, bool) {
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	n, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
