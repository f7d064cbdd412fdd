package option

import (
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption decorates a gorm query before it is executed.
type QueryOption func(*gorm.DB) *gorm.DB

var columnName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow whitelists sortable columns. Empty means only SortBy itself.
	Allow map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		sortBy := s.SortBy
		if sortBy == "" {
			sortBy = "created_at"
		}
		if len(s.Allow) > 0 && !s.Allow[sortBy] {
			return db
		}
		if !columnName.MatchString(sortBy) {
			return db
		}
		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: sortBy}, Desc: desc})
	}
}

// WithOrder appends several ascending sort columns, in order.
func WithOrder(columns ...string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range columns {
			if columnName.MatchString(c) {
				db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: c}})
			}
		}
		return db
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

type Operator string

const (
	EQ  Operator = "="
	NE  Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds every condition as an AND-ed where clause. Conditions
// with an unknown operator or a malformed column are ignored.
func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			if !columnName.MatchString(c.Field) {
				continue
			}
			switch c.Operator {
			case EQ, NE, GT, GTE, LT, LTE:
				db = db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
			case IN:
				db = db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
			}
		}
		return db
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate is a gorm scope adding SELECT ... FOR UPDATE.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		if opt != nil {
			db = opt(db)
		}
	}
	return db
}
