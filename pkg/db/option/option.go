package option

import (
	"fmt"
	"strings"
	"time"

	"misp-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption is a gorm scope applied before a repository query runs.
type QueryOption func(*gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// ApplyPagination limits the result set. One extra row is fetched so callers
// can tell whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if p.Limit <= 0 {
			return db
		}
		return db.Limit(p.Limit + 1)
	}
}

// WithSortBy orders by SortBy when it is allow-listed, falling back to created_at.
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "created_at"
		if s.SortBy != "" && (s.Allow == nil || s.Allow[s.SortBy]) {
			column = s.SortBy
		}
		desc := !strings.EqualFold(s.OrderBy, "asc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	}
}

// WithCursor keeps rows strictly after (createdAt, id) in descending order.
func WithCursor(createdAt time.Time, id, idColumn string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if createdAt.IsZero() {
			return db
		}
		return db.Where(fmt.Sprintf("(created_at < ?) OR (created_at = ? AND %s < ?)", idColumn), createdAt, createdAt, id)
	}
}

// WithWhere adds a raw condition.
func WithWhere(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate issues SELECT ... FOR UPDATE on dialects that support it.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds `field <op> value`. Unknown operators fall back to equality.
func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		op := c.Operator
		switch op {
		case EQ, NEQ, GT, GTE, LT, LTE:
		default:
			op = EQ
		}
		return db.Where(clause.Expr{
			SQL:  fmt.Sprintf("%s %s ?", c.Field, op),
			Vars: []any{c.Value},
		})
	}
}

// WithNull filters rows where field IS NULL.
func WithNull(field string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(fmt.Sprintf("%s IS NULL", field))
	}
}
