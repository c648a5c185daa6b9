package option

import (
	"fmt"
	"strings"

	"github.com/mihaildragos/social-proof-app-sub000/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// Operator is a comparison operator for ApplyOperator conditions.
type Operator string

const (
	EQ  Operator = "="
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

// ApplyOperator adds a single comparison condition to the query.
func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(cond.Field)
		if field == "" {
			return db
		}
		return db.Where(fmt.Sprintf("%s %s ?", field, cond.Operator), cond.Value)
	})
}

// ApplyPagination applies cursor pagination. One extra row is fetched so the
// caller can detect whether more pages exist.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := p.PageSize
		if size <= 0 {
			size = 10
		}
		db = db.Limit(size + 1)

		token := strings.TrimSpace(p.PageToken)
		if token == "" {
			return db
		}
		cursor, err := pagination.DecodeCursor(token)
		if err != nil || cursor == nil {
			return db
		}
		if cursor.CreatedAt != "" {
			db = db.Where("created_at <= ?", cursor.CreatedAt)
		}
		if cursor.ID != "" {
			db = db.Where("id < ?", cursor.ID)
		}
		return db
	})
}

// QuerySortBy describes a requested ordering against an allow-list.
type QuerySortBy struct {
	Field string
	Desc  bool
	Allow map[string]bool
}

// WithQuerySortBy validates the requested field against the allow-list.
func WithQuerySortBy(field, direction string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{
		Field: strings.TrimSpace(field),
		Desc:  strings.EqualFold(strings.TrimSpace(direction), "desc"),
		Allow: allow,
	}
}

// WithSortBy applies the ordering if the field is allowed.
func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		field := sort.Field
		if field == "" {
			field = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[field] {
			return db
		}
		direction := "asc"
		if sort.Desc {
			direction = "desc"
		}
		return db.Order(fmt.Sprintf("%s %s", field, direction))
	})
}
