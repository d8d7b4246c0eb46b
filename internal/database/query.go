package database

import (
	"strings"
)

// QueryBuilder rewrites the "?" placeholders every quest, ledger and mail
// query is written with into the active dialect's bind syntax.
type QueryBuilder struct {
	dialect Dialect
}

// NewQueryBuilder creates a QueryBuilder for dialect.
func NewQueryBuilder(dialect Dialect) *QueryBuilder {
	return &QueryBuilder{dialect: dialect}
}

// Build numbers the placeholders of query for PostgreSQL and returns SQLite
// queries untouched:
//
//	SELECT items FROM ledger_remainders WHERE grant_id = ?
//	SELECT items FROM ledger_remainders WHERE grant_id = $1
//
// Queries must not contain a literal '?'.
func (qb *QueryBuilder) Build(query string) string {
	if _, ok := qb.dialect.(*SQLiteDialect); ok {
		return query
	}

	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}

	var result strings.Builder
	result.Grow(len(query) + 2*n)
	position := 1
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			result.WriteByte(query[i])
			continue
		}
		result.WriteString(qb.dialect.Placeholder(position))
		position++
	}
	return result.String()
}
