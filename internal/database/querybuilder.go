package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// QueryBuilder wraps sqlx so queries can be written with ? placeholders for every driver.
type QueryBuilder struct {
	db *sqlx.DB
}

// NewQueryBuilder wraps an existing connection.
func NewQueryBuilder(db *sqlx.DB) *QueryBuilder {
	return &QueryBuilder{db: db}
}

// Rebind converts ? placeholders into the bind style of the connected driver.
func (qb *QueryBuilder) Rebind(query string) string {
	return qb.db.Rebind(query)
}

// GetContext executes a query expecting a single row and scans it into dest.
func (qb *QueryBuilder) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return qb.db.GetContext(ctx, dest, qb.Rebind(query), args...)
}

// ExecContext executes a statement without returning rows.
func (qb *QueryBuilder) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return qb.db.ExecContext(ctx, qb.Rebind(query), args...)
}
