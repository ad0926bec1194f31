package db

import (
	"context"
)

// Result represents the outcome of a non-query statement
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Execute executes a non-query SQL statement
func (db *Database) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	result, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	rowsAffected, _ := result.RowsAffected()
	lastInsertID, _ := result.LastInsertId()

	return &Result{
		RowsAffected: rowsAffected,
		LastInsertID: lastInsertID,
	}, nil
}

// Query executes a query and returns result set
func (db *Database) Query(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return ConvertSQLRowToResultSet(rows)
}

// QueryRow executes a query and returns its first row. ErrNoRows is
// returned when the query yields nothing.
func (db *Database) QueryRow(ctx context.Context, query string, args ...any) (*Row, error) {
	rs, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 {
		return nil, ErrNoRows
	}
	return &rs.Rows[0], nil
}
