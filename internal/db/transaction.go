package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Transaction represents a database transaction
type Transaction struct {
	tx *sql.Tx
	db *Database
}

// TransactionFunc is the body of WithTransaction.
type TransactionFunc func(tx *Transaction) error

// Execute executes a non-query SQL statement
func (tx *Transaction) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	result, err := tx.tx.ExecContext(ctx, query, args...)
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

// Query executes a query and returns a result set
func (tx *Transaction) Query(ctx context.Context, query string, args ...any) (*ResultSet, error) {
	rows, err := tx.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return ConvertSQLRowToResultSet(rows)
}

// Commit commits the transaction
func (tx *Transaction) Commit() error {
	return tx.tx.Commit()
}

// Rollback rolls back the transaction
func (tx *Transaction) Rollback() error {
	return tx.tx.Rollback()
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (db *Database) WithTransaction(ctx context.Context, fn TransactionFunc) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}
