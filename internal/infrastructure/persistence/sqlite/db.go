package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"go.uber.org/zap"
)

type contextKey string

const txKey contextKey = "tx"

// DB wraps sql.DB and implements TransactionManager
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     sqlDB,
		logger: logger,
	}
}

// WithTransaction runs fn inside one transaction carried by the context.
// A context that already holds a transaction joins it instead of opening another.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if extractTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			db.rollback(tx, "panic")
			panic(p)
		}
		if err != nil {
			db.rollback(tx, "error")
			return
		}
		if err = tx.Commit(); err != nil {
			db.logger.Error("Failed to commit transaction", zap.Error(err))
			err = fmt.Errorf("failed to commit transaction: %w", err)
			return
		}
		db.logger.Debug("Transaction committed", zap.Duration("elapsed", time.Since(started)))
	}()

	return fn(context.WithValue(ctx, txKey, tx))
}

func (db *DB) rollback(tx *sql.Tx, reason string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		db.logger.Error("Failed to rollback transaction", zap.String("reason", reason), zap.Error(err))
		return
	}
	db.logger.Debug("Transaction rolled back", zap.String("reason", reason))
}

// ResetAll deletes every row of the domain tables and restarts their id sequences
func (db *DB) ResetAll(ctx context.Context) error {
	tables := []string{
		"audit_logs",
		"special_review_items",
		"special_reviews",
		"expense_items",
		"expense_reports",
		"users",
	}

	return db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := ExecutorFrom(ctx, db.DB)
		for _, table := range tables {
			if _, err := exec.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		if _, err := exec.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
			return fmt.Errorf("failed to reset sequences: %w", err)
		}
		db.logger.Info("All data reset")
		return nil
	})
}

// extractTx retrieves transaction from context if present
func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ExecutorFrom returns the transaction opened by WithTransaction when ctx carries one, else db
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db
}

// Verify interface compliance
var (
	_ port.TransactionManager = (*DB)(nil)
	_ port.DataResetter       = (*DB)(nil)
)
