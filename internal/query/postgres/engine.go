package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/querydesk/querydesk/internal/query"
)

// Engine runs validated SELECT statements inside a read-only transaction.
type Engine struct {
	db               *sql.DB
	statementTimeout time.Duration
}

func NewEngine(db *sql.DB, statementTimeout time.Duration) *Engine {
	return &Engine{db: db, statementTimeout: statementTimeout}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.db == nil {
		return query.Result{}, fmt.Errorf("database is not configured")
	}

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if e.statementTimeout > 0 {
		timeoutSQL := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, timeoutSQL); err != nil {
			return query.Result{}, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, request.SQL)
	if err != nil {
		return query.Result{}, query.ExecutionFailed(err)
	}
	defer func() { _ = rows.Close() }()

	result, err := query.ScanRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, query.ExecutionFailed(err)
	}
	result.Duration = time.Since(start)
	return result, nil
}
