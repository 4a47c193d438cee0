package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrExecutionFailed = errors.New("query execution failed")

// Row maps column names to scanned values.
type Row map[string]any

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns   []string
	Rows      []Row
	Truncated bool
	Duration  time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ExecutionError carries the backend message unchanged. It matches
// ErrExecutionFailed with errors.Is.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

func ExecutionFailed(err error) error {
	if err == nil {
		return nil
	}
	var existing *ExecutionError
	if errors.As(err, &existing) {
		return err
	}
	return &ExecutionError{Err: err}
}

// ScanRows reads at most limit rows. When more rows are available the result
// is marked truncated. A limit <= 0 reads everything.
func ScanRows(rows *sql.Rows, limit int) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([]Row, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = NormalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// NormalizeValue converts driver specific values into JSON friendly ones.
func NormalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	default:
		return typed
	}
}
