package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querydesk/querydesk/internal/query"
	"github.com/querydesk/querydesk/internal/schema"
	"github.com/querydesk/querydesk/internal/storage"
)

const attachedCatalog = "source_db"

type Config struct {
	// Path is an existing DuckDB database file, attached read-only.
	Path string
	// Tables are parquet objects exposed as views, several files per table allowed.
	Tables []TableFile
}

type TableFile struct {
	TableName  string
	ObjectPath string
}

// Engine serves the DuckDB backend. Every table is a view in the in-memory
// main schema, backed either by the attached database file or by parquet
// files copied from the object store.
type Engine struct {
	db      *sql.DB
	workDir string
}

func Open(ctx context.Context, cfg Config, store storage.ObjectStore) (*Engine, error) {
	if strings.TrimSpace(cfg.Path) == "" && len(cfg.Tables) == 0 {
		return nil, fmt.Errorf("duckdb backend needs a database path or parquet tables")
	}
	if len(cfg.Tables) > 0 && store == nil {
		return nil, fmt.Errorf("object store is required for parquet tables")
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	engine := &Engine{db: db}

	if path := strings.TrimSpace(cfg.Path); path != "" {
		if err := engine.attach(ctx, path); err != nil {
			_ = engine.Close()
			return nil, err
		}
	}
	if len(cfg.Tables) > 0 {
		if err := engine.loadParquet(ctx, store, cfg.Tables); err != nil {
			_ = engine.Close()
			return nil, err
		}
	}
	return engine, nil
}

func (e *Engine) attach(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("duckdb database %q: %w", path, err)
	}
	attachSQL := fmt.Sprintf(`ATTACH %s AS %s (READ_ONLY)`, quoteString(path), attachedCatalog)
	if _, err := e.db.ExecContext(ctx, attachSQL); err != nil {
		return fmt.Errorf("attach duckdb database %q: %w", path, err)
	}

	rows, err := e.db.QueryContext(ctx, `
SELECT table_name
FROM information_schema.tables
WHERE table_catalog = ? AND table_schema = 'main'
ORDER BY table_name`, attachedCatalog)
	if err != nil {
		return fmt.Errorf("list attached tables: %w", err)
	}
	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan attached table: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("list attached tables: %w", err)
	}

	for _, table := range tables {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM %s.main.%s`, quoteIdent(table), attachedCatalog, quoteIdent(table))
		if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", table, err)
		}
	}
	return nil
}

func (e *Engine) loadParquet(ctx context.Context, store storage.ObjectStore, files []TableFile) error {
	workDir, err := os.MkdirTemp("", "querydesk-duckdb-")
	if err != nil {
		return fmt.Errorf("create duckdb temp dir: %w", err)
	}
	e.workDir = workDir

	groupedPaths := map[string][]string{}
	for index, file := range files {
		reader, err := store.Get(ctx, file.ObjectPath)
		if err != nil {
			return fmt.Errorf("get object %q: %w", file.ObjectPath, err)
		}

		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.TableName), index))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			return fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return fmt.Errorf("close object %q: %w", file.ObjectPath, err)
		}
		groupedPaths[file.TableName] = append(groupedPaths[file.TableName], localPath)
	}

	tableNames := make([]string, 0, len(groupedPaths))
	for tableName := range groupedPaths {
		tableNames = append(tableNames, tableName)
	}
	sort.Strings(tableNames)
	for _, tableName := range tableNames {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(tableName), quoteStringArray(groupedPaths[tableName]))
		if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for table %q: %w", tableName, err)
		}
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit+1)
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
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

// FetchColumns lists the columns of every exposed view.
func (e *Engine) FetchColumns(ctx context.Context) ([]schema.Column, error) {
	rows, err := e.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_catalog = current_database() AND table_schema = 'main'
ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("query duckdb columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]schema.Column, 0)
	for rows.Next() {
		var column schema.Column
		if err := rows.Scan(&column.TableName, &column.ColumnName, &column.DataType); err != nil {
			return nil, fmt.Errorf("scan duckdb column: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duckdb columns: %w", err)
	}
	return columns, nil
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *Engine) Close() error {
	err := e.db.Close()
	if e.workDir != "" {
		_ = os.RemoveAll(e.workDir)
	}
	return err
}

// ParseTables reads "table=object/key.parquet,table=other.parquet".
func ParseTables(raw string) ([]TableFile, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	files := make([]TableFile, 0)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tableName, objectPath, ok := strings.Cut(entry, "=")
		tableName = strings.TrimSpace(tableName)
		objectPath = strings.TrimSpace(objectPath)
		if !ok || tableName == "" || objectPath == "" {
			return nil, fmt.Errorf("invalid table mapping %q: want table=object/key.parquet", entry)
		}
		cleaned, err := storage.CleanKey(objectPath)
		if err != nil {
			return nil, err
		}
		files = append(files, TableFile{TableName: tableName, ObjectPath: cleaned})
	}
	return files, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
