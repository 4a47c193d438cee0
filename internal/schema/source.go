package schema

import (
	"context"
	"database/sql"
	"fmt"
)

const informationSchemaQuery = `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

// SQLSource reads the catalog from information_schema.columns.
type SQLSource struct {
	db     *sql.DB
	schema string
}

func NewSQLSource(db *sql.DB, schema string) *SQLSource {
	if schema == "" {
		schema = "public"
	}
	return &SQLSource{db: db, schema: schema}
}

func (s *SQLSource) FetchColumns(ctx context.Context) ([]Column, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("catalog database is not configured")
	}
	rows, err := s.db.QueryContext(ctx, informationSchemaQuery, s.schema)
	if err != nil {
		return nil, fmt.Errorf("query information_schema.columns: %w", err)
	}
	defer rows.Close()

	columns := make([]Column, 0)
	for rows.Next() {
		var column Column
		if err := rows.Scan(&column.TableName, &column.ColumnName, &column.DataType); err != nil {
			return nil, fmt.Errorf("scan information_schema.columns: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate information_schema.columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("schema %q has no columns", s.schema)
	}
	return columns, nil
}
