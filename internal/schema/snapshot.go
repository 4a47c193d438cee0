package schema

import (
	"fmt"
	"time"
)

// Column is one catalog entry. The JSON tags define the persisted cache format.
type Column struct {
	TableName  string `json:"table_name"`
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
}

type Table struct {
	Name    string
	Columns []Column
}

// Snapshot is an immutable catalog. Accessors return copies.
type Snapshot struct {
	columns     []Column
	publishedAt time.Time
	initialized bool
}

// Uninitialized is returned by Store.Current until a snapshot is published.
var Uninitialized = &Snapshot{}

// NewSnapshot groups columns by table, keeping first-seen table order and the
// source order of columns inside each table. A repeated (table, column) pair
// is rejected.
func NewSnapshot(columns []Column, publishedAt time.Time) (*Snapshot, error) {
	type key struct{ table, column string }
	seen := make(map[key]struct{}, len(columns))
	byTable := make(map[string][]Column)
	order := make([]string, 0)
	for i, column := range columns {
		if column.TableName == "" || column.ColumnName == "" {
			return nil, fmt.Errorf("column %d: table and column names are required", i)
		}
		k := key{column.TableName, column.ColumnName}
		if _, ok := seen[k]; ok {
			return nil, fmt.Errorf("duplicate column %s.%s", column.TableName, column.ColumnName)
		}
		seen[k] = struct{}{}
		if _, ok := byTable[column.TableName]; !ok {
			order = append(order, column.TableName)
		}
		byTable[column.TableName] = append(byTable[column.TableName], column)
	}

	grouped := make([]Column, 0, len(columns))
	for _, table := range order {
		grouped = append(grouped, byTable[table]...)
	}
	return &Snapshot{
		columns:     grouped,
		publishedAt: publishedAt.UTC(),
		initialized: true,
	}, nil
}

func (s *Snapshot) Initialized() bool {
	return s != nil && s.initialized
}

func (s *Snapshot) PublishedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.publishedAt
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.columns)
}

func (s *Snapshot) Columns() []Column {
	if s == nil {
		return nil
	}
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

func (s *Snapshot) Tables() []Table {
	if s == nil {
		return nil
	}
	tables := make([]Table, 0)
	for _, column := range s.columns {
		if n := len(tables); n > 0 && tables[n-1].Name == column.TableName {
			tables[n-1].Columns = append(tables[n-1].Columns, column)
			continue
		}
		tables = append(tables, Table{Name: column.TableName, Columns: []Column{column}})
	}
	return tables
}

func (s *Snapshot) HasTable(name string) bool {
	if s == nil {
		return false
	}
	for _, column := range s.columns {
		if column.TableName == name {
			return true
		}
	}
	return false
}
