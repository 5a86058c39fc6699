package warehouse

import (
	"context"
	"fmt"
)

// ColumnInfo describes one column of an analytics table.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableInfo describes one table and its columns.
type TableInfo struct {
	TableName string       `json:"table_name"`
	Columns   []ColumnInfo `json:"columns"`
}

// Tables lists the tables of a schema from information_schema, grouped with
// their columns in ordinal order.
func (e *Executor) Tables(ctx context.Context, schema string) ([]TableInfo, error) {
	const query = `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`

	rows, err := e.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables for schema %s: %w", schema, err)
	}
	defer rows.Close()

	var tables []TableInfo
	index := make(map[string]int)
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		i, ok := index[table]
		if !ok {
			i = len(tables)
			index[table] = i
			tables = append(tables, TableInfo{TableName: table})
		}
		tables[i].Columns = append(tables[i].Columns, ColumnInfo{
			Name:     column,
			Type:     dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column info: %w", err)
	}
	return tables, nil
}
