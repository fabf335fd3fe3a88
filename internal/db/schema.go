package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Column mirrors one row of PRAGMA table_info.
type Column struct {
	CID       int     `json:"cid"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	NotNull   int     `json:"notnull"`
	DfltValue *string `json:"dflt_value"`
	PK        int     `json:"pk"`
}

// GetSchema returns the columns of every dataset table. A table the
// loader has not created maps to an empty column list.
func (db *DB) GetSchema(
	ctx context.Context,
) (map[string][]Column, error) {
	schema := make(map[string][]Column, len(Tables))
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		for _, table := range Tables {
			cols, err := tableInfo(ctx, conn, table)
			if err != nil {
				return err
			}
			schema[table] = cols
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// tableInfo reads PRAGMA table_info. table must be one of Tables;
// pragma arguments cannot be bound.
func tableInfo(
	ctx context.Context, conn *sql.Conn, table string,
) ([]Column, error) {
	rows, err := conn.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := []Column{}
	for rows.Next() {
		var c Column
		var dflt sql.NullString
		if err := rows.Scan(
			&c.CID, &c.Name, &c.Type, &c.NotNull, &dflt, &c.PK,
		); err != nil {
			return nil, fmt.Errorf("scanning table_info %s: %w",
				table, err)
		}
		if dflt.Valid {
			c.DfltValue = &dflt.String
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating table_info %s: %w",
			table, err)
	}
	return cols, nil
}
