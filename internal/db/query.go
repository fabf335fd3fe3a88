package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrNotSelect is returned by QueryReadOnly for statements that do
// not start with SELECT.
var ErrNotSelect = errors.New("only SELECT statements are allowed")

// isSelect reports whether the first keyword of query is SELECT.
func isSelect(query string) bool {
	q := strings.TrimSpace(query)
	if len(q) < len("select") {
		return false
	}
	if !strings.EqualFold(q[:len("select")], "select") {
		return false
	}
	// "selection" is not a keyword match.
	if len(q) == len("select") {
		return true
	}
	rest := q[len("select"):]
	r, _ := utf8.DecodeRuneInString(rest)
	return unicode.IsSpace(r) || r == '*' || r == '(' ||
		strings.HasPrefix(rest, "/*") || strings.HasPrefix(rest, "--")
}

// QueryReadOnly runs an ad-hoc SELECT and returns each row as a
// column->value map. Anything other than a SELECT is rejected with
// ErrNotSelect before storage is touched.
func (db *DB) QueryReadOnly(
	ctx context.Context, query string,
) ([]map[string]any, error) {
	if !isSelect(query) {
		return nil, ErrNotSelect
	}

	out := []map[string]any{}
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("executing query: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("reading columns: %w", err)
		}

		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			row := make(map[string]any, len(cols))
			for i, c := range cols {
				if b, ok := vals[i].([]byte); ok {
					row[c] = string(b)
				} else {
					row[c] = vals[i]
				}
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SalesByCategory returns total line-item revenue for a product
// category. Unknown categories yield 0.
func (db *DB) SalesByCategory(
	ctx context.Context, category string,
) (float64, error) {
	var total float64
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			`SELECT IFNULL(SUM(oi.qty * oi.unit_price), 0)
			 FROM order_items oi
			 JOIN products p ON oi.product_id = p.product_id
			 WHERE p.category = ?`,
			category,
		).Scan(&total)
	})
	if err != nil {
		return 0, fmt.Errorf("sales by category: %w", err)
	}
	return money(total), nil
}
