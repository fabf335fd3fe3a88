package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// aggregate describes one chart query. Every chart renders through
// sql so the filter predicate lands in the same place for all of
// them.
type aggregate struct {
	name    string   // chart name, used in error messages
	from    string   // FROM body, joins included
	cols    []string // select list
	groupBy string
	orderBy string
	limit   int // 0 = unlimited
	// wrap, when set, turns the grouped query into a subquery and
	// selects wrap over it.
	wrap string
}

// monthOf returns the grouping key for a date expression.
func monthOf(expr string) string {
	return "strftime('%Y-%m', " + expr + ")"
}

// sql renders the statement for a predicate produced by one of the
// filter builders.
func (a aggregate) sql(pred string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(a.cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(a.from)
	b.WriteString(whereClause(pred))
	if a.groupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(a.groupBy)
	}
	if a.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(a.orderBy)
	}
	if a.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(a.limit))
	}
	if a.wrap != "" {
		return "SELECT " + a.wrap + " FROM (" + b.String() + ")"
	}
	return b.String()
}

// runAggregate executes a chart query on a dedicated connection and
// hands each row to scan.
func (db *DB) runAggregate(
	ctx context.Context,
	a aggregate,
	pred string,
	args []any,
	scan func(rows *sql.Rows) error,
) error {
	query := a.sql(pred)
	return db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying %s: %w", a.name, err)
		}
		defer rows.Close()

		for rows.Next() {
			if err := scan(rows); err != nil {
				return fmt.Errorf("scanning %s: %w", a.name, err)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating %s: %w", a.name, err)
		}
		return nil
	})
}
