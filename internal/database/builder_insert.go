package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/voxelforge/hostdb/pkg/scheduler"
)

// InsertBuilder accumulates an INSERT statement: column list, one or
// more value rows, an optional upsert clause and an optional RETURNING
// clause.
type InsertBuilder struct {
	db *Database

	table          string
	columns        []string
	rows           [][]any
	conflictTarget string
	conflictSet    map[string]any
	returning      []string
}

// InsertInto starts an INSERT builder bound to this database.
func (d *Database) InsertInto(table string) *InsertBuilder {
	return &InsertBuilder{db: d, table: table}
}

func (b *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	b.columns = append(b.columns, columns...)
	return b
}

// Values appends one value row. Call repeatedly for multi-row inserts.
func (b *InsertBuilder) Values(values ...any) *InsertBuilder {
	b.rows = append(b.rows, values)
	return b
}

// OnConflictUpdate adds an upsert clause: on conflict over target
// (a column list such as "id"), assign the given columns. Assignment
// order in the rendered SQL is sorted by column name so output is
// deterministic.
func (b *InsertBuilder) OnConflictUpdate(target string, set map[string]any) *InsertBuilder {
	b.conflictTarget = target
	b.conflictSet = set
	return b
}

// Returning appends a RETURNING clause for drivers that support it.
func (b *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	b.returning = append(b.returning, columns...)
	return b
}

// ToSQL renders the statement and its aligned parameter list.
func (b *InsertBuilder) ToSQL() (string, []any, error) {
	if b.table == "" {
		return "", nil, fmt.Errorf("insert builder has no table")
	}
	if len(b.columns) == 0 {
		return "", nil, fmt.Errorf("insert builder has no columns")
	}
	if len(b.rows) == 0 {
		return "", nil, fmt.Errorf("insert builder has no value rows")
	}
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			return "", nil, fmt.Errorf("value row %d has %d values for %d columns", i, len(row), len(b.columns))
		}
	}

	var sb strings.Builder
	var params []any

	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(b.columns, ", "))
	sb.WriteString(") VALUES ")

	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", ") + ")"
	rowFrags := make([]string, len(b.rows))
	for i, row := range b.rows {
		rowFrags[i] = placeholderRow
		params = append(params, row...)
	}
	sb.WriteString(strings.Join(rowFrags, ", "))

	if b.conflictTarget != "" && len(b.conflictSet) > 0 {
		cols := make([]string, 0, len(b.conflictSet))
		for c := range b.conflictSet {
			cols = append(cols, c)
		}
		sort.Strings(cols)

		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET ", b.conflictTarget)
		assigns := make([]string, len(cols))
		for i, c := range cols {
			assigns[i] = c + " = ?"
			params = append(params, b.conflictSet[c])
		}
		sb.WriteString(strings.Join(assigns, ", "))
	}

	if len(b.returning) > 0 {
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(b.returning, ", "))
	}

	query := sb.String()
	if got := countPlaceholders(query); got != len(params) {
		return "", nil, fmt.Errorf("placeholder count %d does not match parameter count %d", got, len(params))
	}
	return query, params, nil
}

// Exec executes the built statement and returns the affected-row count.
func (b *InsertBuilder) Exec(ctx context.Context) (int64, error) {
	query, params, err := b.ToSQL()
	if err != nil {
		return 0, err
	}
	return b.db.Exec(ctx, query, params...)
}

// ExecAsync executes the built statement on the database's scheduler.
func (b *InsertBuilder) ExecAsync() *scheduler.Future[scheduler.Result[any]] {
	return b.db.sched.AddWork(func(workCtx context.Context) (any, error) {
		return b.Exec(workCtx)
	})
}
