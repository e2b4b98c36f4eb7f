package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxelforge/hostdb/pkg/scheduler"
)

// DeleteBuilder accumulates a DELETE statement.
type DeleteBuilder struct {
	db *Database

	table string
	conds conditions
}

// DeleteFrom starts a DELETE builder bound to this database.
func (d *Database) DeleteFrom(table string) *DeleteBuilder {
	return &DeleteBuilder{db: d, table: table}
}

func (b *DeleteBuilder) Where(column, operator string, value any) *DeleteBuilder {
	b.conds.add("AND", column, operator, value)
	return b
}

func (b *DeleteBuilder) WhereExpr(expr string) *DeleteBuilder {
	b.conds.addExpr("AND", expr)
	return b
}

func (b *DeleteBuilder) And(column, operator string, value any) *DeleteBuilder {
	b.conds.add("AND", column, operator, value)
	return b
}

func (b *DeleteBuilder) Or(column, operator string, value any) *DeleteBuilder {
	b.conds.add("OR", column, operator, value)
	return b
}

// ToSQL renders the statement and its aligned parameter list. A DELETE
// without conditions renders, but the validator flags it downstream.
func (b *DeleteBuilder) ToSQL() (string, []any, error) {
	if b.conds.err != nil {
		return "", nil, b.conds.err
	}
	if b.table == "" {
		return "", nil, fmt.Errorf("delete builder has no table")
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.table)
	b.conds.render(&sb)

	query := sb.String()
	params := append([]any(nil), b.conds.params...)

	if got := countPlaceholders(query); got != len(params) {
		return "", nil, fmt.Errorf("placeholder count %d does not match parameter count %d", got, len(params))
	}
	return query, params, nil
}

// Exec executes the built statement and returns the affected-row count.
func (b *DeleteBuilder) Exec(ctx context.Context) (int64, error) {
	query, params, err := b.ToSQL()
	if err != nil {
		return 0, err
	}
	return b.db.Exec(ctx, query, params...)
}

// ExecAsync executes the built statement on the database's scheduler.
func (b *DeleteBuilder) ExecAsync() *scheduler.Future[scheduler.Result[any]] {
	return b.db.sched.AddWork(func(workCtx context.Context) (any, error) {
		return b.Exec(workCtx)
	})
}
