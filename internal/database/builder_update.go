package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxelforge/hostdb/pkg/scheduler"
)

// UpdateBuilder accumulates an UPDATE statement: SET assignments in
// call order, then WHERE conditions.
type UpdateBuilder struct {
	db *Database

	table     string
	setCols   []string
	setParams []any
	conds     conditions
}

// Update starts an UPDATE builder bound to this database.
func (d *Database) Update(table string) *UpdateBuilder {
	return &UpdateBuilder{db: d, table: table}
}

// Set appends one "column = ?" assignment and binds value.
func (b *UpdateBuilder) Set(column string, value any) *UpdateBuilder {
	b.setCols = append(b.setCols, column+" = ?")
	b.setParams = append(b.setParams, value)
	return b
}

// SetExpr appends a raw assignment such as "kills = kills + 1".
func (b *UpdateBuilder) SetExpr(expr string) *UpdateBuilder {
	b.setCols = append(b.setCols, expr)
	return b
}

func (b *UpdateBuilder) Where(column, operator string, value any) *UpdateBuilder {
	b.conds.add("AND", column, operator, value)
	return b
}

func (b *UpdateBuilder) WhereExpr(expr string) *UpdateBuilder {
	b.conds.addExpr("AND", expr)
	return b
}

func (b *UpdateBuilder) And(column, operator string, value any) *UpdateBuilder {
	b.conds.add("AND", column, operator, value)
	return b
}

func (b *UpdateBuilder) Or(column, operator string, value any) *UpdateBuilder {
	b.conds.add("OR", column, operator, value)
	return b
}

// ToSQL renders the statement and its aligned parameter list. SET
// parameters precede WHERE parameters, matching placeholder order.
func (b *UpdateBuilder) ToSQL() (string, []any, error) {
	if b.conds.err != nil {
		return "", nil, b.conds.err
	}
	if b.table == "" {
		return "", nil, fmt.Errorf("update builder has no table")
	}
	if len(b.setCols) == 0 {
		return "", nil, fmt.Errorf("update builder has no SET assignments")
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(b.setCols, ", "))
	b.conds.render(&sb)

	query := sb.String()
	params := make([]any, 0, len(b.setParams)+len(b.conds.params))
	params = append(params, b.setParams...)
	params = append(params, b.conds.params...)

	if got := countPlaceholders(query); got != len(params) {
		return "", nil, fmt.Errorf("placeholder count %d does not match parameter count %d", got, len(params))
	}
	return query, params, nil
}

// Exec executes the built statement and returns the affected-row count.
func (b *UpdateBuilder) Exec(ctx context.Context) (int64, error) {
	query, params, err := b.ToSQL()
	if err != nil {
		return 0, err
	}
	return b.db.Exec(ctx, query, params...)
}

// ExecAsync executes the built statement on the database's scheduler.
func (b *UpdateBuilder) ExecAsync() *scheduler.Future[scheduler.Result[any]] {
	return b.db.sched.AddWork(func(workCtx context.Context) (any, error) {
		return b.Exec(workCtx)
	})
}
