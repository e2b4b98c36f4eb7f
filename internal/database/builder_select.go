package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxelforge/hostdb/pkg/scheduler"
)

// SelectBuilder accumulates a SELECT statement. Clause order in the
// rendered SQL is fixed: SELECT, FROM, JOINs, WHERE, GROUP BY, HAVING,
// ORDER BY, LIMIT, OFFSET.
type SelectBuilder struct {
	db *Database

	columns      []string
	table        string
	joins        []string
	conds        conditions
	groupBys     []string
	having       string
	havingParams []any
	orderBys     []string
	limit        *uint64
	offset       *uint64
}

// Select starts a SELECT builder bound to this database.
func (d *Database) Select(columns ...string) *SelectBuilder {
	return &SelectBuilder{db: d, columns: columns}
}

// Columns appends projection columns.
func (b *SelectBuilder) Columns(columns ...string) *SelectBuilder {
	b.columns = append(b.columns, columns...)
	return b
}

func (b *SelectBuilder) From(table string) *SelectBuilder {
	b.table = table
	return b
}

// Join appends an inner join; the clause carries its own ON condition,
// e.g. Join("sessions ON sessions.player_id = players.id").
func (b *SelectBuilder) Join(clause string) *SelectBuilder {
	b.joins = append(b.joins, "JOIN "+clause)
	return b
}

func (b *SelectBuilder) LeftJoin(clause string) *SelectBuilder {
	b.joins = append(b.joins, "LEFT JOIN "+clause)
	return b
}

func (b *SelectBuilder) RightJoin(clause string) *SelectBuilder {
	b.joins = append(b.joins, "RIGHT JOIN "+clause)
	return b
}

// Where appends "column operator ?" and binds value in the same call.
func (b *SelectBuilder) Where(column, operator string, value any) *SelectBuilder {
	b.conds.add("AND", column, operator, value)
	return b
}

// WhereExpr appends a pre-formed predicate with no bindable literal.
func (b *SelectBuilder) WhereExpr(expr string) *SelectBuilder {
	b.conds.addExpr("AND", expr)
	return b
}

func (b *SelectBuilder) And(column, operator string, value any) *SelectBuilder {
	b.conds.add("AND", column, operator, value)
	return b
}

func (b *SelectBuilder) AndExpr(expr string) *SelectBuilder {
	b.conds.addExpr("AND", expr)
	return b
}

func (b *SelectBuilder) Or(column, operator string, value any) *SelectBuilder {
	b.conds.add("OR", column, operator, value)
	return b
}

func (b *SelectBuilder) OrExpr(expr string) *SelectBuilder {
	b.conds.addExpr("OR", expr)
	return b
}

func (b *SelectBuilder) GroupBy(columns ...string) *SelectBuilder {
	b.groupBys = append(b.groupBys, columns...)
	return b
}

// Having sets the HAVING clause; placeholders in expr bind params in
// order.
func (b *SelectBuilder) Having(expr string, params ...any) *SelectBuilder {
	b.having = expr
	b.havingParams = params
	return b
}

// OrderBy appends ordering clauses, e.g. OrderBy("kills DESC", "name").
func (b *SelectBuilder) OrderBy(clauses ...string) *SelectBuilder {
	b.orderBys = append(b.orderBys, clauses...)
	return b
}

func (b *SelectBuilder) Limit(n uint64) *SelectBuilder {
	b.limit = &n
	return b
}

func (b *SelectBuilder) Offset(n uint64) *SelectBuilder {
	b.offset = &n
	return b
}

// ToSQL renders the statement and its aligned parameter list.
func (b *SelectBuilder) ToSQL() (string, []any, error) {
	if b.conds.err != nil {
		return "", nil, b.conds.err
	}
	if b.table == "" {
		return "", nil, fmt.Errorf("select builder has no FROM table")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	b.conds.render(&sb)
	if len(b.groupBys) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBys, ", "))
	}
	if b.having != "" {
		sb.WriteString(" HAVING ")
		sb.WriteString(b.having)
	}
	if len(b.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBys, ", "))
	}
	if b.limit != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *b.limit)
	}
	if b.offset != nil {
		fmt.Fprintf(&sb, " OFFSET %d", *b.offset)
	}

	query := sb.String()
	params := make([]any, 0, len(b.conds.params)+len(b.havingParams))
	params = append(params, b.conds.params...)
	params = append(params, b.havingParams...)

	if got := countPlaceholders(query); got != len(params) {
		return "", nil, fmt.Errorf("placeholder count %d does not match parameter count %d", got, len(params))
	}
	return query, params, nil
}

// Rows executes the built query through the bound database and maps
// every row.
func Rows[T any](ctx context.Context, b *SelectBuilder, mapper RowMapper[T]) ([]T, error) {
	query, params, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	return Query(ctx, b.db, query, mapper, params...)
}

// First executes the built query and maps the first row. The second
// return is false when the result set is empty.
func First[T any](ctx context.Context, b *SelectBuilder, mapper RowMapper[T]) (T, bool, error) {
	query, params, err := b.ToSQL()
	if err != nil {
		var zero T
		return zero, false, err
	}
	return QueryFirst(ctx, b.db, query, mapper, params...)
}

// RowsAsync executes the built query on the database's scheduler. The
// future's data is the []T produced by the mapper.
func RowsAsync[T any](b *SelectBuilder, mapper RowMapper[T]) *scheduler.Future[scheduler.Result[any]] {
	return b.db.sched.AddWork(func(workCtx context.Context) (any, error) {
		return Rows(workCtx, b, mapper)
	})
}
