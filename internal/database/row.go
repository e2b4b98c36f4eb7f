package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// RowMapper converts one result row into a domain object. It is invoked
// once per row, in cursor order.
type RowMapper[T any] func(row *Row) (T, error)

// Row is a read-only typed view over one row of an open result cursor.
// It is valid only inside the mapper invocation; retaining it past the
// callback returns errors from every accessor.
type Row struct {
	columns []string
	index   map[string]int
	values  []any
	valid   bool
}

func newRow(columns []string) *Row {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &Row{
		columns: columns,
		index:   index,
		values:  make([]any, len(columns)),
		valid:   true,
	}
}

// scanTargets returns one scan destination per column, pointing into
// the row's value slice.
func (r *Row) scanTargets() []any {
	targets := make([]any, len(r.values))
	for i := range r.values {
		targets[i] = &r.values[i]
	}
	return targets
}

func (r *Row) invalidate() { r.valid = false }

// Columns returns the column names of the result set, in cursor order.
func (r *Row) Columns() []string { return r.columns }

// Value returns the raw driver value for the named column.
func (r *Row) Value(column string) (any, error) {
	if !r.valid {
		return nil, fmt.Errorf("row accessed outside its mapper invocation")
	}
	i, ok := r.index[column]
	if !ok {
		return nil, fmt.Errorf("no column %q in result set", column)
	}
	return r.values[i], nil
}

// IsNull reports whether the named column holds SQL NULL.
func (r *Row) IsNull(column string) (bool, error) {
	v, err := r.Value(column)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// String returns the named column as a string. Byte slices are copied;
// numeric values are formatted.
func (r *Row) String(column string) (string, error) {
	v, err := r.Value(column)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

// Int64 returns the named column as an int64.
func (r *Row) Int64(column string) (int64, error) {
	v, err := r.Value(column)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(string(t), 10, 64)
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("column %q has type %T, not an integer", column, v)
	}
}

// Float64 returns the named column as a float64.
func (r *Row) Float64(column string) (float64, error) {
	v, err := r.Value(column)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case []byte:
		return strconv.ParseFloat(string(t), 64)
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("column %q has type %T, not a float", column, v)
	}
}

// Bool returns the named column as a bool. Integer columns map zero to
// false and anything else to true, matching SQLite's boolean storage.
func (r *Row) Bool(column string) (bool, error) {
	v, err := r.Value(column)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case []byte:
		return strconv.ParseBool(string(t))
	case string:
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("column %q has type %T, not a bool", column, v)
	}
}

// Time returns the named column as a time.Time. Textual columns are
// parsed as RFC 3339, the format the migration ledger writes.
func (r *Row) Time(column string) (time.Time, error) {
	v, err := r.Value(column)
	if err != nil {
		return time.Time{}, err
	}
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("column %q has type %T, not a time", column, v)
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time value %q", s)
}

// Bytes returns the named column as a byte slice. Driver-owned buffers
// are copied, so the result stays valid after the next scan.
func (r *Row) Bytes(column string) ([]byte, error) {
	v, err := r.Value(column)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return append([]byte(nil), t...), nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("column %q has type %T, not bytes", column, v)
	}
}

// NullString returns the named column as a sql.NullString.
func (r *Row) NullString(column string) (sql.NullString, error) {
	null, err := r.IsNull(column)
	if err != nil {
		return sql.NullString{}, err
	}
	if null {
		return sql.NullString{}, nil
	}
	s, err := r.String(column)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// NullInt64 returns the named column as a sql.NullInt64.
func (r *Row) NullInt64(column string) (sql.NullInt64, error) {
	null, err := r.IsNull(column)
	if err != nil {
		return sql.NullInt64{}, err
	}
	if null {
		return sql.NullInt64{}, nil
	}
	n, err := r.Int64(column)
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: n, Valid: true}, nil
}
