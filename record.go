package dbsession

import (
	"fmt"
	"time"

	"github.com/go-dbsession/dbsession/driver"
)

// Record is one result row paired with the column descriptors of the
// statement that produced it. Lookups are by column name; values are
// converted through the column's logical type so callers never see
// client-native representations. Records are immutable.
type Record struct {
	values  []any
	columns []driver.Column
	index   map[string]int
}

func newRecord(row []any, columns []driver.Column) Record {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		// A duplicated name resolves to its last occurrence.
		index[c.Name] = i
	}
	return Record{values: row, columns: columns, index: index}
}

// Get returns the value of the named column converted through the column's
// declared type. SQL NULL yields nil. An unknown name yields
// *UnknownColumnError.
func (r Record) Get(name string) (any, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, &UnknownColumnError{Name: name}
	}
	if i >= len(r.values) {
		return nil, fmt.Errorf("dbsession: column %q has no value in row", name)
	}
	return r.columns[i].Type.Convert(r.values[i])
}

// String returns the named column as a string.
func (r Record) String(name string) (string, error) {
	v, err := r.typed(name, driver.String)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Int64 returns the named column as an int64.
func (r Record) Int64(name string) (int64, error) {
	v, err := r.typed(name, driver.Int64)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Float64 returns the named column as a float64.
func (r Record) Float64(name string) (float64, error) {
	v, err := r.typed(name, driver.Float64)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Bool returns the named column as a bool.
func (r Record) Bool(name string) (bool, error) {
	v, err := r.typed(name, driver.Bool)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Time returns the named column as a time.Time.
func (r Record) Time(name string) (time.Time, error) {
	v, err := r.typed(name, driver.Time)
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// Bytes returns the named column as a []byte.
func (r Record) Bytes(name string) ([]byte, error) {
	v, err := r.typed(name, driver.Bytes)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// typed converts the raw value through the requested type instead of the
// column's declared one. NULL is an error here; typed accessors have no
// value to stand in for it, the same stance database/sql takes when scanning
// NULL into a non-pointer.
func (r Record) typed(name string, t driver.Type) (any, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, &UnknownColumnError{Name: name}
	}
	if i >= len(r.values) {
		return nil, fmt.Errorf("dbsession: column %q has no value in row", name)
	}
	raw := r.values[i]
	if raw == nil {
		return nil, fmt.Errorf("dbsession: column %q is NULL", name)
	}
	return t.Convert(raw)
}

// Columns returns the column names in result order.
func (r Record) Columns() []string {
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Name
	}
	return names
}

// Values returns a copy of the raw, unconverted row values.
func (r Record) Values() []any {
	out := make([]any, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of columns.
func (r Record) Len() int { return len(r.columns) }
