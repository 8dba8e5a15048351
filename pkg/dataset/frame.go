package dataset

import (
	"fmt"
	"math/rand"
)

// ColumnType distinguishes numeric columns from categorical (nominal) ones.
type ColumnType int

const (
	Numeric ColumnType = iota
	Categorical
)

// Record is a single row: attribute name to value. Numeric values are
// float64, categorical values are string. A missing attribute is simply
// absent from the map.
type Record map[string]any

// Frame is a small column-typed table. Column order is significant and is
// preserved through feature engineering and encoding.
type Frame struct {
	Columns []string
	Types   map[string]ColumnType
	Rows    []Record
}

// NewFrame creates an empty frame with the given column order and types.
func NewFrame(columns []string, types map[string]ColumnType) *Frame {
	cols := make([]string, len(columns))
	copy(cols, columns)
	ts := make(map[string]ColumnType, len(types))
	for k, v := range types {
		ts[k] = v
	}
	return &Frame{Columns: cols, Types: ts}
}

// NumRows returns the row count.
func (f *Frame) NumRows() int { return len(f.Rows) }

// HasColumn reports whether the frame declares the named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.Types[name]
	return ok
}

// IsNumeric reports whether the named column is numeric.
func (f *Frame) IsNumeric(name string) bool {
	t, ok := f.Types[name]
	return ok && t == Numeric
}

// CategoricalColumns returns the categorical column names in column order.
func (f *Frame) CategoricalColumns() []string {
	var out []string
	for _, c := range f.Columns {
		if f.Types[c] == Categorical {
			out = append(out, c)
		}
	}
	return out
}

// AddColumn declares a new column. Values for existing rows are supplied by
// fill, which may leave a row untouched by returning (nil, false).
func (f *Frame) AddColumn(name string, t ColumnType, fill func(Record) (any, bool)) {
	if f.HasColumn(name) {
		return
	}
	f.Columns = append(f.Columns, name)
	f.Types[name] = t
	if fill == nil {
		return
	}
	for _, row := range f.Rows {
		if v, ok := fill(row); ok {
			row[name] = v
		}
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.Columns, f.Types)
	out.Rows = make([]Record, len(f.Rows))
	for i, row := range f.Rows {
		out.Rows[i] = row.Clone()
	}
	return out
}

// Clone returns a shallow-value copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Float returns the numeric value of an attribute and whether it is present
// and numeric.
func (r Record) Float(name string) (float64, bool) {
	v, ok := r[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// String returns the categorical value of an attribute and whether it is
// present and a string.
func (r Record) String(name string) (string, bool) {
	v, ok := r[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Sample returns a copy of a random row drawn with rng.
func (f *Frame) Sample(rng *rand.Rand) (Record, error) {
	if len(f.Rows) == 0 {
		return nil, fmt.Errorf("frame has no rows")
	}
	return f.Rows[rng.Intn(len(f.Rows))].Clone(), nil
}
