package xpg

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Row is one result row: an ordered mapping from column name to value.
//
// Column order follows the row description sent by the server. Column names
// are unique within a Row; when a result repeats a name, the last value wins
// and the name keeps its first position. A Row is immutable.
type Row struct {
	cols  []string
	vals  []any
	index map[string]int
}

// NewRow pairs columns with values. Extra values are dropped and missing
// values read as nil.
func NewRow(columns []string, values []any) Row {
	r := Row{
		cols:  make([]string, 0, len(columns)),
		vals:  make([]any, 0, len(columns)),
		index: make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		if at, ok := r.index[c]; ok {
			r.vals[at] = v
			continue
		}
		r.index[c] = len(r.cols)
		r.cols = append(r.cols, c)
		r.vals = append(r.vals, v)
	}
	return r
}

// Lookup returns the value stored under name and whether it exists.
func (r Row) Lookup(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.vals[i], true
}

// Get returns the value stored under name, or nil when absent.
func (r Row) Get(name string) any {
	v, _ := r.Lookup(name)
	return v
}

// Attr is attribute-style access. An absent column yields a
// *MissingAttributeError, which matches ErrMissingAttribute.
func (r Row) Attr(name string) (any, error) {
	v, ok := r.Lookup(name)
	if !ok {
		return nil, &MissingAttributeError{Name: name}
	}
	return v, nil
}

// Has reports whether the row has a column called name.
func (r Row) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// At returns the i-th value in column order.
func (r Row) At(i int) any { return r.vals[i] }

// Len is the number of distinct columns.
func (r Row) Len() int { return len(r.cols) }

// Columns returns a copy of the column names in order.
func (r Row) Columns() []string { return append([]string(nil), r.cols...) }

// Values returns a copy of the values in column order.
func (r Row) Values() []any { return append([]any(nil), r.vals...) }

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.cols))
	for i, c := range r.cols {
		m[c] = r.vals[i]
	}
	return m
}

func (r Row) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString(": ")
		b.WriteString(fmt.Sprint(r.vals[i]))
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON encodes the row as a JSON object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	stream := jsoniter.ConfigCompatibleWithStandardLibrary.BorrowStream(nil)
	defer jsoniter.ConfigCompatibleWithStandardLibrary.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, c := range r.cols {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(c)
		stream.WriteVal(r.vals[i])
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}
