// Package frame provides the in-memory column table used by the
// preprocessing, feature and scaling steps.
package frame

import (
	"errors"
	"fmt"
	"math"
)

// Kind is the storage type of a column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Categorical {
		return "categorical"
	}
	return "numeric"
}

var (
	ErrColumnNotFound  = errors.New("column not found")
	ErrLengthMismatch  = errors.New("column length mismatch")
	ErrDuplicateColumn = errors.New("duplicate column")
)

// Column holds one named column. Numeric columns use Nums with NaN as the
// missing marker; categorical columns use Strs with "" as the missing marker.
type Column struct {
	Name string
	Kind Kind
	Nums []float64
	Strs []string
}

func NewNumeric(name string, vals []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Nums: vals}
}

func NewCategorical(name string, vals []string) *Column {
	return &Column{Name: name, Kind: Categorical, Strs: vals}
}

// Filled returns a numeric column of n copies of v.
func Filled(name string, n int, v float64) *Column {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = v
	}
	return NewNumeric(name, vals)
}

func (c *Column) Len() int {
	if c.Kind == Categorical {
		return len(c.Strs)
	}
	return len(c.Nums)
}

func (c *Column) IsMissing(i int) bool {
	if c.Kind == Categorical {
		return c.Strs[i] == ""
	}
	return math.IsNaN(c.Nums[i])
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Nums != nil {
		out.Nums = append([]float64(nil), c.Nums...)
	}
	if c.Strs != nil {
		out.Strs = append([]string(nil), c.Strs...)
	}
	return out
}

// Frame is an ordered set of equally long, uniquely named columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a frame from columns, validating lengths and names.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if f.Has(c.Name) {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if err := f.Add(c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Frame) Len() int   { return f.rows }
func (f *Frame) Width() int { return len(f.cols) }

func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The slice is shared with the frame.
func (f *Frame) Columns() []*Column {
	return f.cols
}

func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

func (f *Frame) Column(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return f.cols[i], nil
}

// Numeric returns the values of a numeric column.
func (f *Frame) Numeric(name string) ([]float64, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != Numeric {
		return nil, fmt.Errorf("column %s is %s, expected numeric", name, c.Kind)
	}
	return c.Nums, nil
}

// Add appends the column, or replaces an existing column of the same name
// in place.
func (f *Frame) Add(c *Column) error {
	if c == nil || c.Name == "" {
		return errors.New("column with a name is required")
	}
	if len(f.cols) > 0 && c.Len() != f.rows {
		return fmt.Errorf("%w: %s has %d rows, frame has %d", ErrLengthMismatch, c.Name, c.Len(), f.rows)
	}
	if f.index == nil {
		f.index = make(map[string]int)
	}
	if i, ok := f.index[c.Name]; ok {
		f.cols[i] = c
		return nil
	}
	if len(f.cols) == 0 {
		f.rows = c.Len()
	}
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// Drop removes the named columns; unknown names are ignored.
func (f *Frame) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := f.cols[:0]
	for _, c := range f.cols {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	f.cols = kept
	f.reindex()
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.index[c.Name] = i
	}
	if len(f.cols) == 0 {
		f.rows = 0
	}
}

func (f *Frame) NumericColumns() []*Column {
	return f.byKind(Numeric)
}

func (f *Frame) CategoricalColumns() []*Column {
	return f.byKind(Categorical)
}

func (f *Frame) byKind(k Kind) []*Column {
	out := make([]*Column, 0)
	for _, c := range f.cols {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		cols:  make([]*Column, len(f.cols)),
		index: make(map[string]int, len(f.cols)),
		rows:  f.rows,
	}
	for i, c := range f.cols {
		out.cols[i] = c.Clone()
		out.index[c.Name] = i
	}
	return out
}

// Row returns the numeric cells of row i keyed by column name.
func (f *Frame) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(f.cols))
	for _, c := range f.cols {
		if c.Kind == Numeric {
			row[c.Name] = c.Nums[i]
		}
	}
	return row
}
