package frame

import (
	"fmt"
	"math"
	"sort"
)

// Distinct returns the distinct present values of a categorical column,
// sorted.
func (c *Column) Distinct() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, v := range c.Strs {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Cardinality counts distinct values, treating missing as one more value.
func (c *Column) Cardinality() int {
	seen := make(map[string]bool)
	for _, v := range c.Strs {
		seen[v] = true
	}
	return len(seen)
}

// Factorize converts a categorical column into integer codes assigned in
// order of first appearance. Missing cells become NaN.
func Factorize(c *Column) *Column {
	codes := make(map[string]float64)
	nums := make([]float64, len(c.Strs))
	for i, v := range c.Strs {
		if v == "" {
			nums[i] = math.NaN()
			continue
		}
		code, ok := codes[v]
		if !ok {
			code = float64(len(codes))
			codes[v] = code
		}
		nums[i] = code
	}
	return NewNumeric(c.Name, nums)
}

// Dummies one-hot encodes every categorical column. Non-categorical columns
// keep their order and the indicator columns (NAME_value, 0/1) follow,
// grouped by source column with values sorted. With dropFirst the first
// indicator of each group is omitted. Missing cells get all zeros. An
// indicator whose name is already taken is an ErrDuplicateColumn.
func (f *Frame) Dummies(dropFirst bool) (*Frame, error) {
	out := &Frame{index: make(map[string]int)}
	cats := make([]*Column, 0)
	for _, c := range f.cols {
		if c.Kind == Categorical {
			cats = append(cats, c)
			continue
		}
		if err := out.Add(c.Clone()); err != nil {
			return nil, err
		}
	}
	out.rows = f.rows

	for _, c := range cats {
		values := c.Distinct()
		if dropFirst && len(values) > 0 {
			values = values[1:]
		}
		pos := make(map[string]int, len(values))
		ind := make([][]float64, len(values))
		for i, v := range values {
			pos[v] = i
			ind[i] = make([]float64, f.rows)
		}
		for r, v := range c.Strs {
			if i, ok := pos[v]; ok {
				ind[i][r] = 1
			}
		}
		for i, v := range values {
			name := c.Name + "_" + v
			if out.Has(name) {
				return nil, fmt.Errorf("%w: indicator %s of %s", ErrDuplicateColumn, name, c.Name)
			}
			if err := out.Add(NewNumeric(name, ind[i])); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
