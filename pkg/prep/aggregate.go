package prep

import (
	"fmt"
	"math"
	"sort"

	"github.com/mchmarny/credscore/pkg/frame"
)

// KeyColumn joins every secondary table to the application table.
const KeyColumn = "SK_ID_CURR"

// AggStats are the per-group statistics produced for each numeric column,
// in output order.
var AggStats = []string{"count", "mean", "max", "min", "sum"}

type accumulator struct {
	count    int
	sum      float64
	min, max float64
}

func (a *accumulator) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v
}

func (a *accumulator) value(stat string) float64 {
	switch stat {
	case "count":
		return float64(a.count)
	case "sum":
		return a.sum
	}
	if a.count == 0 {
		return math.NaN()
	}
	switch stat {
	case "mean":
		return a.sum / float64(a.count)
	case "max":
		return a.max
	default:
		return a.min
	}
}

// Aggregate groups the numeric columns of f by key and emits one row per
// key (ascending) with PREFIX_column_stat columns for every stat in
// AggStats. The key and the excluded id columns are not aggregated; rows
// with a missing key are skipped.
func Aggregate(f *frame.Frame, key, prefix string, exclude ...string) (*frame.Frame, error) {
	keys, err := f.Numeric(key)
	if err != nil {
		return nil, fmt.Errorf("aggregating by %s: %w", key, err)
	}

	skip := map[string]bool{key: true}
	for _, e := range exclude {
		skip[e] = true
	}
	cols := make([]*frame.Column, 0)
	for _, c := range f.NumericColumns() {
		if !skip[c.Name] {
			cols = append(cols, c)
		}
	}

	group := make(map[float64]int)
	order := make([]float64, 0)
	for _, k := range keys {
		if math.IsNaN(k) {
			continue
		}
		if _, ok := group[k]; !ok {
			group[k] = len(order)
			order = append(order, k)
		}
	}

	acc := make([][]accumulator, len(cols))
	for j, c := range cols {
		acc[j] = make([]accumulator, len(order))
		for i, v := range c.Nums {
			if g, ok := group[keys[i]]; ok {
				acc[j][g].add(v)
			}
		}
	}

	// rows sorted by key; perm maps output row to group position
	perm := make([]int, len(order))
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(a, b int) bool { return order[perm[a]] < order[perm[b]] })

	keyOut := make([]float64, len(order))
	for r, g := range perm {
		keyOut[r] = order[g]
	}
	out, err := frame.New(frame.NewNumeric(key, keyOut))
	if err != nil {
		return nil, err
	}

	for j, c := range cols {
		for _, stat := range AggStats {
			vals := make([]float64, len(order))
			for r, g := range perm {
				vals[r] = acc[j][g].value(stat)
			}
			name := fmt.Sprintf("%s_%s_%s", prefix, c.Name, stat)
			if err := out.Add(frame.NewNumeric(name, vals)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// MergeLeft keeps every row of left, in order, and appends the columns of
// right matched on key. Unmatched rows get missing values. A right column
// whose name already exists in left is suffixed with "_y".
func MergeLeft(left, right *frame.Frame, key string) (*frame.Frame, error) {
	lk, err := left.Numeric(key)
	if err != nil {
		return nil, fmt.Errorf("merging left side: %w", err)
	}
	rk, err := right.Numeric(key)
	if err != nil {
		return nil, fmt.Errorf("merging right side: %w", err)
	}

	pos := make(map[float64]int, len(rk))
	for i, k := range rk {
		if _, ok := pos[k]; !ok && !math.IsNaN(k) {
			pos[k] = i
		}
	}

	match := make([]int, len(lk))
	for i, k := range lk {
		match[i] = -1
		if j, ok := pos[k]; ok {
			match[i] = j
		}
	}

	out := left.Clone()
	for _, c := range right.Columns() {
		if c.Name == key {
			continue
		}
		name := c.Name
		if out.Has(name) {
			name += "_y"
		}

		var col *frame.Column
		if c.Kind == frame.Categorical {
			vals := make([]string, len(lk))
			for i, j := range match {
				if j >= 0 {
					vals[i] = c.Strs[j]
				}
			}
			col = frame.NewCategorical(name, vals)
		} else {
			vals := make([]float64, len(lk))
			for i, j := range match {
				vals[i] = math.NaN()
				if j >= 0 {
					vals[i] = c.Nums[j]
				}
			}
			col = frame.NewNumeric(name, vals)
		}
		if err := out.Add(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
