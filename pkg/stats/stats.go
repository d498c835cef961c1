// Package stats holds NaN-aware column statistics. Missing numeric values
// are represented as NaN and skipped by every function.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Present returns the non-NaN values of x in their original order.
func Present(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Count returns the number of non-NaN values.
func Count(x []float64) int {
	n := 0
	for _, v := range x {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// HasMissing reports whether x contains at least one NaN.
func HasMissing(x []float64) bool {
	return Count(x) < len(x)
}

func Sum(x []float64) float64 {
	v := Present(x)
	if len(v) == 0 {
		return 0
	}
	return floats.Sum(v)
}

func Mean(x []float64) float64 {
	v := Present(x)
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}

// StdDev is the sample standard deviation (n-1 denominator).
// Fewer than two values yield NaN.
func StdDev(x []float64) float64 {
	v := Present(x)
	if len(v) < 2 {
		return math.NaN()
	}
	return stat.StdDev(v, nil)
}

func Min(x []float64) float64 {
	v := Present(x)
	if len(v) == 0 {
		return math.NaN()
	}
	return floats.Min(v)
}

func Max(x []float64) float64 {
	v := Present(x)
	if len(v) == 0 {
		return math.NaN()
	}
	return floats.Max(v)
}

// Quantile returns the p-quantile (0 <= p <= 1) using linear interpolation
// between the closest ranks, h = p*(n-1), the default method of
// numpy.percentile. gonum's stat.Quantile only offers the empirical and
// LinearInterp CDFs.
func Quantile(x []float64, p float64) float64 {
	v := Present(x)
	if len(v) == 0 || math.IsNaN(p) {
		return math.NaN()
	}
	sort.Float64s(v)

	switch {
	case p <= 0:
		return v[0]
	case p >= 1:
		return v[len(v)-1]
	}

	h := p * float64(len(v)-1)
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(v) {
		return v[i]
	}
	return v[i] + (h-lo)*(v[i+1]-v[i])
}

func Median(x []float64) float64 {
	return Quantile(x, 0.5)
}

// Mode returns the most frequent non-empty string. Ties resolve to the
// lexicographically smallest value. ok is false when vals has no value.
func Mode(vals []string) (mode string, ok bool) {
	counts := make(map[string]int)
	for _, v := range vals {
		if v != "" {
			counts[v]++
		}
	}

	best := 0
	for v, c := range counts {
		if c > best || (c == best && v < mode) {
			mode, best = v, c
		}
	}
	return mode, best > 0
}
