// Package quality runs sanity checks over a processed applicant table.
package quality

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/mchmarny/credscore/pkg/frame"
	"github.com/mchmarny/credscore/pkg/stats"
)

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
	StatusInfo Status = "INFO"

	CheckDaysEmployed = "days_employed"
	CheckIncome       = "income"
	CheckMissing      = "missing_values"
	CheckTarget       = "target_distribution"

	colDaysEmployed = "DAYS_EMPLOYED"
	colIncome       = "AMT_INCOME_TOTAL"
	colTarget       = "TARGET"
)

// Thresholds tune the checks.
type Thresholds struct {
	MaxDaysEmployed float64 `json:"max_days_employed" yaml:"maxDaysEmployed"`
	MaxIncome       float64 `json:"max_income" yaml:"maxIncome"`
	MissingShare    float64 `json:"missing_share" yaml:"missingShare"`
	Examples        int     `json:"examples" yaml:"examples"`
}

// DefaultThresholds flag the employment sentinel, incomes above 10M and
// columns missing in more than half the rows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDaysEmployed: 365000,
		MaxIncome:       10000000,
		MissingShare:    0.5,
		Examples:        5,
	}
}

// Check is one evaluated rule.
type Check struct {
	Name    string             `json:"name" yaml:"name"`
	Status  Status             `json:"status" yaml:"status"`
	Message string             `json:"message" yaml:"message"`
	Value   *float64           `json:"value,omitempty" yaml:"value,omitempty"`
	Count   int                `json:"count,omitempty" yaml:"count,omitempty"`
	Columns []string           `json:"columns,omitempty" yaml:"columns,omitempty"`
	Shares  map[string]float64 `json:"shares,omitempty" yaml:"shares,omitempty"`
}

// Report is the outcome of Run.
type Report struct {
	Rows   int      `json:"rows" yaml:"rows"`
	Cols   int      `json:"cols" yaml:"cols"`
	Checks []*Check `json:"checks" yaml:"checks"`
}

// Failed reports whether any check failed.
func (r *Report) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return true
		}
	}
	return false
}

// Run evaluates the checks in order. Checks whose column is absent are
// omitted; the missing-value summary always runs.
func Run(f *frame.Frame, t Thresholds) *Report {
	r := &Report{Rows: f.Len(), Cols: f.Width(), Checks: make([]*Check, 0, 4)}

	if v, err := f.Numeric(colDaysEmployed); err == nil {
		r.Checks = append(r.Checks, checkDaysEmployed(v, t))
	}
	if v, err := f.Numeric(colIncome); err == nil {
		r.Checks = append(r.Checks, checkIncome(v, t))
	}
	r.Checks = append(r.Checks, checkMissing(f, t))
	if c, err := f.Column(colTarget); err == nil {
		r.Checks = append(r.Checks, checkTarget(c))
	}
	return r
}

func checkDaysEmployed(v []float64, t Thresholds) *Check {
	c := &Check{Name: CheckDaysEmployed}
	maxDays := stats.Max(v)
	switch {
	case math.IsNaN(maxDays):
		c.Status = StatusInfo
		c.Message = "DAYS_EMPLOYED contains only missing values"
		return c
	case maxDays > t.MaxDaysEmployed:
		c.Status = StatusFail
		c.Message = fmt.Sprintf("employment sentinel still present (max %.0f)", maxDays)
	default:
		c.Status = StatusPass
		c.Message = "anomaly removed"
	}
	c.Value = &maxDays
	return c
}

func checkIncome(v []float64, t Thresholds) *Check {
	c := &Check{Name: CheckIncome, Status: StatusPass, Message: "income within range"}
	maxInc := stats.Max(v)
	if math.IsNaN(maxInc) {
		c.Status = StatusInfo
		c.Message = "AMT_INCOME_TOTAL contains only missing values"
		return c
	}
	c.Value = &maxInc
	if maxInc > t.MaxIncome {
		c.Status = StatusWarn
		c.Message = "extremely high income detected, consider capping"
	}
	return c
}

func checkMissing(f *frame.Frame, t Thresholds) *Check {
	c := &Check{Name: CheckMissing, Status: StatusPass}
	high := make([]string, 0)
	if f.Len() > 0 {
		for _, col := range f.Columns() {
			share := float64(col.MissingCount()) / float64(f.Len())
			if share > t.MissingShare {
				high = append(high, col.Name)
			}
		}
	}
	c.Count = len(high)
	c.Message = fmt.Sprintf("columns with > %.0f%% missing: %d", t.MissingShare*100, len(high))
	if len(high) > 0 {
		c.Status = StatusWarn
		if t.Examples > 0 && len(high) > t.Examples {
			high = high[:t.Examples]
		}
		c.Columns = high
	}
	return c
}

func checkTarget(col *frame.Column) *Check {
	c := &Check{Name: CheckTarget, Status: StatusInfo, Shares: make(map[string]float64)}
	counts := make(map[string]int)
	total := 0
	for i := 0; i < col.Len(); i++ {
		if col.IsMissing(i) {
			continue
		}
		counts[label(col, i)]++
		total++
	}
	if total == 0 {
		c.Message = "TARGET has no values"
		return c
	}

	labels := make([]string, 0, len(counts))
	for k, n := range counts {
		labels = append(labels, k)
		c.Shares[k] = float64(n) / float64(total)
	}
	sort.Slice(labels, func(a, b int) bool {
		if counts[labels[a]] != counts[labels[b]] {
			return counts[labels[a]] > counts[labels[b]]
		}
		return labels[a] < labels[b]
	})
	minority := labels[len(labels)-1]
	c.Message = fmt.Sprintf("%d classes, minority %s at %.2f%%", len(labels), minority, c.Shares[minority]*100)
	return c
}

func label(c *frame.Column, i int) string {
	if c.Kind == frame.Categorical {
		return c.Strs[i]
	}
	return strconv.FormatFloat(c.Nums[i], 'f', -1, 64)
}
