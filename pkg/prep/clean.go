package prep

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/mchmarny/credscore/pkg/frame"
	"github.com/mchmarny/credscore/pkg/stats"
)

const (
	// DaysEmployedSentinel is the placeholder the source system writes into
	// DAYS_EMPLOYED for pensioners and unemployed applicants.
	DaysEmployedSentinel = 365243

	colDaysEmployed     = "DAYS_EMPLOYED"
	colDaysEmployedAnom = "DAYS_EMPLOYED_ANOM"

	unknownCategory = "Unknown"
)

// EncodeSummary reports what Encode did to a table.
type EncodeSummary struct {
	LabelEncoded int `json:"label_encoded" yaml:"labelEncoded"`
	OneHot       int `json:"one_hot" yaml:"oneHot"`
	Columns      int `json:"columns" yaml:"columns"`
}

// CleanApplication prepares an application table: the DAYS_EMPLOYED
// sentinel becomes missing (flagged in DAYS_EMPLOYED_ANOM), missing values
// are imputed and categorical columns encoded.
func CleanApplication(f *frame.Frame) (*frame.Frame, *EncodeSummary, error) {
	days, err := f.Numeric(colDaysEmployed)
	if err != nil {
		return nil, nil, fmt.Errorf("cleaning application data: %w", err)
	}

	out := f.Clone()
	cleaned := make([]float64, len(days))
	anom := make([]float64, len(days))
	for i, v := range days {
		cleaned[i] = v
		if v == DaysEmployedSentinel {
			cleaned[i] = math.NaN()
			anom[i] = 1
		}
	}
	if err := out.Add(frame.NewNumeric(colDaysEmployed, cleaned)); err != nil {
		return nil, nil, err
	}
	if err := out.Add(frame.NewNumeric(colDaysEmployedAnom, anom)); err != nil {
		return nil, nil, err
	}

	Impute(out)
	return Encode(out)
}

// Impute fills missing cells in place: numeric columns with their median,
// categorical columns with their most frequent value, or "Unknown" when
// the column has no value at all.
func Impute(f *frame.Frame) {
	slog.Debug("imputing missing values", "columns", f.Width())
	for _, c := range f.Columns() {
		switch c.Kind {
		case frame.Numeric:
			if !stats.HasMissing(c.Nums) {
				continue
			}
			m := stats.Median(c.Nums)
			if math.IsNaN(m) {
				continue
			}
			for i, v := range c.Nums {
				if math.IsNaN(v) {
					c.Nums[i] = m
				}
			}
		case frame.Categorical:
			if c.MissingCount() == 0 {
				continue
			}
			fill, ok := stats.Mode(c.Strs)
			if !ok {
				fill = unknownCategory
			}
			for i, v := range c.Strs {
				if v == "" {
					c.Strs[i] = fill
				}
			}
		}
	}
}

// Encode label-encodes categorical columns with at most two distinct values
// and one-hot encodes the rest.
func Encode(f *frame.Frame) (*frame.Frame, *EncodeSummary, error) {
	sum := &EncodeSummary{}
	work := f.Clone()
	for _, c := range f.CategoricalColumns() {
		if c.Cardinality() <= 2 {
			if err := work.Add(frame.Factorize(c)); err != nil {
				return nil, nil, err
			}
			sum.LabelEncoded++
			continue
		}
		sum.OneHot++
	}

	out, err := work.Dummies(false)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding categorical features: %w", err)
	}
	sum.Columns = out.Width()
	slog.Debug("encoded categorical features",
		"label_encoded", sum.LabelEncoded, "one_hot", sum.OneHot, "columns", sum.Columns)
	return out, sum, nil
}
