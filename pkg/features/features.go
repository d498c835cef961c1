// Package features derives the engineered model inputs from cleaned
// applicant data and aligns frames to a model's feature list.
package features

import (
	"fmt"
	"math"

	"github.com/mchmarny/credscore/pkg/frame"
	"github.com/mchmarny/credscore/pkg/stats"
)

const (
	AmtCredit       = "AMT_CREDIT"
	AmtAnnuity      = "AMT_ANNUITY"
	AmtGoodsPrice   = "AMT_GOODS_PRICE"
	AmtIncome       = "AMT_INCOME_TOTAL"
	DaysBirth       = "DAYS_BIRTH"
	DaysEmployed    = "DAYS_EMPLOYED"
	DaysRegistered  = "DAYS_REGISTRATION"
	DaysIDPublished = "DAYS_ID_PUBLISH"
	ExtSource1      = "EXT_SOURCE_1"
	ExtSource2      = "EXT_SOURCE_2"
	ExtSource3      = "EXT_SOURCE_3"

	CreditToAnnuity   = "CREDIT_TO_ANNUITY_RATIO"
	CreditToGoods     = "CREDIT_TO_GOODS_RATIO"
	AgeYears          = "AGE_YEARS"
	EmploymentYears   = "EMPLOYMENT_YEARS"
	RegistrationYears = "REGISTRATION_YEARS"
	IDPublishYears    = "ID_PUBLISH_YEARS"
	EmploymentToAge   = "EMPLOYMENT_TO_AGE_RATIO"
	ExtSourceMean     = "EXT_SOURCE_MEAN"
	ExtSourceStd      = "EXT_SOURCE_STD"
	ExtSourceMin      = "EXT_SOURCE_MIN"
	ExtSourceMax      = "EXT_SOURCE_MAX"
)

const daysPerYear = 365.0

// ExtSources are the external bureau scores summarized per row.
var ExtSources = []string{ExtSource1, ExtSource2, ExtSource3}

// Required lists the inputs Derive cannot do without.
var Required = []string{
	AmtCredit, AmtAnnuity, AmtGoodsPrice, DaysBirth, DaysEmployed,
	ExtSource1, ExtSource2, ExtSource3,
}

// Expected is the feature list used by the scoring front-end when no
// feature_names.csv is available.
var Expected = []string{
	"AMT_CREDIT", "AMT_GOODS_PRICE", "REGION_POPULATION_RELATIVE", "DAYS_BIRTH", "DAYS_EMPLOYED",
	"DAYS_REGISTRATION", "DAYS_ID_PUBLISH", "FLAG_EMP_PHONE", "FLAG_WORK_PHONE", "FLAG_PHONE",
	"REGION_RATING_CLIENT", "REGION_RATING_CLIENT_W_CITY", "HOUR_APPR_PROCESS_START",
	"REG_CITY_NOT_LIVE_CITY", "REG_CITY_NOT_WORK_CITY", "LIVE_CITY_NOT_WORK_CITY",
	"EXT_SOURCE_1", "EXT_SOURCE_2", "EXT_SOURCE_3",
	"CREDIT_TO_ANNUITY_RATIO", "CREDIT_TO_GOODS_RATIO", "AGE_YEARS", "EMPLOYMENT_YEARS",
	"REGISTRATION_YEARS", "ID_PUBLISH_YEARS", "EMPLOYMENT_TO_AGE_RATIO",
	"EXT_SOURCE_MEAN", "EXT_SOURCE_STD", "EXT_SOURCE_MIN", "EXT_SOURCE_MAX",
	"NAME_CONTRACT_TYPE_Revolving loans", "CODE_GENDER_M", "FLAG_OWN_CAR_Y",
	"NAME_INCOME_TYPE_Pensioner", "NAME_INCOME_TYPE_State servant", "NAME_INCOME_TYPE_Working",
	"NAME_EDUCATION_TYPE_Higher education", "NAME_EDUCATION_TYPE_Secondary / secondary special",
	"NAME_FAMILY_STATUS_Married", "NAME_FAMILY_STATUS_Single / not married",
	"NAME_HOUSING_TYPE_House / apartment", "NAME_HOUSING_TYPE_With parents",
	"OCCUPATION_TYPE_Core staff", "OCCUPATION_TYPE_Drivers", "OCCUPATION_TYPE_Low-skill Laborers",
	"ORGANIZATION_TYPE_Business Entity Type 3", "ORGANIZATION_TYPE_Self-employed", "ORGANIZATION_TYPE_XNA",
}

func ratio(num, den float64) float64 {
	return num / (den + 1)
}

func years(days float64) float64 {
	return -days / daysPerYear
}

type extStats struct {
	mean, std, min, max float64
}

func summarizeExt(vals []float64) extStats {
	return extStats{
		mean: stats.Mean(vals),
		std:  stats.StdDev(vals),
		min:  stats.Min(vals),
		max:  stats.Max(vals),
	}
}

// Derive returns a copy of f with the ratio, time and external-source
// features added. The registration and id-publish years are added only
// when their source columns are present.
func Derive(f *frame.Frame) (*frame.Frame, error) {
	in := make(map[string][]float64, len(Required))
	for _, name := range Required {
		v, err := f.Numeric(name)
		if err != nil {
			return nil, fmt.Errorf("deriving features: %w", err)
		}
		in[name] = v
	}

	n := f.Len()
	out := f.Clone()
	derived := map[string][]float64{}
	order := []string{CreditToAnnuity, CreditToGoods, AgeYears, EmploymentYears, EmploymentToAge}
	for _, name := range order {
		derived[name] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		derived[CreditToAnnuity][i] = ratio(in[AmtCredit][i], in[AmtAnnuity][i])
		derived[CreditToGoods][i] = ratio(in[AmtCredit][i], in[AmtGoodsPrice][i])
		age := years(in[DaysBirth][i])
		emp := years(in[DaysEmployed][i])
		derived[AgeYears][i] = age
		derived[EmploymentYears][i] = emp
		derived[EmploymentToAge][i] = ratio(emp, age)
	}

	for _, src := range []struct{ from, to string }{
		{DaysRegistered, RegistrationYears},
		{DaysIDPublished, IDPublishYears},
	} {
		v, err := f.Numeric(src.from)
		if err != nil {
			continue
		}
		vals := make([]float64, n)
		for i := range v {
			vals[i] = years(v[i])
		}
		derived[src.to] = vals
		order = append(order, src.to)
	}

	ext := map[string][]float64{
		ExtSourceMean: make([]float64, n),
		ExtSourceStd:  make([]float64, n),
		ExtSourceMin:  make([]float64, n),
		ExtSourceMax:  make([]float64, n),
	}
	row := make([]float64, len(ExtSources))
	for i := 0; i < n; i++ {
		for j, name := range ExtSources {
			row[j] = in[name][i]
		}
		s := summarizeExt(row)
		ext[ExtSourceMean][i] = s.mean
		ext[ExtSourceStd][i] = s.std
		ext[ExtSourceMin][i] = s.min
		ext[ExtSourceMax][i] = s.max
	}
	for k, v := range ext {
		derived[k] = v
	}
	order = append(order, ExtSourceMean, ExtSourceStd, ExtSourceMin, ExtSourceMax)

	for _, name := range order {
		if err := out.Add(frame.NewNumeric(name, derived[name])); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeriveRecord applies the Derive formulas to a single record and returns a
// new map holding the inputs and the derived values. Absent inputs are
// treated as missing.
func DeriveRecord(rec map[string]float64) map[string]float64 {
	get := func(k string) float64 {
		if v, ok := rec[k]; ok {
			return v
		}
		return math.NaN()
	}

	out := make(map[string]float64, len(rec)+11)
	for k, v := range rec {
		out[k] = v
	}

	out[CreditToAnnuity] = ratio(get(AmtCredit), get(AmtAnnuity))
	out[CreditToGoods] = ratio(get(AmtCredit), get(AmtGoodsPrice))
	age := years(get(DaysBirth))
	emp := years(get(DaysEmployed))
	out[AgeYears] = age
	out[EmploymentYears] = emp
	out[EmploymentToAge] = ratio(emp, age)
	if v, ok := rec[DaysRegistered]; ok {
		out[RegistrationYears] = years(v)
	}
	if v, ok := rec[DaysIDPublished]; ok {
		out[IDPublishYears] = years(v)
	}

	s := summarizeExt([]float64{get(ExtSource1), get(ExtSource2), get(ExtSource3)})
	out[ExtSourceMean] = s.mean
	out[ExtSourceStd] = s.std
	out[ExtSourceMin] = s.min
	out[ExtSourceMax] = s.max
	return out
}

// OneHot expands the categorical columns of f into NAME_value indicators.
func OneHot(f *frame.Frame, dropFirst bool) (*frame.Frame, error) {
	out, err := f.Dummies(dropFirst)
	if err != nil {
		return nil, fmt.Errorf("one-hot encoding: %w", err)
	}
	return out, nil
}

// MissingPolicy selects what Align does with missing values in columns
// present in the input.
type MissingPolicy int

const (
	// ZeroFill sets missing values to 0, the same as absent columns. The
	// model matrix is built this way.
	ZeroFill MissingPolicy = iota
	// KeepMissing leaves missing values as NaN for an imputer.
	KeepMissing
)

// Align returns a frame with exactly the expected columns in order.
// Columns absent from f are filled with 0; missing values in present
// columns follow policy.
func Align(f *frame.Frame, expected []string, policy MissingPolicy) (*frame.Frame, error) {
	out := &frame.Frame{}
	for _, name := range expected {
		c, err := f.Column(name)
		if err != nil {
			if err := out.Add(frame.Filled(name, f.Len(), 0)); err != nil {
				return nil, err
			}
			continue
		}
		if c.Kind != frame.Numeric {
			return nil, fmt.Errorf("aligning %s: column is %s, encode it first", name, c.Kind)
		}
		c = c.Clone()
		if policy == ZeroFill {
			for i, v := range c.Nums {
				if math.IsNaN(v) {
					c.Nums[i] = 0
				}
			}
		}
		if err := out.Add(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FeatureColumn is the header of the feature list file.
const FeatureColumn = "feature"

// ReadNames loads a feature list from a CSV file with a feature column.
func ReadNames(path string) ([]string, error) {
	f, err := frame.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feature names: %w", err)
	}
	c, err := f.Column(FeatureColumn)
	if err != nil {
		return nil, fmt.Errorf("reading feature names from %s: %w", path, err)
	}
	if c.Kind != frame.Categorical {
		return nil, fmt.Errorf("feature column in %s is not text", path)
	}

	names := make([]string, 0, len(c.Strs))
	for _, n := range c.Strs {
		if n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}
