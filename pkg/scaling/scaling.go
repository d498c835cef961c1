// Package scaling fits and applies the median imputer and robust scaler
// that sit in front of the model.
package scaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mchmarny/credscore/pkg/features"
	"github.com/mchmarny/credscore/pkg/frame"
	"github.com/mchmarny/credscore/pkg/stats"
)

const (
	lowerQuantile = 0.25
	upperQuantile = 0.75
)

var ErrNotFitted = errors.New("preprocessor is not fitted")

// Preprocessor imputes missing values with the per-feature median and then
// scales each feature as (x - center) / scale.
type Preprocessor struct {
	Features []string  `json:"features"`
	Medians  []float64 `json:"medians"`
	Centers  []float64 `json:"centers"`
	Scales   []float64 `json:"scales"`
	Rows     int       `json:"rows"`
	FittedAt time.Time `json:"fitted_at"`
}

// Fit learns the imputer and scaler parameters from every column of f,
// which must all be numeric. Columns with no values impute to 0.
func Fit(f *frame.Frame) (*Preprocessor, error) {
	if f.Width() == 0 || f.Len() == 0 {
		return nil, errors.New("fitting requires a non-empty frame")
	}

	p := &Preprocessor{
		Features: f.Names(),
		Medians:  make([]float64, f.Width()),
		Centers:  make([]float64, f.Width()),
		Scales:   make([]float64, f.Width()),
		Rows:     f.Len(),
		FittedAt: time.Now().UTC(),
	}

	for i, c := range f.Columns() {
		if c.Kind != frame.Numeric {
			return nil, fmt.Errorf("fitting %s: column is %s", c.Name, c.Kind)
		}
		med := stats.Median(c.Nums)
		if math.IsNaN(med) {
			med = 0
		}
		imputed := make([]float64, len(c.Nums))
		for j, v := range c.Nums {
			if math.IsNaN(v) {
				v = med
			}
			imputed[j] = v
		}

		p.Medians[i] = med
		p.Centers[i] = stats.Median(imputed)
		p.Scales[i] = stats.Quantile(imputed, upperQuantile) - stats.Quantile(imputed, lowerQuantile)
		if p.Scales[i] == 0 {
			p.Scales[i] = 1
		}
	}
	return p, nil
}

func (p *Preprocessor) validate() error {
	if p == nil || len(p.Features) == 0 {
		return ErrNotFitted
	}
	n := len(p.Features)
	if len(p.Medians) != n || len(p.Centers) != n || len(p.Scales) != n {
		return fmt.Errorf("preprocessor has %d features but %d/%d/%d parameters",
			n, len(p.Medians), len(p.Centers), len(p.Scales))
	}
	return nil
}

// Transform imputes and scales one vector ordered as p.Features.
func (p *Preprocessor) Transform(x []float64) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(x) != len(p.Features) {
		return nil, fmt.Errorf("transform expects %d values, got %d", len(p.Features), len(x))
	}

	out := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			v = p.Medians[i]
		}
		out[i] = (v - p.Centers[i]) / p.Scales[i]
	}
	return out, nil
}

// TransformMap orders rec by p.Features, treating absent keys as missing,
// and transforms it.
func (p *Preprocessor) TransformMap(rec map[string]float64) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	x := make([]float64, len(p.Features))
	for i, name := range p.Features {
		v, ok := rec[name]
		if !ok {
			v = math.NaN()
		}
		x[i] = v
	}
	return p.Transform(x)
}

// TransformFrame applies Transform to every row of f, which must carry the
// fitted features.
func (p *Preprocessor) TransformFrame(f *frame.Frame) (*frame.Frame, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	aligned, err := features.Align(f, p.Features, features.KeepMissing)
	if err != nil {
		return nil, err
	}

	cols := aligned.Columns()
	for i, c := range cols {
		vals := make([]float64, len(c.Nums))
		for j, v := range c.Nums {
			if math.IsNaN(v) {
				v = p.Medians[i]
			}
			vals[j] = (v - p.Centers[i]) / p.Scales[i]
		}
		if err := aligned.Add(frame.NewNumeric(c.Name, vals)); err != nil {
			return nil, err
		}
	}
	return aligned, nil
}

// BuildMatrix turns a cleaned applicant frame into the model matrix:
// derived features, one-hot encoding with the first level dropped, then
// alignment to expected with every missing value set to 0.
func BuildMatrix(f *frame.Frame, expected []string) (*frame.Frame, error) {
	derived, err := features.Derive(f)
	if err != nil {
		return nil, err
	}
	encoded, err := features.OneHot(derived, true)
	if err != nil {
		return nil, err
	}
	aligned, err := features.Align(encoded, expected, features.ZeroFill)
	if err != nil {
		return nil, fmt.Errorf("aligning model matrix: %w", err)
	}
	return aligned, nil
}

// Save writes p as JSON, creating the parent directory.
func (p *Preprocessor) Save(path string) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling preprocessor: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("writing preprocessor %s: %w", path, err)
	}
	return nil
}

// Load reads a preprocessor written by Save.
func Load(path string) (*Preprocessor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading preprocessor %s: %w", path, err)
	}
	var p Preprocessor
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parsing preprocessor %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("loading preprocessor %s: %w", path, err)
	}
	return &p, nil
}
