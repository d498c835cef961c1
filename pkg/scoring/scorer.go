// Package scoring turns applicant answers into a default probability, a
// credit score and a risk band.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mchmarny/credscore/pkg/features"
	"github.com/mchmarny/credscore/pkg/model"
	"github.com/mchmarny/credscore/pkg/scaling"
)

type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"

	DecisionApproved = "Approved"
	DecisionReview   = "Review Required"
	DecisionReject   = "Reject"

	FactorExtSourceMean   = "Ext Source Mean"
	FactorEmploymentYears = "Employment Years"
	FactorCreditAnnuity   = "Credit/Ann Ratio"
)

// Scale maps a probability p onto Base - p*Range.
type Scale struct {
	Base  float64 `json:"base" yaml:"base"`
	Range float64 `json:"range" yaml:"range"`
}

// Bands are the upper probability bounds of the low and medium risk bands.
type Bands struct {
	Low    float64 `json:"low" yaml:"low"`
	Medium float64 `json:"medium" yaml:"medium"`
}

func DefaultScale() Scale { return Scale{Base: 850, Range: 550} }

func DefaultBands() Bands { return Bands{Low: 0.2, Medium: 0.5} }

// Factor is one input shown next to a score.
type Factor struct {
	Name  string  `json:"name" yaml:"name"`
	Value float64 `json:"value" yaml:"value"`
}

// Result is the outcome of scoring one applicant.
type Result struct {
	Probability float64   `json:"probability" yaml:"probability"`
	CreditScore int       `json:"credit_score" yaml:"credit_score"`
	Band        Band      `json:"band" yaml:"band"`
	Decision    string    `json:"decision" yaml:"decision"`
	Factors     []*Factor `json:"factors" yaml:"factors"`
	ScoredAt    time.Time `json:"scored_at" yaml:"scored_at"`
}

// Scorer scores applicants with a loaded model.
type Scorer struct {
	model        *model.Model
	defaults     map[string]float64
	preprocessor *scaling.Preprocessor
	scale        Scale
	bands        Bands
}

type Option func(*Scorer)

// WithDefaults sets the values of model features the applicant does not
// provide, usually the training medians.
func WithDefaults(d map[string]float64) Option {
	return func(s *Scorer) { s.defaults = d }
}

// WithPreprocessor imputes and scales the record before prediction.
func WithPreprocessor(p *scaling.Preprocessor) Option {
	return func(s *Scorer) { s.preprocessor = p }
}

func WithScale(sc Scale) Option {
	return func(s *Scorer) { s.scale = sc }
}

func WithBands(b Bands) Option {
	return func(s *Scorer) { s.bands = b }
}

// NewScorer creates a scorer for m.
func NewScorer(m *model.Model, opts ...Option) (*Scorer, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}
	s := &Scorer{
		model:    m,
		defaults: map[string]float64{},
		scale:    DefaultScale(),
		bands:    DefaultBands(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.bands.Low <= 0 || s.bands.Medium < s.bands.Low || s.bands.Medium > 1 {
		return nil, fmt.Errorf("invalid risk bands: low %v, medium %v", s.bands.Low, s.bands.Medium)
	}
	if s.scale.Range <= 0 {
		return nil, fmt.Errorf("invalid score range: %v", s.scale.Range)
	}
	return s, nil
}

// Model returns the scorer's model.
func (s *Scorer) Model() *model.Model {
	return s.model
}

// Classify returns the band and decision for probability p.
func (s *Scorer) Classify(p float64) (Band, string) {
	switch {
	case p < s.bands.Low:
		return BandLow, DecisionApproved
	case p < s.bands.Medium:
		return BandMedium, DecisionReview
	default:
		return BandHigh, DecisionReject
	}
}

// CreditScore converts probability p into the score scale, truncating.
func (s *Scorer) CreditScore(p float64) int {
	return int(s.scale.Base - p*s.scale.Range)
}

func inGroup(name string, groups []string) bool {
	for _, g := range groups {
		if strings.HasPrefix(name, model.NormalizeName(g)+"_") {
			return true
		}
	}
	return false
}

// fill builds a value for every name: the record's own value first, 0 for
// the other indicators of an answered group, then the default, then
// fallback.
func (s *Scorer) fill(rec map[string]float64, names []string, fallback float64) map[string]float64 {
	recNorm := make(map[string]float64, len(rec))
	for k, v := range rec {
		recNorm[model.NormalizeName(k)] = v
	}
	defNorm := make(map[string]float64, len(s.defaults))
	for k, v := range s.defaults {
		defNorm[model.NormalizeName(k)] = v
	}

	out := make(map[string]float64, len(names))
	for _, name := range names {
		norm := model.NormalizeName(name)
		if v, ok := recNorm[norm]; ok {
			out[name] = v
			continue
		}
		if inGroup(norm, Groups) {
			out[name] = 0
			continue
		}
		if v, ok := defNorm[norm]; ok {
			out[name] = v
			continue
		}
		out[name] = fallback
	}
	return out
}

// Vector returns the model input vector for a. With a preprocessor,
// features without a value are left missing for its imputer.
func (s *Scorer) Vector(a *Applicant) ([]float64, error) {
	rec := a.Record()
	if s.preprocessor == nil {
		full := s.fill(rec, s.model.FeatureNames, 0)
		return s.model.Vector(full, nil), nil
	}

	full := s.fill(rec, s.preprocessor.Features, math.NaN())
	scaled, err := s.preprocessor.TransformMap(full)
	if err != nil {
		return nil, fmt.Errorf("scaling applicant: %w", err)
	}
	byName := make(map[string]float64, len(scaled))
	for i, name := range s.preprocessor.Features {
		byName[name] = scaled[i]
	}
	return s.model.Vector(byName, nil), nil
}

// Score validates the applicant and predicts its default probability.
func (s *Scorer) Score(ctx context.Context, a *Applicant) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	x, err := s.Vector(a)
	if err != nil {
		return nil, err
	}
	p, err := s.model.PredictProba(x)
	if err != nil {
		return nil, fmt.Errorf("predicting: %w", err)
	}

	rec := a.Record()
	band, decision := s.Classify(p)
	return &Result{
		Probability: p,
		CreditScore: s.CreditScore(p),
		Band:        band,
		Decision:    decision,
		Factors: []*Factor{
			{Name: FactorExtSourceMean, Value: rec[features.ExtSourceMean]},
			{Name: FactorEmploymentYears, Value: float64(a.EmploymentYears)},
			{Name: FactorCreditAnnuity, Value: rec[features.CreditToAnnuity]},
		},
		ScoredAt: time.Now().UTC(),
	}, nil
}
