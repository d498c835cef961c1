// Package model evaluates gradient-boosted tree models exported with
// LightGBM's dump_model() JSON format.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dmitryikh/leaves"
)

const (
	decisionLE = "<="
	decisionEQ = "=="

	// ensembleName and ensembleVersion are the header values the leaves
	// JSON reader accepts. The tree layout is unchanged across dump versions.
	ensembleName    = "tree"
	ensembleVersion = "v2"
)

var (
	ErrUnsupportedObjective = errors.New("unsupported objective")
	ErrFeatureMismatch      = errors.New("feature vector does not match model")
)

// Node is a split or a leaf of a tree, kept for importances.
type Node struct {
	Leaf        bool
	Feature     int
	Gain        float64
	Categorical bool
	Left, Right *Node
}

// Tree is one boosting iteration.
type Tree struct {
	Index int
	Root  *Node
}

// Model is a parsed LightGBM dump.
type Model struct {
	Name                string
	Version             string
	Objective           string
	FeatureNames        []string
	AverageOutput       bool
	NumClass            int
	NumTreePerIteration int
	Trees               []*Tree

	sigmoid  float64
	ensemble *leaves.Ensemble
}

type rawModel struct {
	Name                string    `json:"name"`
	Version             string    `json:"version"`
	NumClass            int       `json:"num_class"`
	NumTreePerIteration int       `json:"num_tree_per_iteration"`
	MaxFeatureIdx       int       `json:"max_feature_idx"`
	Objective           string    `json:"objective"`
	AverageOutput       bool      `json:"average_output"`
	FeatureNames        []string  `json:"feature_names"`
	TreeInfo            []rawTree `json:"tree_info"`
}

type rawTree struct {
	TreeIndex int             `json:"tree_index"`
	Structure json.RawMessage `json:"tree_structure"`
}

type rawNode struct {
	SplitFeature *int            `json:"split_feature"`
	SplitGain    float64         `json:"split_gain"`
	Threshold    json.RawMessage `json:"threshold"`
	DecisionType string          `json:"decision_type"`
	MissingType  string          `json:"missing_type"`
	LeftChild    *rawNode        `json:"left_child"`
	RightChild   *rawNode        `json:"right_child"`
	LeafValue    *float64        `json:"leaf_value"`
}

// ensembleDoc is the dump as handed to leaves.
type ensembleDoc struct {
	Name                string         `json:"name"`
	Version             string         `json:"version"`
	NumClass            int            `json:"num_class"`
	NumTreePerIteration int            `json:"num_tree_per_iteration"`
	MaxFeatureIdx       int            `json:"max_feature_idx"`
	Trees               []ensembleTree `json:"tree_info"`
}

type ensembleTree struct {
	NumLeaves int             `json:"num_leaves"`
	NumCat    int             `json:"num_cat"`
	Structure json.RawMessage `json:"tree_structure"`
}

// Load parses the model dump at path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model %s: %w", path, err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a model dump.
func Parse(r io.Reader) (*Model, error) {
	var raw rawModel
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if len(raw.TreeInfo) == 0 {
		return nil, errors.New("model has no trees")
	}
	if len(raw.FeatureNames) == 0 {
		return nil, errors.New("model has no feature names")
	}
	if raw.MaxFeatureIdx >= len(raw.FeatureNames) {
		return nil, fmt.Errorf("max feature index %d out of range for %d features", raw.MaxFeatureIdx, len(raw.FeatureNames))
	}

	m := &Model{
		Name:                raw.Name,
		Version:             raw.Version,
		Objective:           raw.Objective,
		FeatureNames:        raw.FeatureNames,
		AverageOutput:       raw.AverageOutput,
		NumClass:            max(raw.NumClass, 1),
		NumTreePerIteration: max(raw.NumTreePerIteration, 1),
		Trees:               make([]*Tree, 0, len(raw.TreeInfo)),
	}

	sig, err := sigmoidCoefficient(raw.Objective)
	if err != nil && !errors.Is(err, ErrUnsupportedObjective) {
		return nil, err
	}
	m.sigmoid = sig

	doc := &ensembleDoc{
		Name:                ensembleName,
		Version:             ensembleVersion,
		NumClass:            m.NumClass,
		NumTreePerIteration: m.NumTreePerIteration,
		MaxFeatureIdx:       len(raw.FeatureNames) - 1,
		Trees:               make([]ensembleTree, 0, len(raw.TreeInfo)),
	}

	for i, t := range raw.TreeInfo {
		if len(t.Structure) == 0 {
			return nil, fmt.Errorf("tree %d has no structure", i)
		}
		var rn rawNode
		if err := json.Unmarshal(t.Structure, &rn); err != nil {
			return nil, fmt.Errorf("tree %d: decoding structure: %w", t.TreeIndex, err)
		}
		var c counts
		root, err := convert(&rn, len(raw.FeatureNames), &c)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", t.TreeIndex, err)
		}
		m.Trees = append(m.Trees, &Tree{Index: t.TreeIndex, Root: root})
		doc.Trees = append(doc.Trees, ensembleTree{NumLeaves: c.leaves, NumCat: c.categorical, Structure: t.Structure})
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding ensemble: %w", err)
	}
	if m.ensemble, err = leaves.LGEnsembleFromJSON(bytes.NewReader(b), false); err != nil {
		return nil, fmt.Errorf("building ensemble: %w", err)
	}
	return m, nil
}

type counts struct {
	leaves      int
	categorical int
}

func convert(r *rawNode, numFeatures int, c *counts) (*Node, error) {
	if r.LeafValue != nil && r.SplitFeature == nil {
		c.leaves++
		return &Node{Leaf: true}, nil
	}
	if r.SplitFeature == nil || r.LeftChild == nil || r.RightChild == nil {
		return nil, errors.New("split node is missing its feature or children")
	}
	if *r.SplitFeature < 0 || *r.SplitFeature >= numFeatures {
		return nil, fmt.Errorf("split feature %d out of range", *r.SplitFeature)
	}
	if r.MissingType == "" {
		return nil, fmt.Errorf("split on feature %d has no missing type", *r.SplitFeature)
	}

	n := &Node{
		Feature: *r.SplitFeature,
		Gain:    r.SplitGain,
	}

	switch r.DecisionType {
	case decisionLE:
		var th float64
		if err := json.Unmarshal(r.Threshold, &th); err != nil {
			return nil, fmt.Errorf("parsing threshold %s: %w", string(r.Threshold), err)
		}
	case decisionEQ:
		if err := checkCategories(r.Threshold); err != nil {
			return nil, err
		}
		n.Categorical = true
		c.categorical++
	default:
		return nil, fmt.Errorf("unknown decision type %q", r.DecisionType)
	}

	var err error
	if n.Left, err = convert(r.LeftChild, numFeatures, c); err != nil {
		return nil, err
	}
	if n.Right, err = convert(r.RightChild, numFeatures, c); err != nil {
		return nil, err
	}
	return n, nil
}

// checkCategories validates a categorical threshold, a "a||b||c" string.
func checkCategories(b json.RawMessage) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("categorical threshold %s is not a string: %w", string(b), err)
	}
	for _, part := range strings.Split(s, "||") {
		if _, err := strconv.Atoi(part); err != nil {
			return fmt.Errorf("parsing category %q: %w", part, err)
		}
	}
	return nil
}

// sigmoidCoefficient returns the sigmoid scale of a binary objective, 0 for
// objectives whose raw output is already the prediction.
func sigmoidCoefficient(objective string) (float64, error) {
	fields := strings.Fields(objective)
	if len(fields) == 0 {
		return 0, nil
	}
	switch fields[0] {
	case "binary":
		coef := 1.0
		for _, f := range fields[1:] {
			if v, ok := strings.CutPrefix(f, "sigmoid:"); ok {
				c, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return 0, fmt.Errorf("parsing sigmoid in %q: %w", objective, err)
				}
				coef = c
			}
		}
		return coef, nil
	case "cross_entropy", "xentropy":
		return 1, nil
	case "multiclass", "multiclassova", "softmax", "lambdarank", "rank_xendcg":
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedObjective, fields[0])
	default:
		return 0, nil
	}
}

func (m *Model) supported() error {
	if m.NumClass > 1 || m.NumTreePerIteration > 1 {
		return fmt.Errorf("%w: %s", ErrUnsupportedObjective, m.Objective)
	}
	_, err := sigmoidCoefficient(m.Objective)
	return err
}

// PredictRaw returns the summed leaf values for x, averaged over the trees
// when the model averages its output.
func (m *Model) PredictRaw(x []float64) (float64, error) {
	if err := m.supported(); err != nil {
		return 0, err
	}
	if len(x) != len(m.FeatureNames) {
		return 0, fmt.Errorf("%w: expected %d values, got %d", ErrFeatureMismatch, len(m.FeatureNames), len(x))
	}

	sum := m.ensemble.PredictSingle(x, 0)
	if m.AverageOutput {
		sum /= float64(m.ensemble.NEstimators())
	}
	return sum, nil
}

// PredictProba converts the raw score into the model's output scale. For
// binary objectives that is the probability of the positive class.
func (m *Model) PredictProba(x []float64) (float64, error) {
	raw, err := m.PredictRaw(x)
	if err != nil {
		return 0, err
	}
	if m.sigmoid == 0 {
		return raw, nil
	}
	return 1 / (1 + math.Exp(-m.sigmoid*raw)), nil
}

// WithFeatureNames replaces the model's feature names, for dumps that were
// trained on anonymous columns.
func (m *Model) WithFeatureNames(names []string) error {
	if len(names) != len(m.FeatureNames) {
		return fmt.Errorf("%w: model has %d features, got %d names", ErrFeatureMismatch, len(m.FeatureNames), len(names))
	}
	m.FeatureNames = append([]string(nil), names...)
	return nil
}

// Anonymous reports whether the dump carries LightGBM's generated
// Column_N names instead of real feature names.
func (m *Model) Anonymous() bool {
	for i, n := range m.FeatureNames {
		if n != "Column_"+strconv.Itoa(i) {
			return false
		}
	}
	return true
}

// NormalizeName matches LightGBM's renaming of feature names, which
// replaces spaces with underscores.
func NormalizeName(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

// Vector orders rec by the model's features. Features absent from rec take
// their value from defaults, or 0 when there is none. Record keys with
// spaces match model names where the spaces became underscores.
func (m *Model) Vector(rec, defaults map[string]float64) []float64 {
	byNorm := make(map[string]float64, len(rec))
	for k, v := range rec {
		byNorm[NormalizeName(k)] = v
	}
	defNorm := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		defNorm[NormalizeName(k)] = v
	}

	x := make([]float64, len(m.FeatureNames))
	for i, name := range m.FeatureNames {
		if v, ok := rec[name]; ok {
			x[i] = v
			continue
		}
		norm := NormalizeName(name)
		if v, ok := byNorm[norm]; ok {
			x[i] = v
			continue
		}
		if v, ok := defaults[name]; ok {
			x[i] = v
			continue
		}
		x[i] = defNorm[norm]
	}
	return x
}
