package model

import (
	"fmt"
	"sort"
)

// ImportanceType selects how feature importance is measured.
type ImportanceType string

const (
	ImportanceSplit ImportanceType = "split"
	ImportanceGain  ImportanceType = "gain"
)

// ParseImportanceType accepts "split" or "gain".
func ParseImportanceType(s string) (ImportanceType, error) {
	switch ImportanceType(s) {
	case ImportanceSplit, "":
		return ImportanceSplit, nil
	case ImportanceGain:
		return ImportanceGain, nil
	default:
		return "", fmt.Errorf("invalid importance type %q, expected split or gain", s)
	}
}

// Importance is the importance of one feature.
type Importance struct {
	Feature string  `json:"feature" yaml:"feature"`
	Value   float64 `json:"importance" yaml:"importance"`
}

// Importances returns one entry per model feature, in model order, holding
// the number of splits on it or their total gain.
func (m *Model) Importances(kind ImportanceType) []*Importance {
	vals := make([]float64, len(m.FeatureNames))
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || n.Leaf {
			return
		}
		if kind == ImportanceGain {
			vals[n.Feature] += n.Gain
		} else {
			vals[n.Feature]++
		}
		walk(n.Left)
		walk(n.Right)
	}
	for _, t := range m.Trees {
		walk(t.Root)
	}

	out := make([]*Importance, len(vals))
	for i, v := range vals {
		out[i] = &Importance{Feature: m.FeatureNames[i], Value: v}
	}
	return out
}

// TopImportances returns the n most important features, highest first with
// ties ordered by name. n <= 0 returns all of them.
func (m *Model) TopImportances(n int, kind ImportanceType) []*Importance {
	list := m.Importances(kind)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Value != list[j].Value {
			return list[i].Value > list[j].Value
		}
		return list[i].Feature < list[j].Feature
	})
	if n > 0 && n < len(list) {
		list = list[:n]
	}
	return list
}
