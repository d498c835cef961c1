// Package medians computes and persists the per-feature training medians
// used to default the inputs an applicant does not provide.
package medians

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/mchmarny/credscore/pkg/frame"
	"github.com/mchmarny/credscore/pkg/stats"
)

// FileName is the default artifact name.
const FileName = "feature_medians.json"

// Medians maps a feature name to its training median.
type Medians map[string]float64

// Compute returns the median of every numeric column of f. Columns without
// any value are left out.
func Compute(f *frame.Frame) Medians {
	m := make(Medians)
	for _, c := range f.NumericColumns() {
		v := stats.Median(c.Nums)
		if math.IsNaN(v) {
			continue
		}
		m[c.Name] = v
	}
	return m
}

// Get returns the median of name, or fallback when it is unknown.
func (m Medians) Get(name string, fallback float64) float64 {
	if v, ok := m[name]; ok {
		return v
	}
	return fallback
}

// Names returns the features in sorted order.
func (m Medians) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Save writes m as JSON to path, creating the parent directory.
func Save(path string, m Medians) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling medians: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("writing medians %s: %w", path, err)
	}
	return nil
}

// Load reads medians written by Save.
func Load(path string) (Medians, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading medians %s: %w", path, err)
	}
	m := make(Medians)
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parsing medians %s: %w", path, err)
	}
	return m, nil
}
