package medians

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mchmarny/credscore/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	f, err := frame.New(
		frame.NewNumeric("EXT_SOURCE_MEAN", []float64{0.1, 0.5, math.NaN(), 0.3}),
		frame.NewNumeric("EMPTY", []float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}),
		frame.NewNumeric("CNT", []float64{1, 2, 3, 4}),
		frame.NewCategorical("TYPE", []string{"a", "b", "a", "c"}),
	)
	require.NoError(t, err)

	m := Compute(f)
	assert.Equal(t, Medians{"EXT_SOURCE_MEAN": 0.3, "CNT": 2.5}, m)
	assert.Equal(t, []string{"CNT", "EXT_SOURCE_MEAN"}, m.Names())
	assert.Equal(t, 2.5, m.Get("CNT", 0))
	assert.Equal(t, -1.0, m.Get("MISSING", -1))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed", FileName)
	in := Medians{"PREV_CNT_PAYMENT_max": 12, "CREDIT_TO_GOODS_RATIO": 1.1183}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("[1,2]"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}
