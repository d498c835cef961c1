package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".credscore")

	c1, err := ReadOrCreate(dir)
	require.NoError(t, err)
	require.NotNil(t, c1)
	assert.Equal(t, DefaultPort, c1.Server.Port)
	assert.Equal(t, 2*datasize.GB, c1.Fetch.MaxSize)
	assert.FileExists(t, filepath.Join(dir, FileName))

	c1.Server.Port = 9090
	c1.Scoring.Scale = true
	c1.Fetch.MaxSize = 512 * datasize.MB
	require.NoError(t, Save(dir, c1))

	c2, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, c2.Server.Port)
	assert.True(t, c2.Scoring.Scale)
	assert.Equal(t, 512*datasize.MB, c2.Fetch.MaxSize)
	assert.Equal(t, c1.Paths, c2.Paths)
}

func TestReadFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := "server:\n  port: 7000\nfetch:\n  maxSize: 10MB\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, c.Server.Port)
	assert.Equal(t, 10*datasize.MB, c.Fetch.MaxSize)
	assert.Equal(t, 850.0, c.Scoring.Base)
	assert.Equal(t, Default().Paths, c.Paths)
	assert.Equal(t, DefaultFiles, c.Fetch.Files)
}

func TestReadFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := map[string]string{
		"bad yaml":  "server: [",
		"bad port":  "server:\n  port: 0\n",
		"bad bands": "scoring:\n  lowRisk: 0.6\n  mediumRisk: 0.5\n",
		"bad range": "scoring:\n  range: -1\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := ReadFile(path)
			assert.Error(t, err)
		})
	}

	_, err := ReadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestSave_Errors(t *testing.T) {
	assert.Error(t, Save("", Default()))
	assert.Error(t, Save(t.TempDir(), nil))
	_, err := ReadOrCreate("")
	assert.Error(t, err)
}

func TestGetOrCreateHomeDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, created, err := GetOrCreateHomeDir("credscore")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ".credscore", filepath.Base(dir))

	_, created, err = GetOrCreateHomeDir(".credscore")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = GetOrCreateHomeDir("")
	assert.Error(t, err)
}
