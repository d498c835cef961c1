// Package config reads and writes the credscore YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/mchmarny/credscore/pkg/auth"
)

const (
	FileName = "config.yaml"
	dirMode  = 0o700
	fileMode = 0o600

	DefaultPort = 8080
)

// DefaultFiles are the raw extracts fetched when none are named.
var DefaultFiles = []string{
	"application_train.csv",
	"application_test.csv",
	"bureau.csv",
	"previous_application.csv",
}

// Config represents app config object.
type Config struct {
	Paths   Paths   `yaml:"paths"`
	Server  Server  `yaml:"server"`
	Scoring Scoring `yaml:"scoring"`
	Fetch   Fetch   `yaml:"fetch"`

	// Auth configures the device login of the data source, optional.
	Auth auth.DeviceConfig `yaml:"auth"`
}

// Paths locate the data directories and model artifacts. Relative paths
// resolve against the working directory.
type Paths struct {
	RawDir       string `yaml:"rawDir"`
	ProcessedDir string `yaml:"processedDir"`
	FeaturesDir  string `yaml:"featuresDir"`
	Model        string `yaml:"model"`
	Medians      string `yaml:"medians"`
	Preprocessor string `yaml:"preprocessor"`
	FeatureNames string `yaml:"featureNames"`
}

type Server struct {
	Port int `yaml:"port"`
}

// Scoring tunes the score scale and risk bands.
type Scoring struct {
	Base       float64 `yaml:"base"`
	Range      float64 `yaml:"range"`
	LowRisk    float64 `yaml:"lowRisk"`
	MediumRisk float64 `yaml:"mediumRisk"`
	Scale      bool    `yaml:"scale"`
}

// Fetch configures raw extract downloads.
type Fetch struct {
	BaseURL     string            `yaml:"baseURL"`
	Files       []string          `yaml:"files"`
	MaxSize     datasize.ByteSize `yaml:"maxSize"`
	Concurrency int               `yaml:"concurrency"`
}

// Default returns the configuration written on first use.
func Default() *Config {
	return &Config{
		Paths: Paths{
			RawDir:       filepath.Join("data", "raw"),
			ProcessedDir: filepath.Join("data", "processed"),
			FeaturesDir:  filepath.Join("data", "features"),
			Model:        filepath.Join("models", "model.json"),
			Medians:      filepath.Join("data", "processed", "feature_medians.json"),
			Preprocessor: filepath.Join("models", "preprocessor.json"),
			FeatureNames: filepath.Join("data", "features", "feature_names.csv"),
		},
		Server: Server{Port: DefaultPort},
		Scoring: Scoring{
			Base:       850,
			Range:      550,
			LowRisk:    0.2,
			MediumRisk: 0.5,
		},
		Fetch: Fetch{
			Files:       append([]string(nil), DefaultFiles...),
			MaxSize:     2 * datasize.GB,
			Concurrency: 2,
		},
	}
}

// Validate checks the ranges of the numeric settings.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Scoring.Range <= 0 {
		return fmt.Errorf("invalid score range: %v", c.Scoring.Range)
	}
	if c.Scoring.LowRisk <= 0 || c.Scoring.MediumRisk < c.Scoring.LowRisk || c.Scoring.MediumRisk > 1 {
		return fmt.Errorf("invalid risk bands: low %v, medium %v", c.Scoring.LowRisk, c.Scoring.MediumRisk)
	}
	if c.Fetch.MaxSize == 0 {
		return errors.New("fetch max size must be greater than zero")
	}
	return nil
}

// Save writes c to the config file in dirPath.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dirPath, FileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads app config from directory or creates a new one.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dirPath, dirMode); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", dirPath, err)
		}
	}

	path := filepath.Join(dirPath, FileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := Save(dirPath, Default()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	return ReadFile(path)
}

// ReadFile reads the config at path. Settings absent from the file keep
// their default values.
func ReadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("error unmarshalling config file %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return c, nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("failed to get user home dir: %w", err)
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
