// Package auth obtains and stores the access token of the data source the
// raw extracts are fetched from.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	defaultService = "credscore"
	defaultUser    = "data_token"
	tokenFileName  = "data_token"
)

var ErrNoToken = errors.New("no data source token saved, run the auth command first")

// TokenStore keeps the token in the OS keychain and falls back to a file in
// Dir when the keychain is unavailable.
type TokenStore struct {
	Service string
	User    string
	Dir     string
}

// NewTokenStore returns a store whose fallback file lives in dir.
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{Service: defaultService, User: defaultUser, Dir: dir}
}

func (s *TokenStore) filePath() string {
	return filepath.Join(s.Dir, tokenFileName)
}

// Save stores token. A keychain failure is logged and the token is written
// to the fallback file instead.
func (s *TokenStore) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}

	if err := keyring.Set(s.Service, s.User, token); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		if err := os.WriteFile(s.filePath(), []byte(token), 0o600); err != nil {
			return fmt.Errorf("writing token file: %w", err)
		}
		return nil
	}

	// Clean up fallback file if it exists
	os.Remove(s.filePath())
	return nil
}

// Get returns the saved token, moving a file token into the keychain when
// the keychain has become available.
func (s *TokenStore) Get() (string, error) {
	token, err := keyring.Get(s.Service, s.User)
	if err == nil && token != "" {
		return token, nil
	}

	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("reading token file %s: %w", s.filePath(), err)
	}
	token = strings.TrimSpace(string(b))
	if token == "" {
		return "", ErrNoToken
	}

	if migrateErr := keyring.Set(s.Service, s.User, token); migrateErr == nil {
		slog.Info("migrated token from file to OS keychain")
		os.Remove(s.filePath())
	}
	return token, nil
}

// Delete removes the token from both the keychain and the file.
func (s *TokenStore) Delete() error {
	if err := keyring.Delete(s.Service, s.User); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("keychain delete failed", "error", err)
	}
	if err := os.Remove(s.filePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
