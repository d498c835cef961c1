package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestTokenStore_Keyring(t *testing.T) {
	keyring.MockInit()
	s := NewTokenStore(t.TempDir())

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, s.Save(" abc123 \n"))
	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "abc123", got)
	assert.NoFileExists(t, s.filePath())

	require.NoError(t, s.Delete())
	_, err = s.Get()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestTokenStore_FileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keychain"))
	s := NewTokenStore(t.TempDir())

	require.NoError(t, s.Save("file-token"))
	assert.FileExists(t, s.filePath())

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "file-token", got)

	require.NoError(t, s.Delete())
	assert.NoFileExists(t, s.filePath())
}

func TestTokenStore_MigratesFile(t *testing.T) {
	keyring.MockInit()
	s := NewTokenStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.filePath(), []byte("legacy"), 0o600))

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "legacy", got)
	assert.NoFileExists(t, s.filePath())

	fromKeyring, err := keyring.Get(s.Service, s.User)
	require.NoError(t, err)
	assert.Equal(t, "legacy", fromKeyring)
}

func TestTokenStore_SaveEmpty(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, NewTokenStore(t.TempDir()).Save("  "))
}

func TestDeviceLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device/code", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "dev-code",
			"user_code":        "ABCD-1234",
			"verification_uri": "https://example.com/activate",
			"expires_in":       900,
			"interval":         1,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-code", r.PostForm.Get("device_code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "issued-token",
			"token_type":   "bearer",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var code, url string
	tok, err := DeviceLogin(t.Context(), DeviceConfig{
		ClientID:      "client-1",
		DeviceAuthURL: srv.URL + "/device/code",
		TokenURL:      srv.URL + "/token",
	}, func(c, u string) {
		code, url = c, u
	})
	require.NoError(t, err)
	assert.Equal(t, "issued-token", tok.AccessToken)
	assert.Equal(t, "ABCD-1234", code)
	assert.Equal(t, "https://example.com/activate", url)
}

func TestDeviceLogin_NotConfigured(t *testing.T) {
	_, err := DeviceLogin(t.Context(), DeviceConfig{}, nil)
	assert.Error(t, err)
}

func TestDeviceConfig_Enabled(t *testing.T) {
	assert.False(t, DeviceConfig{ClientID: "x"}.Enabled())
	assert.True(t, DeviceConfig{ClientID: "x", DeviceAuthURL: "a", TokenURL: "b"}.Enabled())
}
