package net

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPClient(t *testing.T) {
	client, err := GetHTTPClient()
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.NotNil(t, client.Jar)
}

func TestGetOAuthClient(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := GetOAuthClient(t.Context(), "test-token")
	require.NoError(t, err)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer test-token", auth)

	anon, err := GetOAuthClient(t.Context(), "")
	require.NoError(t, err)
	assert.NotNil(t, anon.Jar)
}

func TestPrintHTTPResponse_Nil(t *testing.T) {
	// should not panic
	PrintHTTPResponse(nil)
}

func TestPrintHTTPResponse_WithResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       http.NoBody,
	}
	// should not panic
	PrintHTTPResponse(resp)
}

func newFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/bureau.csv", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, clientAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("SK_ID_CURR,SK_ID_BUREAU\n1,10\n"))
	})
	mux.HandleFunc("/big.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	})
	mux.HandleFunc("/declared.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1000))
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	})
	mux.HandleFunc("/broken.csv", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"files":["bureau.csv"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	srv := newFileServer(t)
	path := filepath.Join(t.TempDir(), "raw", "bureau.csv")

	n, err := Download(t.Context(), nil, srv.URL+"/bureau.csv", path, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(29), n)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SK_ID_CURR,SK_ID_BUREAU\n1,10\n", string(b))
}

func TestDownload_Errors(t *testing.T) {
	srv := newFileServer(t)
	dir := t.TempDir()

	_, err := Download(t.Context(), nil, srv.URL+"/missing.csv", filepath.Join(dir, "m.csv"), 0)
	assert.ErrorIs(t, err, ErrorURLNotFound)

	_, err = Download(t.Context(), nil, srv.URL+"/broken.csv", filepath.Join(dir, "b.csv"), 0)
	assert.Error(t, err)

	_, err = Download(t.Context(), nil, srv.URL+"/big.csv", filepath.Join(dir, "big.csv"), 10)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.NoFileExists(t, filepath.Join(dir, "big.csv"))

	_, err = Download(t.Context(), nil, srv.URL+"/declared.csv", filepath.Join(dir, "d.csv"), 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files are cleaned up")
}

func TestGetJSON(t *testing.T) {
	srv := newFileServer(t)

	var m struct {
		Files []string `json:"files"`
	}
	require.NoError(t, GetJSON(t.Context(), nil, srv.URL+"/manifest.json", &m))
	assert.Equal(t, []string{"bureau.csv"}, m.Files)

	err := GetJSON(t.Context(), nil, srv.URL+"/nope.json", &m)
	assert.ErrorIs(t, err, ErrorURLNotFound)
}
