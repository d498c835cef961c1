package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

var (
	ErrorURLNotFound = errors.New("URL not found")
	ErrTooLarge      = errors.New("download exceeds size limit")
)

func getResp(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	if client == nil {
		c, err := GetHTTPClient()
		if err != nil {
			return nil, fmt.Errorf("error creating HTTP client: %w", err)
		}
		client = c
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP Get request: %w", err)
	}
	req.Header.Set("User-Agent", clientAgent)

	return client.Do(req) //nolint:gosec // URL comes from the configured data source
}

// Download saves the content at url into path and returns the number of
// bytes written. The body is written to a temporary file next to path and
// renamed on success. maxSize <= 0 means no limit.
func Download(ctx context.Context, client *http.Client, url, path string, maxSize int64) (n int64, retErr error) {
	resp, err := getResp(ctx, client, url)
	if err != nil {
		return 0, fmt.Errorf("error requesting %s: %w", url, err)
	}
	defer resp.Body.Close()
	PrintHTTPResponse(resp)

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrorURLNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("error downloading file (status: %d - %s): %s", resp.StatusCode, resp.Status, url)
	}
	if maxSize > 0 && resp.ContentLength > maxSize {
		return 0, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, url, resp.ContentLength, maxSize)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("error creating directory for %s: %w", path, err)
	}
	out, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("error creating temp file: %w", err)
	}
	tmp := out.Name()
	defer func() {
		if retErr != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	var body io.Reader = resp.Body
	if maxSize > 0 {
		body = io.LimitReader(resp.Body, maxSize+1)
	}
	n, err = io.Copy(out, body)
	if err != nil {
		return 0, fmt.Errorf("error saving downloaded content to file: %w", err)
	}
	if maxSize > 0 && n > maxSize {
		return 0, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, maxSize)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("error moving download into %s: %w", path, err)
	}
	return n, nil
}
