package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Well-known catalog files
const (
	AppsFile     = "apps.json"
	DefaultsFile = "defaultapps.json"
	SortInfoFile = "appdates.csv"
)

// ErrNotFound is returned by a Source when the requested file does not exist
var ErrNotFound = errors.New("catalog file not found")

// Source reads catalog files by name
type Source interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// NewSource picks an HTTP source for http(s) locations and a directory
// source for anything else
func NewSource(location string) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPSource(location)
	}
	return NewDirSource(location)
}

// DirSource reads catalog files from a local directory
type DirSource struct {
	dir string
}

// NewDirSource creates a source rooted at dir
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// ReadFile reads name from the directory
func (s *DirSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Clean("/"+name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// HTTPSource fetches catalog files relative to a base URL, retrying
// transient failures
type HTTPSource struct {
	base   string
	client *retryablehttp.Client
}

// NewHTTPSource creates a source for the given base URL
func NewHTTPSource(base string) *HTTPSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &HTTPSource{
		base:   strings.TrimSuffix(base, "/") + "/",
		client: client,
	}
}

// ReadFile fetches name from the base URL
func (s *HTTPSource) ReadFile(ctx context.Context, name string) ([]byte, error) {
	target, err := url.JoinPath(s.base, name)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog url for %s: %w", name, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", name, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: %s", name, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
