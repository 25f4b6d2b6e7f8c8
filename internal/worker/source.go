package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrSourceNotFound marks a file task whose source is gone. Redelivery will
// not bring it back.
var ErrSourceNotFound = errors.New("source file not found")

// SourceOpener resolves a file task's file_path to a byte stream.
type SourceOpener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// LocationOpener accepts file:// and http(s):// URLs and plain paths.
type LocationOpener struct {
	Client *http.Client
}

func (o LocationOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return openFile(location)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return openFile(filepath.FromSlash(u.Path))
	case "http", "https":
		return o.fetch(ctx, u.String())
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrSourceNotFound, u.Scheme)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path)) // #nosec G304 -- path comes from a validated file task
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (o LocationOpener) fetch(ctx context.Context, target string) (io.ReadCloser, error) {
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrSourceNotFound, target, resp.StatusCode)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: status %d", target, resp.StatusCode)
	}
	return resp.Body, nil
}
