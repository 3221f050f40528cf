package diskit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ContentsTimeout bounds each GetContents strategy.
const ContentsTimeout = 360 * time.Second

// ContentsStrategy is one way of fetching the contents of a location.
type ContentsStrategy struct {
	Name  string
	Fetch func(ctx context.Context, f *Filesystem, location string) ([]byte, error)
}

var (
	errEmptyContents  = errors.New("empty contents")
	errRemoteLocation = errors.New("location is a URL")
	errLocalLocation  = errors.New("location is not an http(s) URL")
)

// DefaultContentsStrategies returns the default fallback chain: a direct
// read, a streamed read, then an HTTP fetch for URL locations.
func DefaultContentsStrategies() []ContentsStrategy {
	return []ContentsStrategy{ContextualRead, StreamRead, ExternalFetch}
}

// ContextualRead reads through the adapter under ContentsTimeout.
var ContextualRead = ContentsStrategy{
	Name: "contextual-read",
	Fetch: func(ctx context.Context, f *Filesystem, location string) ([]byte, error) {
		if isRemoteURL(location) {
			return nil, errRemoteLocation
		}
		ctx, cancel := context.WithTimeout(ctx, ContentsTimeout)
		defer cancel()
		return f.Read(ctx, location)
	},
}

// StreamRead opens a stream through the adapter and drains it.
var StreamRead = ContentsStrategy{
	Name: "stream-read",
	Fetch: func(ctx context.Context, f *Filesystem, location string) ([]byte, error) {
		if isRemoteURL(location) {
			return nil, errRemoteLocation
		}
		ctx, cancel := context.WithTimeout(ctx, ContentsTimeout)
		defer cancel()
		rc, err := f.ReadStream(ctx, location)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	},
}

// ExternalFetch retrieves http and https locations with the facade's HTTP
// client.
var ExternalFetch = ContentsStrategy{
	Name: "external-fetch",
	Fetch: func(ctx context.Context, f *Filesystem, location string) ([]byte, error) {
		if !isRemoteURL(location) {
			return nil, errLocalLocation
		}
		ctx, cancel := context.WithTimeout(ctx, ContentsTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	},
}

// GetContents tries each configured strategy in order and returns the
// first non-empty result. When every strategy fails or returns nothing
// the error wraps ErrContentsUnavailable and every strategy's failure.
func (f *Filesystem) GetContents(ctx context.Context, location string) ([]byte, error) {
	var errs []error
	for _, s := range f.strategies {
		data, err := s.Fetch(ctx, f, location)
		if err == nil && len(data) > 0 {
			return data, nil
		}
		if err == nil {
			err = errEmptyContents
		}
		f.logger.Debug("contents strategy failed",
			"disk", f.Disk(), "path", location, "strategy", s.Name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return nil, NewPathError("getcontents", f.Disk(), location, ErrContentsUnavailable, errors.Join(errs...))
}

func isRemoteURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
