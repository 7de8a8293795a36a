package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cespare/xxhash/v2"
)

// HTTPFetcher downloads manifests from a static file server laid out like
// module URLs, with a .cue extension: <base>/<name>/<version>/<name>.cue
type HTTPFetcher struct {
	urls   URLBuilder
	client *http.Client
}

// NewHTTPFetcher creates a fetcher below base. base may contain "{n}".
func NewHTTPFetcher(base string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		urls:   URLBuilder{Base: base, Ext: ".cue"},
		client: client,
	}
}

// Type returns the fetcher type
func (f *HTTPFetcher) Type() string {
	return "http"
}

// Fetch downloads the manifest for req
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*FetchResult, error) {
	u, err := f.urls.AbsoluteURL(f.urls.pathname(req.Name, req.Name+"@"+req.Version, req.Key(), req.Path == ""))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, u)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch %s: status %d", u, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}

	return &FetchResult{
		Content: content,
		Digest:  fmt.Sprintf("http:%x", xxhash.Sum64(content)),
		Source:  u,
	}, nil
}
