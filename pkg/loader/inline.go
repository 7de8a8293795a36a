package loader

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// InlineType is the source type of manifests held in the configuration
const InlineType = "inline"

// InlineFetcher serves manifests given directly in the configuration, keyed
// by request key ("a@1.0.0" or "a@1.0.0/lib/b.js")
type InlineFetcher struct {
	packages map[string]string
}

// NewInlineFetcher creates a new inline fetcher
func NewInlineFetcher(packages map[string]string) *InlineFetcher {
	return &InlineFetcher{packages: packages}
}

// Type returns the fetcher type
func (f *InlineFetcher) Type() string {
	return InlineType
}

// Fetch returns the inline manifest for req
func (f *InlineFetcher) Fetch(_ context.Context, req Request) (*FetchResult, error) {
	src, ok := f.packages[req.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, req.Key())
	}
	if src == "" {
		return nil, fmt.Errorf("inline manifest for %s is empty", req.Key())
	}

	content := []byte(src)

	return &FetchResult{
		Content: content,
		Digest:  fmt.Sprintf("inline:%x", xxhash.Sum64(content)),
		Source:  "inline://" + req.Key(),
	}, nil
}
