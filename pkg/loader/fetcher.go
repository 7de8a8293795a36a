package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/chazu/neuron/pkg/metrics"
)

// ErrPackageNotFound is returned by a Fetcher that does not have the requested
// package. Sources move on to the next fetcher; it is never retried.
var ErrPackageNotFound = errors.New("package not found")

// Request identifies what to fetch: a whole package, or a single module of it
// when Path is set
type Request struct {
	Name    string
	Version string
	Path    string
}

// Key returns the package key for package requests and the full module id
// for module requests
func (r Request) Key() string {
	key := r.Name + "@" + r.Version
	if r.Path != "" {
		key += "/" + r.Path
	}
	return key
}

// String implements fmt.Stringer
func (r Request) String() string {
	return r.Key()
}

// FetchResult contains the result of fetching a manifest
type FetchResult struct {
	// Content is the raw CUE manifest
	Content []byte

	// Digest is a content-addressable identifier for the manifest
	// For OCI: manifest digest (sha256:...)
	// For Git: commit SHA
	// For inline, dir and http: content hash
	Digest string

	// Source describes where the manifest was fetched from
	Source string
}

// Fetcher retrieves package manifests from one source
type Fetcher interface {
	// Fetch retrieves the manifest for req. It returns an error wrapping
	// ErrPackageNotFound when the source does not have it.
	Fetch(ctx context.Context, req Request) (*FetchResult, error)

	// Type returns the type of fetcher (for logging and metrics)
	Type() string
}

// Credentials authenticate against git and OCI sources
type Credentials struct {
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Token      string `json:"token,omitempty"`
	SSHKey     string `json:"sshKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// FetchError reports a fetcher failing for a reason other than not having
// the package
type FetchError struct {
	Source  string
	Request Request
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch of %s failed: %v", e.Source, e.Request.Key(), e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Sources tries a list of fetchers in order
type Sources struct {
	fetchers []Fetcher
}

// NewSources creates a Sources trying fetchers in the given order
func NewSources(fetchers ...Fetcher) *Sources {
	return &Sources{fetchers: fetchers}
}

// Add appends a fetcher
func (s *Sources) Add(f Fetcher) {
	s.fetchers = append(s.fetchers, f)
}

// Len returns the number of fetchers
func (s *Sources) Len() int {
	return len(s.fetchers)
}

// Fetch asks each fetcher in turn. A fetcher that does not have the package
// passes to the next one; any other error stops the search.
func (s *Sources) Fetch(ctx context.Context, req Request) (*FetchResult, error) {
	logger := logr.FromContextOrDiscard(ctx)

	var tried []string
	for _, f := range s.fetchers {
		start := time.Now()
		result, err := f.Fetch(ctx, req)
		elapsed := time.Since(start).Seconds()

		switch {
		case err == nil:
			metrics.RecordFetch(f.Type(), "success", elapsed)
			logger.V(1).Info("fetched manifest", "request", req.Key(), "source", result.Source, "digest", result.Digest)
			return result, nil
		case errors.Is(err, ErrPackageNotFound):
			metrics.RecordFetch(f.Type(), "not_found", elapsed)
			tried = append(tried, f.Type())
		default:
			metrics.RecordFetch(f.Type(), "error", elapsed)
			return nil, &FetchError{Source: f.Type(), Request: req, Err: err}
		}
	}

	if len(tried) == 0 {
		return nil, fmt.Errorf("%w: %s: no sources configured", ErrPackageNotFound, req.Key())
	}
	return nil, fmt.Errorf("%w: %s (tried %s)", ErrPackageNotFound, req.Key(), strings.Join(tried, ", "))
}
