package loader

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// CUEModuleZipMediaType is the media type for ZIP archive layers
	CUEModuleZipMediaType = "application/zip"

	// CUEModuleMediaType is the media type for tar+gzip manifest layers
	CUEModuleMediaType = "application/vnd.cue.module.layer.v1+tar+gzip"

	// FallbackLayerMediaType is used when no CUE-specific media type is found
	FallbackLayerMediaType = "application/vnd.oci.image.layer.v1.tar+gzip"

	manifestAccept = "application/vnd.oci.image.manifest.v1+json, application/vnd.docker.distribution.manifest.v2+json"
)

// OCIFetcher fetches manifests from an OCI registry. Each package is a
// repository below the configured prefix, tagged with its versions:
// <registry>/<prefix>/<name>:<version>.
type OCIFetcher struct {
	registry   string
	prefix     string
	scheme     string
	authHeader string
	cache      *DiskCache
	client     *http.Client
}

// NewOCIFetcher creates a new OCI fetcher.
// ref format: registry[:port]/prefix, optionally starting with http:// for
// plain-HTTP registries
func NewOCIFetcher(ref string, creds *Credentials, cache *DiskCache) (*OCIFetcher, error) {
	scheme := "https"
	if strings.HasPrefix(ref, "http://") {
		scheme = "http"
	}
	ref = strings.TrimPrefix(strings.TrimPrefix(ref, "http://"), "https://")

	registry, prefix, err := parseOCIRef(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid OCI reference: %w", err)
	}

	return &OCIFetcher{
		registry:   registry,
		prefix:     prefix,
		scheme:     scheme,
		authHeader: getAuthHeader(creds),
		cache:      cache,
		client:     &http.Client{},
	}, nil
}

// Type returns the fetcher type
func (f *OCIFetcher) Type() string {
	return "oci"
}

// Fetch retrieves the manifest for req from the image tagged with its version
func (f *OCIFetcher) Fetch(ctx context.Context, req Request) (*FetchResult, error) {
	repo := path.Join(f.prefix, req.Name)
	ref := fmt.Sprintf("%s/%s:%s", f.registry, repo, req.Version)

	manifestDigest, err := f.resolveTag(ctx, repo, req.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tag: %w", err)
	}

	cacheKey := manifestDigest
	if req.Path != "" {
		cacheKey += ":" + req.Path
	}
	if f.cache != nil {
		if cached, err := f.cache.Get(cacheKey); err == nil {
			return &FetchResult{
				Content: cached,
				Digest:  manifestDigest,
				Source:  fmt.Sprintf("oci://%s (cached)", ref),
			}, nil
		}
	}

	manifest, err := f.fetchManifest(ctx, repo, manifestDigest)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	layer, err := findCUELayer(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to find CUE layer: %w", err)
	}

	content, err := f.fetchAndExtractLayer(ctx, repo, layer, layerMatcher(req))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer: %w", err)
	}

	if f.cache != nil {
		if err := f.cache.Set(cacheKey, content); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "failed to cache OCI manifest", "key", cacheKey)
		}
	}

	return &FetchResult{
		Content: content,
		Digest:  manifestDigest,
		Source:  fmt.Sprintf("oci://%s", ref),
	}, nil
}

// layerMatcher selects the archive entries making up the manifest for req:
// top-level .cue files for a package, <path>.cue for a module
func layerMatcher(req Request) func(string) bool {
	if req.Path != "" {
		want := req.Path + ".cue"
		return func(name string) bool {
			return strings.TrimPrefix(name, "./") == want
		}
	}
	return func(name string) bool {
		name = strings.TrimPrefix(name, "./")
		return strings.HasSuffix(name, ".cue") && !strings.Contains(name, "/")
	}
}

func (f *OCIFetcher) endpoint(repo, kind, ref string) string {
	return fmt.Sprintf("%s://%s/v2/%s/%s/%s", f.scheme, f.registry, repo, kind, ref)
}

// parseOCIRef splits a reference into registry and repository prefix
// Supports formats:
//   - registry/prefix
//   - registry:port/prefix
//   - registry
func parseOCIRef(ref string) (registry, prefix string, err error) {
	ref = strings.Trim(ref, "/")
	if ref == "" {
		return "", "", fmt.Errorf("registry is empty")
	}

	parts := strings.SplitN(ref, "/", 2)

	// First part is a registry if it contains a dot, colon, or is "localhost"
	if !strings.Contains(parts[0], ".") && !strings.Contains(parts[0], ":") && parts[0] != "localhost" {
		return "", "", fmt.Errorf("invalid OCI reference format: %s", ref)
	}

	registry = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return registry, prefix, nil
}

// getAuthHeader builds an authorization header from credentials
func getAuthHeader(creds *Credentials) string {
	switch {
	case creds == nil:
		return ""
	case creds.Token != "":
		return "Bearer " + creds.Token
	case creds.Username != "":
		auth := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		return "Basic " + auth
	}
	return ""
}

// resolveTag resolves a tag to a digest
func (f *OCIFetcher) resolveTag(ctx context.Context, repo, tag string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.endpoint(repo, "manifests", tag), nil)
	if err != nil {
		return "", err
	}

	req.Header.Set("Accept", manifestAccept)
	if f.authHeader != "" {
		req.Header.Set("Authorization", f.authHeader)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s:%s", ErrPackageNotFound, repo, tag)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("failed to resolve tag: status %d", resp.StatusCode)
	}

	dgst := resp.Header.Get("Docker-Content-Digest")
	if dgst == "" {
		return "", fmt.Errorf("no digest in response headers")
	}

	return dgst, nil
}

// fetchManifest fetches and parses an OCI manifest, checking it against dgst
func (f *OCIFetcher) fetchManifest(ctx context.Context, repo, dgst string) (*ocispec.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint(repo, "manifests", dgst), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", manifestAccept)
	if f.authHeader != "" {
		req.Header.Set("Authorization", f.authHeader)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to fetch manifest: status %d, body: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if expected, err := digest.Parse(dgst); err == nil && expected.Algorithm().FromBytes(body) != expected {
		return nil, fmt.Errorf("manifest digest mismatch: expected %s", expected)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	return &manifest, nil
}

type layerFormat int

const (
	formatUnknown layerFormat = iota
	formatZip
	formatTarGzip
)

type layerInfo struct {
	Digest string
	Format layerFormat
}

// layerPreference lists the media types searched for, most preferred first
var layerPreference = []struct {
	mediaType string
	format    layerFormat
}{
	{CUEModuleZipMediaType, formatZip},
	{CUEModuleMediaType, formatTarGzip},
	{FallbackLayerMediaType, formatTarGzip},
}

// findCUELayer picks the layer holding the manifest files. Without a known
// media type the first layer is used and its format guessed.
func findCUELayer(manifest *ocispec.Manifest) (*layerInfo, error) {
	for _, pref := range layerPreference {
		for _, layer := range manifest.Layers {
			if layer.MediaType == pref.mediaType {
				return &layerInfo{Digest: layer.Digest.String(), Format: pref.format}, nil
			}
		}
	}

	if len(manifest.Layers) == 0 {
		return nil, fmt.Errorf("no suitable layer found in manifest")
	}

	layer := manifest.Layers[0]
	format := formatUnknown
	if strings.HasSuffix(layer.MediaType, "zip") {
		format = formatZip
	}
	return &layerInfo{Digest: layer.Digest.String(), Format: format}, nil
}

// fetchAndExtractLayer downloads a layer, verifies its digest and extracts
// the files selected by match
func (f *OCIFetcher) fetchAndExtractLayer(ctx context.Context, repo string, layer *layerInfo, match func(string) bool) ([]byte, error) {
	url := f.endpoint(repo, "blobs", layer.Digest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if f.authHeader != "" {
		req.Header.Set("Authorization", f.authHeader)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch layer: status %d", resp.StatusCode)
	}

	// Read entire body for digest verification and format-specific extraction
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer body: %w", err)
	}

	// Verify digest
	dgst, err := digest.Parse(layer.Digest)
	if err != nil {
		return nil, fmt.Errorf("invalid layer digest: %w", err)
	}
	verifier := dgst.Verifier()
	verifier.Write(body)
	if !verifier.Verified() {
		return nil, fmt.Errorf("layer digest verification failed")
	}

	// Extract based on format
	switch layer.Format {
	case formatZip:
		return extractZipContent(body, match)
	case formatTarGzip:
		return extractTarGzipContent(body, match)
	default:
		// Try ZIP first (official format), fall back to tar.gz
		if content, err := extractZipContent(body, match); err == nil {
			return content, nil
		}
		return extractTarGzipContent(body, match)
	}
}

// extractZipContent extracts the matching .cue files from a ZIP archive
func extractZipContent(data []byte, match func(string) bool) ([]byte, error) {
	reader := bytes.NewReader(data)
	zipReader, err := zip.NewReader(reader, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP archive: %w", err)
	}

	var content []byte
	for _, file := range zipReader.File {
		// Skip directories
		if file.FileInfo().IsDir() {
			continue
		}

		if match(file.Name) {
			rc, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
			}

			fileData, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
			}

			// Add a newline separator between files
			if len(content) > 0 {
				content = append(content, '\n')
			}
			content = append(content, fileData...)
		}
	}

	if len(content) == 0 {
		return nil, fmt.Errorf("no matching .cue files in ZIP archive: %w", ErrPackageNotFound)
	}

	return content, nil
}

// extractTarGzipContent extracts the matching .cue files from a tar.gz archive
func extractTarGzipContent(data []byte, match func(string) bool) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	var content []byte
	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar: %w", err)
		}

		// Skip directories
		if header.Typeflag == tar.TypeDir {
			continue
		}

		if match(header.Name) {
			fileData, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
			}
			// Add a newline separator between files
			if len(content) > 0 {
				content = append(content, '\n')
			}
			content = append(content, fileData...)
		}
	}

	if len(content) == 0 {
		return nil, fmt.Errorf("no matching .cue files in tar.gz archive: %w", ErrPackageNotFound)
	}

	return content, nil
}
