package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/go-logr/logr"
)

// GitFetcher fetches manifests from one Git repository per package. Package
// versions are tags, either "<version>" or "v<version>".
type GitFetcher struct {
	ref     *GitRef
	auth    transport.AuthMethod
	cache   *DiskCache
	tempDir string
}

// GitRef contains parsed Git reference information
type GitRef struct {
	// URL is the repository URL; "{name}" is replaced by the package name
	URL string

	// Path is the directory holding the manifest inside the repository
	Path string
}

// NewGitFetcher creates a Git fetcher.
// ref format: https://github.com/org/{name}.git?path=manifests
func NewGitFetcher(ref string, creds *Credentials, cache *DiskCache) (*GitFetcher, error) {
	gitRef, err := parseGitRef(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid Git reference: %w", err)
	}

	auth, err := getGitAuth(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to get Git auth: %w", err)
	}

	return &GitFetcher{
		ref:     gitRef,
		auth:    auth,
		cache:   cache,
		tempDir: os.TempDir(),
	}, nil
}

// Type returns the fetcher type
func (f *GitFetcher) Type() string {
	return "git"
}

// Fetch retrieves the manifest for req from the tag of its version
func (f *GitFetcher) Fetch(ctx context.Context, req Request) (*FetchResult, error) {
	repoURL := strings.ReplaceAll(f.ref.URL, "{name}", req.Name)

	tag, hash, err := f.resolveTag(ctx, repoURL, req.Version)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("git:%s:%s:%s", repoURL, hash, req.Key())
	if f.cache != nil {
		if cached, err := f.cache.Get(cacheKey); err == nil {
			return &FetchResult{
				Content: cached,
				Digest:  hash,
				Source:  fmt.Sprintf("git://%s@%s (cached)", repoURL, tag.Short()),
			}, nil
		}
	}

	tmpDir, err := os.MkdirTemp(f.tempDir, "neuron-git-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:           repoURL,
		Auth:          f.auth,
		ReferenceName: tag,
		SingleBranch:  true,
		Depth:         1,
		Progress:      io.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	content, err := readManifest(os.DirFS(tmpDir), f.ref.Path, req)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s@%s", ErrPackageNotFound, req.Key(), repoURL, tag.Short())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if f.cache != nil {
		if err := f.cache.Set(cacheKey, content); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "failed to cache Git manifest", "key", cacheKey)
		}
	}

	return &FetchResult{
		Content: content,
		Digest:  hash,
		Source:  fmt.Sprintf("git://%s@%s", repoURL, tag.Short()),
	}, nil
}

// resolveTag lists the remote references and returns the tag for version
// along with the hash it points at
func (f *GitFetcher) resolveTag(ctx context.Context, repoURL, version string) (plumbing.ReferenceName, string, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: f.auth})
	if errors.Is(err, transport.ErrRepositoryNotFound) {
		return "", "", fmt.Errorf("%w: %s", ErrPackageNotFound, repoURL)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to list %s: %w", repoURL, err)
	}

	tags := make(map[plumbing.ReferenceName]string)
	for _, ref := range refs {
		if ref.Name().IsTag() {
			tags[ref.Name()] = ref.Hash().String()
		}
	}

	for _, name := range []string{version, "v" + version} {
		tag := plumbing.NewTagReferenceName(name)
		if hash, ok := tags[tag]; ok {
			return tag, hash, nil
		}
	}
	return "", "", fmt.Errorf("%w: no tag for version %s in %s", ErrPackageNotFound, version, repoURL)
}

// readManifest reads the manifest for req from a checked out repository
func readManifest(fsys fs.FS, dir string, req Request) ([]byte, error) {
	if dir == "" {
		dir = "."
	}
	if req.Path != "" {
		return fs.ReadFile(fsys, path.Join(dir, req.Path)+".cue")
	}
	return readCUEFiles(fsys, dir)
}

// parseGitRef parses a Git reference string
// Format: https://github.com/org/{name}.git?path=manifests
func parseGitRef(ref string) (*GitRef, error) {
	if ref == "" {
		return nil, fmt.Errorf("repository URL is empty")
	}

	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	p := strings.Trim(u.Query().Get("path"), "/")

	u.RawQuery = ""
	cleanURL := u.String()

	// {name} must survive as a placeholder
	cleanURL = strings.ReplaceAll(cleanURL, "%7Bname%7D", "{name}")

	if !strings.HasSuffix(cleanURL, ".git") && u.Scheme != "file" && u.Scheme != "" {
		cleanURL += ".git"
	}

	return &GitRef{
		URL:  cleanURL,
		Path: p,
	}, nil
}

// getGitAuth builds Git authentication from credentials
func getGitAuth(creds *Credentials) (transport.AuthMethod, error) {
	if creds == nil {
		return nil, nil
	}

	switch {
	case creds.SSHKey != "":
		publicKeys, err := ssh.NewPublicKeys("git", []byte(creds.SSHKey), creds.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		return publicKeys, nil

	case creds.Token != "":
		return &http.BasicAuth{
			Username: "x-access-token", // Works for GitHub, GitLab
			Password: creds.Token,
		}, nil

	case creds.Username != "":
		return &http.BasicAuth{
			Username: creds.Username,
			Password: creds.Password,
		}, nil
	}

	return nil, nil
}
