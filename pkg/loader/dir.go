package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DirFetcher reads manifests from a directory tree laid out as
// <name>/<version>/*.cue. A module loaded on its own lives in
// <name>/<version>/<path>.cue.
type DirFetcher struct {
	fsys fs.FS
	name string
}

// NewDirFetcher creates a fetcher reading from the directory at root
func NewDirFetcher(root string) *DirFetcher {
	return &DirFetcher{fsys: os.DirFS(root), name: root}
}

// NewFSFetcher creates a fetcher reading from fsys, e.g. an embed.FS
func NewFSFetcher(fsys fs.FS, name string) *DirFetcher {
	return &DirFetcher{fsys: fsys, name: name}
}

// Type returns the fetcher type
func (f *DirFetcher) Type() string {
	return "dir"
}

// Fetch reads the manifest for req
func (f *DirFetcher) Fetch(_ context.Context, req Request) (*FetchResult, error) {
	pkgDir := path.Join(req.Name, req.Version)

	var (
		content []byte
		err     error
	)
	if req.Path != "" {
		content, err = fs.ReadFile(f.fsys, path.Join(pkgDir, req.Path)+".cue")
	} else {
		content, err = readCUEFiles(f.fsys, pkgDir)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s", ErrPackageNotFound, req.Key(), f.name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", req.Key(), err)
	}

	return &FetchResult{
		Content: content,
		Digest:  fmt.Sprintf("dir:%x", xxhash.Sum64(content)),
		Source:  "dir://" + path.Join(f.name, pkgDir),
	}, nil
}

// List returns the package keys available in the tree
func (f *DirFetcher) List() ([]string, error) {
	names, err := fs.ReadDir(f.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}

	var keys []string
	for _, name := range names {
		if !name.IsDir() || strings.HasPrefix(name.Name(), ".") {
			continue
		}
		versions, err := fs.ReadDir(f.fsys, name.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", name.Name(), err)
		}
		for _, v := range versions {
			if v.IsDir() {
				keys = append(keys, name.Name()+"@"+v.Name())
			}
		}
	}
	return keys, nil
}

// readCUEFiles concatenates the .cue files directly inside dir
func readCUEFiles(fsys fs.FS, dir string) ([]byte, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var content []byte
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cue") {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		if len(content) > 0 {
			content = append(content, '\n')
		}
		content = append(content, data...)
	}

	if len(content) == 0 {
		return nil, fmt.Errorf("no .cue files found in %s: %w", dir, fs.ErrNotExist)
	}
	return content, nil
}
