// Package bootstrap assembles a module manager and its loader from a
// configuration.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/chazu/neuron/pkg/config"
	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/loader"
	"github.com/chazu/neuron/pkg/module"
)

// Options configures New
type Options struct {
	// Factories holds the module factories manifests refer to
	Factories *loader.Factories

	// HTTPClient is used by http sources; defaults to http.DefaultClient
	HTTPClient *http.Client

	Logger logr.Logger
}

// Runtime is a manager wired to its loader
type Runtime struct {
	Config  *config.Config
	Graph   *graph.Graph
	Manager *module.Manager
	Loader  *loader.Loader
	URLs    loader.URLBuilder

	// Cache is the disk cache of git and oci sources, nil without them
	Cache *loader.DiskCache
}

// New validates cfg and builds a Runtime from it
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	g := cfg.ResolutionGraph()
	if err := g.Validate(); err != nil {
		return nil, err
	}

	loaderConfig, err := cfg.LoaderOptions()
	if err != nil {
		return nil, err
	}

	var cache *loader.DiskCache
	if cfg.UsesDiskCache() {
		if cache, err = newDiskCache(cfg, log.WithName("cache")); err != nil {
			return nil, err
		}
	}

	sources, err := Sources(cfg, cache, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	l, err := loader.NewLoader(loader.Options{
		Config:    loaderConfig,
		Sources:   sources,
		Factories: opts.Factories,
		Hashes:    loader.NewHashStore(cfg.Hashes),
		Logger:    log.WithName("loader"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}

	urls := loader.URLBuilder{Base: cfg.Path, Ext: cfg.Ext}
	m := module.NewManager(module.Options{
		Graph:   g,
		Loader:  l,
		Locator: urls,
		Hashes:  l.Hashes(),
		Ext:     cfg.Ext,
		Logger:  log.WithName("manager"),
	})
	l.Bind(m)

	log.V(1).Info("runtime ready", "graph", g.Metadata.Name, "hash", g.Metadata.Hash,
		"nodes", len(g.Nodes), "sources", sources.Len())

	return &Runtime{
		Config:  cfg,
		Graph:   g,
		Manager: m,
		Loader:  l,
		URLs:    urls,
		Cache:   cache,
	}, nil
}

// Load parses the configuration file at path and builds a Runtime from it
func Load(path string, opts Options) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts)
}

// Use requests id and loads everything it needs. cb has run by the time Use
// returns, unless the request was refused.
func (r *Runtime) Use(ctx context.Context, id string, cb func(any, error)) error {
	if err := r.Manager.Use(id, cb); err != nil {
		return err
	}
	return r.Loader.Flush(ctx)
}

// Sources builds the configured manifest sources, in order
func Sources(cfg *config.Config, cache *loader.DiskCache, client *http.Client) (*loader.Sources, error) {
	sources := loader.NewSources()
	for i, s := range cfg.Sources {
		f, err := newFetcher(s, cache, client)
		if err != nil {
			return nil, fmt.Errorf("sources[%d] (%s): %w", i, s.Type, err)
		}
		sources.Add(f)
	}
	return sources, nil
}

func newFetcher(s config.Source, cache *loader.DiskCache, client *http.Client) (loader.Fetcher, error) {
	switch s.Type {
	case config.SourceInline:
		return loader.NewInlineFetcher(s.Packages), nil
	case config.SourceDir:
		if s.Ref == "" {
			return nil, fmt.Errorf("%w: dir source needs a ref", config.ErrInvalidConfig)
		}
		return loader.NewDirFetcher(s.Ref), nil
	case config.SourceHTTP:
		if s.Ref == "" {
			return nil, fmt.Errorf("%w: http source needs a ref", config.ErrInvalidConfig)
		}
		return loader.NewHTTPFetcher(s.Ref, client), nil
	case config.SourceGit:
		return loader.NewGitFetcher(s.Ref, s.Credentials, cache)
	case config.SourceOCI:
		return loader.NewOCIFetcher(s.Ref, s.Credentials, cache)
	}
	return nil, fmt.Errorf("%w: unknown source type %q", config.ErrInvalidConfig, s.Type)
}

func newDiskCache(cfg *config.Config, log logr.Logger) (*loader.DiskCache, error) {
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return nil, err
	}

	cache := loader.NewDiskCache(cfg.Loader.CacheDir, cfg.Loader.CacheEntries, ttl, log)
	if err := cache.Prune(); err != nil {
		log.Error(err, "failed to prune manifest cache")
	}
	return cache, nil
}
