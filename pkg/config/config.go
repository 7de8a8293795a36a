// Package config loads neuron configuration files. A configuration is CUE
// (or JSON) checked against the embedded #Config schema.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	schemas "github.com/chazu/neuron/cue"
	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/loader"
)

// ErrInvalidConfig is returned when a configuration does not satisfy #Config
var ErrInvalidConfig = errors.New("invalid configuration")

// Source types
const (
	SourceInline = "inline"
	SourceDir    = "dir"
	SourceHTTP   = "http"
	SourceGit    = "git"
	SourceOCI    = "oci"
)

// Config is a decoded configuration file
type Config struct {
	// Path is the base module URLs are built on; may contain "{n}"
	Path string `json:"path,omitempty"`

	// Ext is the default extension of legacy relative requires
	Ext string `json:"ext"`

	Graph GraphConfig `json:"graph"`

	// Hashes maps package key -> file path -> content hash
	Hashes map[string]map[string]string `json:"hashes"`

	// Sources are tried in order
	Sources []Source `json:"sources"`

	Loader LoaderConfig `json:"loader"`
}

// GraphConfig is the resolution graph as written in a configuration
type GraphConfig struct {
	Name  string                `json:"name"`
	Root  map[string]string     `json:"root"`
	Nodes map[string]graph.Node `json:"nodes"`
}

// Source configures one manifest source
type Source struct {
	Type string `json:"type"`

	// Ref is a directory, base URL, repository template or registry prefix
	Ref string `json:"ref"`

	// Packages holds the manifests of an inline source
	Packages map[string]string `json:"packages"`

	Credentials *loader.Credentials `json:"credentials,omitempty"`
}

// LoaderConfig tunes the loader and its caches. Durations use
// time.ParseDuration syntax.
type LoaderConfig struct {
	MaxConcurrency   int    `json:"maxConcurrency"`
	MaxRetries       int    `json:"maxRetries"`
	RetryBackoffBase string `json:"retryBackoffBase"`
	RetryBackoffMax  string `json:"retryBackoffMax"`
	CacheDir         string `json:"cacheDir"`
	CacheTTL         string `json:"cacheTTL"`
	CacheEntries     int    `json:"cacheEntries"`
}

// Load reads and parses the configuration file at path
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parse(content, path)
}

// Parse parses a configuration
func Parse(content []byte) (*Config, error) {
	return parse(content, "config.cue")
}

func parse(content []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	src, err := schemas.SchemaFS.ReadFile(schemas.ConfigSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to read config schema: %w", err)
	}
	schema := ctx.CompileBytes(src, cue.Filename(schemas.ConfigSchema)).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}

	value := ctx.CompileBytes(content, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode: %w", ErrInvalidConfig, err)
	}

	if _, err := cfg.LoaderOptions(); err != nil {
		return nil, err
	}
	if _, err := cfg.CacheTTL(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolutionGraph returns the configured resolution graph with its hash set
func (c *Config) ResolutionGraph() *graph.Graph {
	g := &graph.Graph{
		Metadata: graph.GraphMetadata{Name: c.Graph.Name},
		Root:     c.Graph.Root,
		Nodes:    c.Graph.Nodes,
	}
	g.SetHash()
	return g
}

// LoaderOptions returns the loader tuning
func (c *Config) LoaderOptions() (loader.Config, error) {
	base, err := parseDuration("retryBackoffBase", c.Loader.RetryBackoffBase)
	if err != nil {
		return loader.Config{}, err
	}
	maxBackoff, err := parseDuration("retryBackoffMax", c.Loader.RetryBackoffMax)
	if err != nil {
		return loader.Config{}, err
	}

	return loader.Config{
		MaxConcurrency:   c.Loader.MaxConcurrency,
		MaxRetries:       c.Loader.MaxRetries,
		RetryBackoffBase: base,
		RetryBackoffMax:  maxBackoff,
	}, nil
}

// CacheTTL returns how long disk cache entries stay valid
func (c *Config) CacheTTL() (time.Duration, error) {
	return parseDuration("cacheTTL", c.Loader.CacheTTL)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: loader.%s: %w", ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: loader.%s is negative", ErrInvalidConfig, field)
	}
	return d, nil
}

// UsesDiskCache reports whether a source caches fetched manifests on disk
func (c *Config) UsesDiskCache() bool {
	for _, s := range c.Sources {
		if s.Type == SourceGit || s.Type == SourceOCI {
			return true
		}
	}
	return false
}
