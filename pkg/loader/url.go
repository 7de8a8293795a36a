package loader

import (
	"errors"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/chazu/neuron/pkg/module"
)

// ErrNoBasePath is returned when a URL is needed but no base path is configured
var ErrNoBasePath = errors.New("neuron: config.path must be specified")

// URLBuilder turns module ids into URLs below a base path.
// A "{n}" in Base is replaced by a shard number from 1 to 3 derived from the
// pathname, spreading requests over several hosts.
type URLBuilder struct {
	// Base is the server root, e.g. "https://s{n}.example.com/mod"
	Base string

	// Ext is appended to package URLs; defaults to module.DefaultExt
	Ext string
}

// AbsoluteURL resolves pathname against the base path
func (b URLBuilder) AbsoluteURL(pathname string) (string, error) {
	if b.Base == "" {
		return "", ErrNoBasePath
	}

	base := strings.Replace(b.Base, "{n}", strconv.Itoa(len(pathname)%3+1), 1)

	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" {
		return path.Join(base, pathname), nil
	}
	u.Path = path.Join(u.Path, pathname)
	return u.String(), nil
}

// ModuleURL returns the URL of a module id. Without a base path the
// relative pathname is returned.
func (b URLBuilder) ModuleURL(id string) string {
	pathname := strings.Replace(id, "@", "/", 1)
	u, err := b.AbsoluteURL(pathname)
	if err != nil {
		return pathname
	}
	return u
}

// PackageURL returns the URL the source of inst is loaded from. Main entries
// are loaded with their whole package ("a/1.0.0/a.js"); async modules are
// loaded on their own ("a/1.0.0/lib/b.js.js" for "a@1.0.0/lib/b.js").
func (b URLBuilder) PackageURL(inst *module.Instance) (string, error) {
	return b.AbsoluteURL(b.pathname(inst.Name, inst.Key, inst.ID, inst.Main))
}

func (b URLBuilder) pathname(name, key, id string, main bool) string {
	p := id
	if main {
		p = key + "/" + name
	}
	ext := b.Ext
	if ext == "" {
		ext = module.DefaultExt
	}
	return "./" + strings.Replace(p, "@", "/", 1) + ext
}
