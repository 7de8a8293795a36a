package module

import "strings"

// Loader gets module source evaluated so that definitions acquire factories
type Loader interface {
	// MarkForLoading asks for the instance's package (or, for async
	// modules, the module itself) to be fetched and defined
	MarkForLoading(inst *Instance)

	// OnReady calls cb exactly once after the instance's definition is
	// registered
	OnReady(inst *Instance, cb func())
}

// Locator turns module ids into URLs
type Locator interface {
	ModuleURL(id string) string
}

// HashSource provides content hashes of package files
type HashSource interface {
	// Hash returns the hash of path inside the package identified by pkgKey
	Hash(pkgKey, path string) (string, bool)
}

type immediate struct{}

func (immediate) MarkForLoading(*Instance) {}

func (immediate) OnReady(_ *Instance, cb func()) { cb() }

// Immediate is a Loader that treats every module as already defined
var Immediate Loader = immediate{}

// LocatorFunc adapts a function to the Locator interface
type LocatorFunc func(id string) string

// ModuleURL calls f(id)
func (f LocatorFunc) ModuleURL(id string) string {
	return f(id)
}

// identityLocator returns ids with the first '@' turned into a '/'
var identityLocator = LocatorFunc(func(id string) string {
	return strings.Replace(id, "@", "/", 1)
})

// HashTable is a HashSource backed by a map of package key to path to hash
type HashTable map[string]map[string]string

// Hash looks up the hash of path in pkgKey
func (t HashTable) Hash(pkgKey, path string) (string, bool) {
	h, ok := t[pkgKey][path]
	return h, ok && h != ""
}
