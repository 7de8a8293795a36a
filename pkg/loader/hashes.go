package loader

import "sync"

// HashStore collects content hashes from configuration and manifests. It
// serves them to module.Require.Resolve as a module.HashSource.
type HashStore struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
}

// NewHashStore creates a store seeded with initial, keyed by package key
// and then file path
func NewHashStore(initial map[string]map[string]string) *HashStore {
	s := &HashStore{hashes: make(map[string]map[string]string)}
	for key, files := range initial {
		s.Add(key, files)
	}
	return s
}

// Add records the hashes of files in the package pkgKey
func (s *HashStore) Add(pkgKey string, files map[string]string) {
	if len(files) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.hashes[pkgKey]
	if !ok {
		table = make(map[string]string, len(files))
		s.hashes[pkgKey] = table
	}
	for p, h := range files {
		table[p] = h
	}
}

// Hash implements module.HashSource
func (s *HashStore) Hash(pkgKey, path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hashes[pkgKey][path]
	return h, ok && h != ""
}
