package loader

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PackageState is the load state of a package
type PackageState string

const (
	// PackageStatePending indicates the package is queued for fetching
	PackageStatePending PackageState = "Pending"

	// PackageStateFetching indicates a fetch is in flight
	PackageStateFetching PackageState = "Fetching"

	// PackageStateFetched indicates the manifest bytes are available
	PackageStateFetched PackageState = "Fetched"

	// PackageStateDefined indicates the package's modules have been defined
	PackageStateDefined PackageState = "Defined"

	// PackageStateError indicates fetching or defining failed
	PackageStateError PackageState = "Error"
)

// PackageStatus is the load status of a single package
type PackageStatus struct {
	// State is the current state of the package
	State PackageState

	// Error contains the error message if State is PackageStateError
	Error string

	// Source is the fetcher that provided the package
	Source string

	// Digest identifies the fetched content
	Digest string

	// Modules lists the full ids defined from the package
	Modules []string

	// Attempts is the number of fetch attempts made
	Attempts int

	// FetchedAt is when the package content arrived
	FetchedAt *time.Time

	// DefinedAt is when the package's modules were defined
	DefinedAt *time.Time
}

// States tracks the load state of every package the loader has seen
type States struct {
	mu       sync.RWMutex
	packages map[string]*PackageStatus
}

// NewStates creates an empty state tracker
func NewStates() *States {
	return &States{
		packages: make(map[string]*PackageStatus),
	}
}

// Track registers a package in Pending state. It reports false if the
// package was already tracked.
func (s *States) Track(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.packages[key]; found {
		return false
	}
	s.packages[key] = &PackageStatus{State: PackageStatePending}
	return true
}

// Forget stops tracking a package
func (s *States) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.packages, key)
}

// GetState returns the current state of a package
func (s *States) GetState(key string) (PackageState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, found := s.packages[key]
	if !found {
		return "", fmt.Errorf("package %s not tracked", key)
	}
	return status.State, nil
}

// GetStatus returns a copy of the full status of a package
func (s *States) GetStatus(key string) (*PackageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, found := s.packages[key]
	if !found {
		return nil, fmt.Errorf("package %s not tracked", key)
	}

	statusCopy := *status
	statusCopy.Modules = append([]string(nil), status.Modules...)
	return &statusCopy, nil
}

// SetState moves a package to a new state
func (s *States) SetState(key string, newState PackageState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, found := s.packages[key]
	if !found {
		return fmt.Errorf("package %s not tracked", key)
	}

	if err := validateStateTransition(status.State, newState); err != nil {
		return fmt.Errorf("invalid state transition for package %s: %w", key, err)
	}

	status.State = newState
	now := time.Now()
	switch newState {
	case PackageStateFetching:
		status.Attempts++
	case PackageStateFetched:
		status.FetchedAt = &now
	case PackageStateDefined:
		status.DefinedAt = &now
	case PackageStatePending:
		status.Error = ""
	}
	return nil
}

// SetFetched records where a package came from and moves it to Fetched
func (s *States) SetFetched(key, source, digest string) error {
	if err := s.SetState(key, PackageStateFetched); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.packages[key]
	status.Source = source
	status.Digest = digest
	return nil
}

// SetDefined records the modules a package defined and moves it to Defined
func (s *States) SetDefined(key string, modules []string) error {
	if err := s.SetState(key, PackageStateDefined); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[key].Modules = append(s.packages[key].Modules, modules...)
	return nil
}

// SetError moves a package to Error from any state
func (s *States) SetError(key string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, found := s.packages[key]
	if !found {
		return fmt.Errorf("package %s not tracked", key)
	}

	status.State = PackageStateError
	status.Error = err.Error()
	return nil
}

// InState returns the sorted keys of packages in a given state
func (s *States) InState(state PackageState) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, status := range s.packages {
		if status.State == state {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// All returns a copy of all package states
func (s *States) All() map[string]PackageState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[string]PackageState, len(s.packages))
	for key, status := range s.packages {
		states[key] = status.State
	}
	return states
}

// Summary returns package counts by state
func (s *States) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := Summary{Total: len(s.packages)}
	for _, status := range s.packages {
		switch status.State {
		case PackageStatePending:
			summary.Pending++
		case PackageStateFetching:
			summary.Fetching++
		case PackageStateFetched:
			summary.Fetched++
		case PackageStateDefined:
			summary.Defined++
		case PackageStateError:
			summary.Error++
		}
	}
	return summary
}

// Summary counts packages by state
type Summary struct {
	Total    int
	Pending  int
	Fetching int
	Fetched  int
	Defined  int
	Error    int
}

func validateStateTransition(from, to PackageState) error {
	validTransitions := map[PackageState][]PackageState{
		PackageStatePending: {
			PackageStateFetching,
			PackageStateError,
		},
		PackageStateFetching: {
			PackageStateFetched,
			PackageStateError,
		},
		PackageStateFetched: {
			PackageStateDefined,
			PackageStateError,
		},
		PackageStateDefined: {
			PackageStatePending, // async modules reload the package
		},
		PackageStateError: {
			PackageStatePending, // retry
		},
	}

	allowed, found := validTransitions[from]
	if !found {
		return fmt.Errorf("unknown state: %s", from)
	}

	for _, allowedState := range allowed {
		if allowedState == to {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", from, to)
}
