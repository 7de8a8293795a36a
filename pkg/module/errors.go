package module

import (
	"errors"
	"fmt"

	"github.com/chazu/neuron/pkg/moduleid"
)

var (
	// ErrMalformedIdentifier is returned for empty identifiers
	ErrMalformedIdentifier = moduleid.ErrMalformed

	// ErrModuleNotFound is returned when an identifier cannot be bound to a module
	ErrModuleNotFound = errors.New("cannot find module")

	// ErrVersionPinForbidden is returned when require is given an identifier containing '@'
	ErrVersionPinForbidden = errors.New("id with '@' is prohibited")

	// ErrInitializer is wrapped by every InitializerError
	ErrInitializer = errors.New("module initializer failed")

	// ErrAlreadyDefined is returned when defining a module that already has a factory
	ErrAlreadyDefined = errors.New("module already defined")
)

// InitializerError reports a factory that returned an error
type InitializerError struct {
	// ID is the full id of the module
	ID string

	// Err is the error the factory returned
	Err error
}

func (e *InitializerError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrInitializer, e.ID, e.Err)
}

// Unwrap returns both the sentinel and the factory's error
func (e *InitializerError) Unwrap() []error {
	return []error{ErrInitializer, e.Err}
}

func notFound(id string) error {
	return fmt.Errorf("%w '%s'", ErrModuleNotFound, id)
}
