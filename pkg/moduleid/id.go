package moduleid

import (
	"errors"
	"strings"
)

// ErrMalformed is returned when an identifier cannot be parsed
var ErrMalformed = errors.New("malformed module identifier")

// AnyVersion is the version assumed when an identifier carries none
const AnyVersion = "*"

// ID is a parsed module identifier
type ID struct {
	// Name is the package name, e.g. "jquery"
	Name string

	// Version is an exact version, a range or AnyVersion
	Version string

	// Path is the module path inside the package including its leading
	// slash, or empty for the package's main entry
	Path string
}

// Parse splits a raw identifier into name, version and path.
//
//	"a"           -> {a, *, ""}
//	"a/inner"     -> {a, *, "/inner"}
//	"a@1.2.3/abc" -> {a, 1.2.3, "/abc"}
func Parse(raw string) (ID, error) {
	if raw == "" {
		return ID{}, ErrMalformed
	}

	head, path := raw, ""
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		head, path = raw[:i], raw[i:]
	}

	// The name is the shortest non-empty prefix, so "@" as the first
	// character belongs to the name
	name, version := head, ""
	if i := strings.IndexByte(head[min(1, len(head)):], '@'); i >= 0 {
		at := i + min(1, len(head))
		if at+1 < len(head) {
			name, version = head[:at], head[at+1:]
		}
	}
	if name == "" {
		return ID{}, ErrMalformed
	}
	if version == "" {
		version = AnyVersion
	}

	return ID{Name: name, Version: version, Path: path}, nil
}

// Key returns the package key, "name@version"
func (id ID) Key() string {
	return id.Name + "@" + id.Version
}

// FullID returns the package key followed by the module path
func (id ID) FullID() string {
	return id.Key() + id.Path
}

// String implements fmt.Stringer
func (id ID) String() string {
	return id.FullID()
}

// IsMain reports whether the identifier addresses the package's main entry
func (id ID) IsMain() bool {
	return id.Path == ""
}

// HasVersion reports whether a raw identifier pins an explicit version
func HasVersion(raw string) bool {
	return strings.Contains(raw, "@")
}

// IsRelative reports whether a raw identifier is a relative path reference
func IsRelative(raw string) bool {
	return strings.HasPrefix(raw, "./") || strings.HasPrefix(raw, "../")
}
