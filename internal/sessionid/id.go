// Package sessionid implements the opaque 128-bit session identifier.
//
// A SessionId is a random UUIDv4, stringified in the canonical
// hyphenated hex form. Lookups may be performed by unambiguous prefix
// for CLI convenience.
package sessionid

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrAmbiguousPrefix is returned when a prefix matches more than one id.
var ErrAmbiguousPrefix = errors.New("sessionid: ambiguous prefix")

// ErrNotFound is returned when a prefix matches no id.
var ErrNotFound = errors.New("sessionid: not found")

// ID is the opaque session identifier.
type ID string

// New generates a fresh random ID.
func New() ID {
	return ID(uuid.New().String())
}

// String returns the canonical hyphenated hex form.
func (id ID) String() string {
	return string(id)
}

// HasPrefix reports whether id begins with prefix, case-insensitively.
func (id ID) HasPrefix(prefix string) bool {
	return strings.HasPrefix(strings.ToLower(string(id)), strings.ToLower(prefix))
}

// Resolve finds the unique id among candidates whose string form begins
// with prefix. An exact match always wins even if it is also a prefix
// of other candidates. Returns ErrNotFound or ErrAmbiguousPrefix
// otherwise.
func Resolve(prefix string, candidates []ID) (ID, error) {
	for _, c := range candidates {
		if strings.EqualFold(c.String(), prefix) {
			return c, nil
		}
	}

	var matches []ID
	for _, c := range candidates {
		if c.HasPrefix(prefix) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousPrefix
	}
}
