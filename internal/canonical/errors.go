package canonical

import (
	"errors"
	"fmt"
)

// CircularStructureError reports a node that references one of its own
// ancestors while cycle support is disabled.
type CircularStructureError struct {
	// Path locates the revisited node, e.g. "$.parent.child".
	Path string
}

func (e *CircularStructureError) Error() string {
	return fmt.Sprintf("canonical: circular structure at %s", e.Path)
}

// UnsupportedTypeError reports a value with no canonical form
// (channels, funcs, maps keyed by non-strings).
type UnsupportedTypeError struct {
	Type string
	Path string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("canonical: unsupported type %s at %s", e.Type, e.Path)
}

// DuplicateKeyError reports two distinct mapping keys that are equal after
// NFC normalization.
type DuplicateKeyError struct {
	Key  string // normalized form
	Path string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("canonical: keys normalize to the same %q at %s", e.Key, e.Path)
}

// IsCircular reports whether err is or wraps a CircularStructureError.
func IsCircular(err error) bool {
	var ce *CircularStructureError
	return errors.As(err, &ce)
}
