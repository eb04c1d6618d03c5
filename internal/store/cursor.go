package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultCursor is the watermark used when none is stored or the stored
// value cannot be used.
const DefaultCursor int64 = 1

// CursorSuffix is appended to a source tag to form its cursor key.
const CursorSuffix = ".opid"

// CursorStore is durable get/set of string values by key.
//
// Get reports a miss as ("", false, nil), never as an error. Neither method
// retries; failures are returned as *StorageError.
type CursorStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Entry is one stored key/value pair.
type Entry struct {
	Key   string
	Value string
}

// CursorKey returns the storage key for a source's cursor.
func CursorKey(source string) string {
	return source + CursorSuffix
}

// ReadCursor loads a source's cursor. It always returns a usable cursor:
// on a miss it returns DefaultCursor with a nil error; on a read failure or
// an unusable stored value it returns DefaultCursor together with the error
// so the caller can report it and carry on.
func ReadCursor(ctx context.Context, s CursorStore, source string) (int64, error) {
	key := CursorKey(source)
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return DefaultCursor, err
	}
	if !ok {
		return DefaultCursor, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < DefaultCursor {
		return DefaultCursor, &CursorValueError{Key: key, Value: raw}
	}
	return n, nil
}

// WriteCursor persists a source's cursor as a decimal string.
func WriteCursor(ctx context.Context, s CursorStore, source string, cursor int64) error {
	if cursor < DefaultCursor {
		return fmt.Errorf("store: cursor %d below %d", cursor, DefaultCursor)
	}
	return s.Set(ctx, CursorKey(source), strconv.FormatInt(cursor, 10))
}

// StorageError wraps a backend failure.
type StorageError struct {
	Op  string // "get", "set", "list"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CursorValueError reports a stored cursor that is not a positive integer.
type CursorValueError struct {
	Key   string
	Value string
}

func (e *CursorValueError) Error() string {
	return fmt.Sprintf("cursor %q has unusable value %q", e.Key, e.Value)
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
