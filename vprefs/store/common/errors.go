package common

import (
	"errors"
	"fmt"
)

// Common error types used across store packages
var (
	ErrInvalidKey   = errors.New("invalid preference key")
	ErrInvalidValue = errors.New("invalid preference value")
	ErrInvalidName  = errors.New("invalid node name")
	ErrInvalidPath  = errors.New("invalid node path")
	ErrNotFound     = errors.New("preference data not found")
	ErrIllegalState = errors.New("illegal state")
	ErrNodeRemoved  = fmt.Errorf("%w: node has been removed", ErrIllegalState)
	ErrRootRemoval  = errors.New("root node cannot be removed")
	ErrClosed       = errors.New("registry is closed")
)

// FormatError reports a data file that could not be parsed. It is kept apart
// from I/O failures so loaders can quarantine the file instead of retrying.
type FormatError struct {
	Path string
	Line int
	Err  error
}

func (e *FormatError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("malformed preferences in %s at line %d: %v", e.Path, e.Line, e.Err)
	case e.Path != "":
		return fmt.Sprintf("malformed preferences in %s: %v", e.Path, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("malformed preferences at line %d: %v", e.Line, e.Err)
	default:
		return fmt.Sprintf("malformed preferences: %v", e.Err)
	}
}

func (e *FormatError) Unwrap() error { return e.Err }

// BackingStoreError is returned by Sync, Flush and RemoveNode when the
// filesystem refused a directory creation, temp-file write, rename or delete.
type BackingStoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("backing store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackingStoreError) Unwrap() error { return e.Err }

// NewBackingStoreError wraps err, returning nil when err is nil.
func NewBackingStoreError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &BackingStoreError{Op: op, Path: path, Err: err}
}

// IsFormatError reports whether err carries a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsBackingStoreError reports whether err carries a *BackingStoreError.
func IsBackingStoreError(err error) bool {
	var be *BackingStoreError
	return errors.As(err, &be)
}
