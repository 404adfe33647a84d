package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInputNotFound     = errors.New("input not found")
	ErrDescriptionLoad   = errors.New("description load failed")
	ErrCircularReference = errors.New("circular reference")
	ErrCacheIO           = errors.New("cache i/o error")
	ErrSelfReference     = errors.New("module references itself")
)

// CycleSeparator joins the identities of a reported cycle.
const CycleSeparator = " -> "

// InputNotFoundError is returned for a discovery input that is neither an
// existing file nor an existing directory.
type InputNotFoundError struct {
	Path string
	Dir  bool // the input looked like a directory (no extension)
}

func (e *InputNotFoundError) Error() string {
	kind := "file"
	if e.Dir {
		kind = "directory"
	}
	return fmt.Sprintf("%s: %s %s", ErrInputNotFound, kind, e.Path)
}

func (e *InputNotFoundError) Unwrap() error { return ErrInputNotFound }

// DescriptionLoadError wraps a failure to read or parse one description.
type DescriptionLoadError struct {
	Path string
	Err  error
}

func (e *DescriptionLoadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDescriptionLoad, e.Path, e.Err)
}

func (e *DescriptionLoadError) Unwrap() []error { return []error{ErrDescriptionLoad, e.Err} }

// CircularReferenceError carries the full path of a detected cycle, first and
// last elements being the same module.
type CircularReferenceError struct {
	Path []string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCircularReference, e.Cycle())
}

// Cycle returns the cycle path joined by CycleSeparator.
func (e *CircularReferenceError) Cycle() string {
	return strings.Join(e.Path, CycleSeparator)
}

func (e *CircularReferenceError) Unwrap() error { return ErrCircularReference }

// CacheIOError is a missing, unreadable or corrupt cache file.
type CacheIOError struct {
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCacheIO, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() []error { return []error{ErrCacheIO, e.Err} }
