package model

import "errors"

// Error classes. Every error returned by the compiler wraps exactly one of
// these so callers can tell bad assets from bugs and environment failures.
var (
	// ErrInput reports malformed or unsupported source data.
	ErrInput = errors.New("invalid input")

	// ErrInvariant reports a violated internal invariant. The build cannot
	// continue and no output is written.
	ErrInvariant = errors.New("internal invariant violated")

	// ErrResource reports a missing or unreadable external file.
	ErrResource = errors.New("resource error")
)
