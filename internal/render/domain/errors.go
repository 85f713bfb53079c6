package domain

import (
	"errors"
	"fmt"
)

// ResolutionError indicates a chart or overlay could not be located or
// pulled for an application.
type ResolutionError struct {
	App    string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving chart for %s: %s: %s", e.App, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolving chart for %s: %s", e.App, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RenderError indicates an external renderer exited non-zero or a declared
// values file is missing.
type RenderError struct {
	App    string
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rendering %s: %s: %s", e.App, e.Reason, e.Err)
	}
	return fmt.Sprintf("rendering %s: %s", e.App, e.Reason)
}

func (e *RenderError) Unwrap() error { return e.Err }

// AuthExpiredError signals an expired authentication token on the storage
// backend. Unlike every other failure it aborts an entire fan-out: once one
// worker hits it, continuing would only produce a wall of identical
// authentication failures.
type AuthExpiredError struct {
	Backend string
	Err     error
}

func (e *AuthExpiredError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("authentication token expired for %s; log in again", e.Backend)
	}
	return "authentication token expired; log in again"
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// CacheError wraps a best-effort chart-cache failure. Cache failures never
// block rendering, only skip the cache path.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("chart cache %s: %s", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// IsAuthExpired reports whether err is (or wraps) an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var target *AuthExpiredError
	return errors.As(err, &target)
}

// IsResolutionError reports whether err is (or wraps) a ResolutionError.
func IsResolutionError(err error) bool {
	var target *ResolutionError
	return errors.As(err, &target)
}

// IsRenderError reports whether err is (or wraps) a RenderError.
func IsRenderError(err error) bool {
	var target *RenderError
	return errors.As(err, &target)
}

// ErrNotFound is returned by storage backends for missing keys.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err indicates a missing storage key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
