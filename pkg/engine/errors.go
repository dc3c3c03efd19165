// ABOUTME: Sentinel errors for the engine facade
// ABOUTME: Wrapped with %w at every call boundary, never discarded

package engine

import "errors"

// ErrClosed is returned by any operation called after Close.
var ErrClosed = errors.New("engine: closed")
