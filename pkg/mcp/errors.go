package mcp

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned during call routing.
var (
	// ErrToolNotFound means the name resolved to nothing in the catalog.
	ErrToolNotFound = errors.New("tool not found")

	// ErrServerUnhealthy means the owning server failed its last discovery
	// or call and has not recovered yet.
	ErrServerUnhealthy = errors.New("tool server unhealthy")

	// ErrClientClosed is delivered to every waiter still pending when a
	// client shuts down.
	ErrClientClosed = fmt.Errorf("tool server client closed: %w", context.Canceled)
)

// TransportError is a connect, read, write, or timeout failure on the
// connection to a tool server, as opposed to an error the server itself
// returned. Transport errors are retried with backoff; after exhaustion they
// surface to the caller and mark the server unhealthy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is, or wraps, a transport failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
