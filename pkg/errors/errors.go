// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for udpcap.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidAddress indicates a malformed or unresolvable host:port.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidDistribution indicates an unknown delay distribution name.
	ErrInvalidDistribution = errors.New("invalid distribution")

	// ErrInvalidConfig indicates an out-of-range configuration value.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrTransport indicates a receive or send failure on the relay socket.
	ErrTransport = errors.New("transport failure")

	// ErrCapture indicates the capture sink could not record an event.
	ErrCapture = errors.New("capture failure")
)

// RelayError wraps an error with the operation and peer it concerns.
type RelayError struct {
	Op   string // Operation that failed (receive, send, capture)
	Addr string // Peer address, if any
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("relay %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("relay %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// New creates a new RelayError. Returns nil when err is nil.
func New(op, addr string, err error) error {
	if err == nil {
		return nil
	}
	return &RelayError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Join wraps err under a sentinel kind so that errors.Is matches both.
func Join(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
