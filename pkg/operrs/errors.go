// Package operrs implements the error taxonomy from spec §7:
// Configuration, Not-found, Conflict, Transient I/O, Guest, and Data,
// following the sentinel-plus-typed-struct shape of the reference
// engine's pkg/serverless/errors.go.
package operrs

import (
	"errors"
	"fmt"
)

// Sentinel errors for quick errors.Is checks.
var (
	ErrServiceNotFound   = errors.New("service not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrDigestNotFound    = errors.New("digest not found")
	ErrTriggerNotFound   = errors.New("trigger not found")

	ErrServiceExists = errors.New("service already registered")
	ErrIDMismatch    = errors.New("service id mismatch on change")

	ErrOutOfFuel = errors.New("guest ran out of fuel")
	ErrOutOfTime = errors.New("guest exceeded its time limit")
	ErrGuestTrap = errors.New("guest trapped")

	ErrInvalidDigest    = errors.New("invalid digest encoding")
	ErrInvalidServiceID = errors.New("invalid service id")
	ErrBadSignature     = errors.New("signature verification failed")
)

// ConfigError is a Configuration-class failure: fatal at the call site,
// never retried.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// ConflictError is a Conflict-class failure: duplicate id on add, id
// mismatch on change.
type ConflictError struct {
	Subject string
	Cause   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %v", e.Subject, e.Cause)
}

func (e *ConflictError) Unwrap() error { return e.Cause }

// TransientError is a Transient I/O failure: network, websocket,
// aggregator 5xx/429. Retried with backoff at the subsystem that owns
// the resource.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// GuestKind distinguishes the four ways a guest execution can fail.
type GuestKind string

const (
	GuestCompile GuestKind = "compile"
	GuestFuel    GuestKind = "fuel"
	GuestTime    GuestKind = "time"
	GuestTrap    GuestKind = "trap"
)

// GuestError is a Guest-class failure: contained and counted, never
// takes down the node.
type GuestError struct {
	Kind      GuestKind
	ServiceID string
	Component string
	Cause     error
}

func (e *GuestError) Error() string {
	return fmt.Sprintf("guest %s fault (service=%s component=%s): %v", e.Kind, e.ServiceID, e.Component, e.Cause)
}

func (e *GuestError) Unwrap() error { return e.Cause }

// DataError is a Data-class failure: invalid encoding, JSON parse,
// signature verification. Reported and dropped, no retry.
type DataError struct {
	What  string
	Cause error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error (%s): %v", e.What, e.Cause)
}

func (e *DataError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is a Not-found class failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrComponentNotFound) ||
		errors.Is(err, ErrDigestNotFound) ||
		errors.Is(err, ErrTriggerNotFound)
}

// IsConflict reports whether err is a Conflict class failure.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c) || errors.Is(err, ErrServiceExists) || errors.Is(err, ErrIDMismatch)
}

// IsTransient reports whether err should be retried at the owning
// boundary.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsGuestFault reports whether err originated inside guest execution.
func IsGuestFault(err error) bool {
	var g *GuestError
	return errors.As(err, &g) ||
		errors.Is(err, ErrOutOfFuel) ||
		errors.Is(err, ErrOutOfTime) ||
		errors.Is(err, ErrGuestTrap)
}

// IsData reports whether err is a Data class failure.
func IsData(err error) bool {
	var d *DataError
	return errors.As(err, &d) ||
		errors.Is(err, ErrInvalidDigest) ||
		errors.Is(err, ErrInvalidServiceID) ||
		errors.Is(err, ErrBadSignature)
}
