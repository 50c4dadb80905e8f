// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apperrors defines the error taxonomy shared across the ingestion
// pipeline: ConfigError, ValidationError, TypeError, PersistenceError,
// TimeoutError, NoAvailableWorkersError and InternalError. Callers use
// errors.As to branch on kind; HTTP status mapping lives in internal/api.
package apperrors

import (
	"errors"
	"fmt"
)

// ConfigError signals a malformed configuration discovered at startup:
// duplicate keys, unsupported operators, missing required fields. Fatal.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ValidationError signals a bad request body or wrong content type.
// Surfaced to the caller as 4xx. A missing key field is reported as
// MissingKeyError instead.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// MissingKeyError is raised when no key candidate field resolved to a
// non-empty value while mapping a message to a Fact. It is a separate type
// from ValidationError; internal/api maps it to 500.
type MissingKeyError struct {
	MessageType int
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("no key candidate field resolved for message type %d", e.MessageType)
}

// TypeError is a ValidationError subclass: a field's value could not be
// coerced per its configured FieldDataType.
type TypeError struct {
	Field string
	Msg   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Msg)
}

func NewTypeError(field, format string, args ...interface{}) error {
	return &TypeError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage-layer failure, classified as Transient
// (retryable once) or permanent (surfaced as 5xx).
type PersistenceError struct {
	Transient bool
	Op        string
	Err       error
}

func (e *PersistenceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("persistence error (%s) during %s: %v", kind, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewTransientPersistenceError(op string, err error) error {
	return &PersistenceError{Transient: true, Op: op, Err: err}
}

func NewPermanentPersistenceError(op string, err error) error {
	return &PersistenceError{Transient: false, Op: op, Err: err}
}

// TimeoutError is query-level: a dispatched counter aggregation exceeded its
// per-query timeout. It degrades that counter silently; never surfaced as a
// request-level error.
type TimeoutError struct {
	QueryID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query %s timed out", e.QueryID)
}

// NoAvailableWorkersError is returned by the dispatcher when no worker was
// acquired within workerAcquireTimeout. Surfaced to the caller as an empty
// counter map plus a metrics.info warning, never as a request failure.
var ErrNoAvailableWorkers = errors.New("no available workers")

// InternalError wraps an unexpected failure. Surfaced as 5xx and logged with
// its full error chain.
type InternalError struct {
	Msg string
	Err error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("internal error: %s: %v", e.Msg, e.Err)
	}
	return "internal error: " + e.Msg
}

func (e *InternalError) Unwrap() error { return e.Err }

func NewInternalError(msg string, err error) error {
	return &InternalError{Msg: msg, Err: err}
}

// IsTransientPersistence reports whether err is a retryable PersistenceError.
func IsTransientPersistence(err error) bool {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
