package domain

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Application error codes
const (
	EINVALID   = "invalid"        // Invalid input or validation failure
	ENOTFOUND  = "not_found"      // Resource not found
	ECONFLICT  = "conflict"       // Resource conflict (e.g., duplicate)
	ETOOLARGE  = "too_large"      // Request entity too large
	ERATELIMIT = "rate_limited"   // Too many frames for one camera or scene
	EINTERNAL  = "internal"       // Internal server error
	EPROVIDER  = "provider"       // Vision provider failed or timed out
	EPARSE     = "parse"          // Model output could not be parsed
	ERECONCILE = "reconciliation" // A detection could not be applied to the hazard store
	EPERSIST   = "persistence"    // Durable write failed; the frame may be retried
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "hazard.create")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return EPARSE
	}
	var pse *PersistenceError
	if errors.As(err, &pse) {
		return EPERSIST
	}
	var re *ReconciliationError
	if errors.As(err, &re) {
		return ERECONCILE
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return "The analysis result could not be read: " + pe.Reason
	}
	var pse *PersistenceError
	if errors.As(err, &pse) {
		return "The result could not be saved. Please retry the frame."
	}
	var e *Error
	if errors.As(err, &e) {
		// For internal errors, return generic message
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var pse *PersistenceError
	if errors.As(err, &pse) {
		return pse.Op
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Provider creates a vision provider error.
func Provider(err error, op string) *Error {
	return &Error{
		Code:    EPROVIDER,
		Op:      op,
		Message: "vision analysis failed",
		Err:     err,
	}
}

// =============================================================================
// Pipeline Errors
// =============================================================================

// maxRawSnippet bounds how much model output a ParseError carries.
const maxRawSnippet = 512

// ParseError reports model output that could not be turned into a result.
type ParseError struct {
	Schema string // "detection" or "scene_state"
	Reason string
	Raw    string // truncated model output
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Schema, e.Reason)
}

// NewParseError builds a ParseError, truncating raw to a bounded snippet.
func NewParseError(schema, reason, raw string) *ParseError {
	return &ParseError{Schema: schema, Reason: reason, Raw: Truncate(raw, maxRawSnippet)}
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Reconciliation failure reasons.
const (
	ReasonUnknownHazard     = "unknown_hazard"
	ReasonCameraMismatch    = "camera_mismatch"
	ReasonIllegalTransition = "illegal_transition"
	ReasonInvalidHazard     = "invalid_hazard"
)

// ReconciliationError is a per-entry failure. It never aborts the pass.
type ReconciliationError struct {
	HazardID string
	Reason   string
	Detail   string
}

func (e *ReconciliationError) Error() string {
	subject := "new hazard"
	if e.HazardID != "" {
		subject = "hazard " + e.HazardID
	}
	if e.Detail != "" {
		return fmt.Sprintf("reconcile %s: %s: %s", subject, e.Reason, e.Detail)
	}
	return fmt.Sprintf("reconcile %s: %s", subject, e.Reason)
}

// PersistenceError reports a failed durable write. Nothing from the failed
// attempt is visible afterwards.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
