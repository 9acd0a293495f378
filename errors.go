package monarch

import (
	"context"
	"errors"
	"fmt"
)

// Class is the fixed, mutually exclusive failure taxonomy that drives retry
// policy. Every failure surfaced by the client maps to exactly one Class.
type Class uint8

const (
	// ClassUnknown covers failures that fit no other class. Never retried.
	ClassUnknown Class = iota
	// ClassValidation marks caller errors (bad variables, malformed input).
	ClassValidation
	// ClassAuthentication marks rejected or expired credentials.
	ClassAuthentication
	// ClassMFARequired marks a login that needs a second factor.
	ClassMFARequired
	// ClassInvalidMFA marks a rejected, expired, or reused MFA code.
	ClassInvalidMFA
	// ClassRateLimited marks an explicit rate-limit signal (HTTP 429 or a
	// RATE_LIMITED error payload).
	ClassRateLimited
	// ClassNetwork marks transport failures where the request may or may not
	// have reached the server.
	ClassNetwork
	// ClassServer marks 5xx responses.
	ClassServer
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAuthentication:
		return "authentication"
	case ClassMFARequired:
		return "mfa_required"
	case ClassInvalidMFA:
		return "invalid_mfa"
	case ClassRateLimited:
		return "rate_limited"
	case ClassNetwork:
		return "network"
	case ClassServer:
		return "server"
	default:
		return "unknown"
	}
}

// retryable reports whether the executor's policy table permits retrying the
// class at all. Authentication is handled separately (single re-auth).
func (c Class) retryable() bool {
	switch c {
	case ClassNetwork, ClassServer, ClassRateLimited:
		return true
	default:
		return false
	}
}

// Condition is orthogonal to Class: it records that a failure was cut short
// by the caller's deadline or cancellation rather than decided by the server.
type Condition uint8

const (
	// ConditionNone is the zero condition.
	ConditionNone Condition = iota
	// ConditionTimeout marks a deadline expiry, including the poller's
	// overall wait budget.
	ConditionTimeout
	// ConditionCancelled marks caller cancellation during a suspension point
	// (network wait, backoff delay, poll wait).
	ConditionCancelled
)

func (c Condition) String() string {
	switch c {
	case ConditionTimeout:
		return "timeout"
	case ConditionCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

var (
	// ErrNotReady is returned when a client method runs before Build.
	ErrNotReady = errors.New("client not initialized")
	// ErrInvalidCredentials is returned when the server rejects the
	// email/password pair. The credentials themselves are never echoed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMFARequired is returned when login needs a second factor.
	ErrMFARequired = errors.New("multi-factor authentication required")
	// ErrInvalidMFACode is returned for rejected, expired, or reused codes.
	// The same code can never be retried.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrNoPendingMFA is returned when CompleteMFA runs outside the
	// PendingMFA state.
	ErrNoPendingMFA = errors.New("no pending mfa challenge")
	// ErrNoCredentials is returned when a re-login is needed but credentials
	// were not retained.
	ErrNoCredentials = errors.New("credentials not retained")
	// ErrRateLimited is the cause carried by ClassRateLimited failures.
	ErrRateLimited = errors.New("rate limited")
	// ErrWaitTimeout is returned by the poller when the job does not reach a
	// terminal status within the overall wait budget.
	ErrWaitTimeout = errors.New("wait timed out")
	// ErrRefreshFailed is returned when a server-side account refresh job
	// reports a terminal failure.
	ErrRefreshFailed = errors.New("account refresh failed")
)

// Error is the classified failure type surfaced by the client. It carries
// the class, the number of attempts actually sent (so callers can tell
// "gave up after retrying" from "refused immediately"), and the orthogonal
// timeout/cancellation condition.
//
// A failure that is purely a deadline or cancellation — the caller gave up
// while waiting on a shared refresh, a poll budget, or a backoff sleep
// before any server verdict arrived — carries [ClassUnknown] with the
// condition set. Callers should branch on [ConditionOf] before [ClassOf].
type Error struct {
	Class     Class
	Condition Condition
	Operation string
	Attempts  int
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Operation, e.Class)
	if e.Condition != ConditionNone {
		msg += " (" + e.Condition.String() + ")"
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf extracts the classification from err, or ClassUnknown when err is
// not a classified failure.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}

// ConditionOf extracts the timeout/cancellation condition from err.
func ConditionOf(err error) Condition {
	var ce *Error
	if errors.As(err, &ce) && ce.Condition != ConditionNone {
		return ce.Condition
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ConditionTimeout
	case errors.Is(err, context.Canceled):
		return ConditionCancelled
	default:
		return ConditionNone
	}
}

// IsClass reports whether err carries the given classification.
func IsClass(err error, c Class) bool {
	return ClassOf(err) == c
}

func conditionFromContext(err error) Condition {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ConditionTimeout
	case errors.Is(err, context.Canceled):
		return ConditionCancelled
	default:
		return ConditionNone
	}
}
