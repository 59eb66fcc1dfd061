package s3

import (
	"errors"
	"fmt"
)

// Error taxonomy. The retry coordinator is the only component that converts
// a failure into a fresh attempt, and only for transient classes:
//
//   - RequestError with a 4xx status is permanent, everything else transient
//   - IntegrityError (missing/malformed/mismatched ETag) is transient
//   - ProtocolError (response missing an expected field) is fatal
//   - ConfigError (e.g. content too large for 10,000 parts) is fatal and
//     raised before any network call
//   - ErrStalled (no transfer progress within the stall window) is transient

// RequestError is a non-2xx HTTP response, carrying the status and, when the
// body was a parseable S3 error document, the service error code.
type RequestError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s (http %d)", e.Op, e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: request failed with status %d", e.Op, e.StatusCode)
}

// Retryable reports whether the failure is transient. Client errors (4xx)
// are permanent; 5xx and anything without a status are worth another try.
func (e *RequestError) Retryable() bool {
	return e.StatusCode < 400 || e.StatusCode > 499
}

// Is implements error comparison for errors.Is()
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode && (t.Code == "" || e.Code == t.Code)
}

// IntegrityError is an upload whose returned ETag was absent, malformed, or
// did not match the locally computed digest. Always transient: the content
// source is re-drained from the start on retry.
type IntegrityError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("%s: response ETag missing or malformed (expected %q)", e.Key, e.Expected)
	}
	return fmt.Sprintf("%s: ETag mismatch: expected %q, got %q", e.Key, e.Expected, e.Actual)
}

func (e *IntegrityError) Retryable() bool { return true }

// ProtocolError is a response that parsed but is missing a field the
// protocol requires. A service-contract violation, never retried.
type ProtocolError struct {
	Op    string
	Field string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: response missing %s", e.Op, e.Field)
}

func (e *ProtocolError) Retryable() bool { return false }

// ConfigError is a caller or configuration mistake detected before any
// network call.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string   { return e.Reason }
func (e *ConfigError) Retryable() bool { return false }

// ErrStalled marks a transfer that made no progress within the stall window.
// It surfaces as the cancellation cause of the in-flight attempt.
var ErrStalled = errors.New("transfer stalled")

// retryable classifies an error for the retry coordinator. Unknown errors
// (transport failures, timeouts) default to transient.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}
