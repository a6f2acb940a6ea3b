// Package xresult provides a typed two-arm success/failure value and the
// domain error taxonomy shared by every evolu-go component. It exists so
// fallible operations on the public facade never need to panic: every
// failure mode named in SPEC_FULL.md §7 is a concrete, inspectable error.
package xresult

import "errors"

// Result is a two-arm value: either Ok holds the value and Err is nil, or
// Err holds the failure and Ok is the zero value of T. Most internal
// packages return (T, error) directly — Result exists for the handful of
// call sites (Evolu facade, CRDT engine) that must hand a caller both a
// success payload and a typed error without collapsing the distinction
// the way a bare error return does.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail wraps a failure. Panics if err is nil — a Result always carries one
// real arm or the other, never an ambiguous "ok with no error" masquerading
// as the error arm.
func Fail[T any](err error) Result[T] {
	if err == nil {
		panic("xresult: Fail called with nil error")
	}
	return Result[T]{Err: err}
}

// IsOk reports whether the result succeeded.
func (r Result[T]) IsOk() bool { return r.Err == nil }

// Unwrap returns the value and error as a plain Go pair, for callers that
// prefer the idiomatic (T, error) shape at the boundary.
func (r Result[T]) Unwrap() (T, error) { return r.Value, r.Err }

// Error kinds from SPEC_FULL.md §7. Each is a sentinel usable with
// errors.Is; operations wrap one of these with fmt.Errorf("...: %w", ...)
// for context, the same way internal/storage/sqlite/errors.go wraps
// sql.ErrNoRows into ErrNotFound.
var (
	// ErrTimestampDrift is returned when a send/receive clock skew exceeds
	// the configured maxDrift.
	ErrTimestampDrift = errors.New("timestamp: clock drift exceeds maximum allowed")

	// ErrTimestampCounterOverflow is returned when more than 65535
	// timestamps would be minted within a single millisecond.
	ErrTimestampCounterOverflow = errors.New("timestamp: counter overflow")

	// ErrTimestampOutOfRange is returned when the physical clock has
	// passed the maximum representable millis value (2^48-2).
	ErrTimestampOutOfRange = errors.New("timestamp: millis out of representable range")

	// ErrSqlite marks a storage failure while applying received sync
	// frames, as reported on the facade's Errors channel.
	ErrSqlite = errors.New("storage: sqlite error")

	// ErrProtocol is returned for malformed wire messages.
	ErrProtocol = errors.New("protocol: malformed message")

	// ErrProtocolUnsupportedVersion is returned when a peer's envelope
	// version major is not one this build understands.
	ErrProtocolUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrDecrypt is returned when an AEAD open fails (wrong key, or a
	// corrupted/tampered ciphertext).
	ErrDecrypt = errors.New("crypto: decryption failed")

	// ErrMutationTooLarge is returned when a serialized mutation exceeds
	// the configured size limit.
	ErrMutationTooLarge = errors.New("mutation: serialized size exceeds limit")

	// ErrUnknown wraps any failure that does not fit another kind.
	ErrUnknown = errors.New("unknown error")
)

// Is reports whether err is, or wraps, one of the sentinels above. Thin
// wrapper kept for symmetry with the teacher's isNotFound/isConflict
// helpers in internal/storage/sqlite/errors.go.
func Is(err, target error) bool { return errors.Is(err, target) }
