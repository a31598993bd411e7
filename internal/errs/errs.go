// Package errs enumerates the error kinds the liveshare core surfaces,
// mirroring the taxonomy in spec.md §7 (ERROR HANDLING DESIGN).
package errs

import "errors"

// Kind classifies an error for dispatch (session-fatal vs. recovered-locally)
// without callers needing to switch on error strings.
type Kind string

const (
	KindProtocol         Kind = "protocol_error"
	KindAuthFailure      Kind = "auth_failure"
	KindPermissionDenied Kind = "permission_denied"
	KindRoomFull         Kind = "room_full"
	KindRoomClosed       Kind = "room_closed"
	KindAlreadyJoined    Kind = "already_joined"
	KindAlreadyActive    Kind = "already_active"
	KindRateLimited      Kind = "rate_limit_exceeded"
	KindSlowConsumer     Kind = "slow_consumer"
	KindValidation       Kind = "validation_error"
	KindSnapshotTooLarge Kind = "snapshot_too_large"
	KindCodec            Kind = "codec_error"
	KindStorageDegraded  Kind = "storage_unavailable"
)

// Error is a typed liveshare error. Session-fatal kinds close the
// connection; all others are recovered locally per spec.md §7.
type Error struct {
	Kind    Kind
	Message string
	// Suggestion is optional corrective guidance surfaced in OpRejected.
	Suggestion string
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, New(KindX, "")) to match by Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func WithSuggestion(kind Kind, message, suggestion string) *Error {
	return &Error{Kind: kind, Message: message, Suggestion: suggestion}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fatal reports whether an error of this kind should close the connection,
// per spec.md §7's "connection-level faults close the connection;
// application-level faults never close it" principle.
func (k Kind) Fatal() bool {
	switch k {
	case KindProtocol, KindAuthFailure, KindRoomFull, KindRoomClosed,
		KindAlreadyJoined, KindRateLimited, KindSlowConsumer:
		return true
	default:
		return false
	}
}

// Sentinel errors for errors.Is comparisons against well-known kinds.
var (
	ErrRoomFull         = New(KindRoomFull, "room is full")
	ErrAlreadyJoined    = New(KindAlreadyJoined, "user already joined")
	ErrRoomClosed       = New(KindRoomClosed, "room is closed")
	ErrAlreadyActive    = New(KindAlreadyActive, "diagram already has an active room")
	ErrPermissionDenied = New(KindPermissionDenied, "permission denied")
)
