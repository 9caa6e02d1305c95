package talkbase

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error taxonomy
// ============================================================================

// Sentinel errors returned by SDK components. Callers should compare with
// errors.Is; every sentinel may arrive wrapped with operation context.
var (
	// ErrInvalidParticipant is returned when identity keying is given an
	// empty participant id. Not retryable without fixing the input.
	ErrInvalidParticipant = errors.New("talkbase: invalid participant id")

	// ErrNotFound is returned by edit/delete against a message, room, or
	// notification that no longer exists. Callers should refresh local state;
	// the desired end state may already hold.
	ErrNotFound = errors.New("talkbase: not found")

	// ErrAlreadyMember is returned when joining a community the user already
	// belongs to.
	ErrAlreadyMember = errors.New("talkbase: already a member")

	// ErrNotMember is returned when leaving a community the user does not
	// belong to.
	ErrNotMember = errors.New("talkbase: not a member")

	// ErrOffline is returned when an operation is attempted while the
	// connection gate reports the backend unreachable. Retryable once
	// connectivity returns.
	ErrOffline = errors.New("talkbase: offline")

	// ErrForbidden is returned when the caller is not authorized for the
	// mutation (e.g. deleting a community it did not create).
	ErrForbidden = errors.New("talkbase: forbidden")

	// ErrEmptyMessage is returned when appending a message with neither text
	// nor an attachment.
	ErrEmptyMessage = errors.New("talkbase: empty message")
)

// TransportError wraps a failure of the underlying platform call (permission,
// quota, network blip). No automatic retry is performed; repeated user action
// is the retry mechanism.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("talkbase: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// transportErr wraps err unless it is already one of the SDK sentinels.
func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrOffline) ||
		errors.Is(err, ErrAlreadyMember) || errors.Is(err, ErrNotMember) ||
		errors.Is(err, ErrInvalidParticipant) || errors.Is(err, ErrForbidden) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
