package session

import "errors"

var (
	// ErrNotFound is returned when no live session exists for a code, or when
	// an answer is submitted for a session that has no producer to receive it.
	ErrNotFound = errors.New("no session for code")
	// ErrNotReady is returned by GetAnswer while the session exists but the
	// consumer has not submitted an answer yet.
	ErrNotReady = errors.New("answer not ready")
	// ErrTooManySessions is returned by StoreOffer when the configured session
	// cap would be exceeded by a new code.
	ErrTooManySessions = errors.New("too many sessions")
)
