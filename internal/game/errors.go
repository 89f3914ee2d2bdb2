package game

import "errors"

var (
	// ErrNotFound means no session exists for the code, in memory or in the
	// durable mirror.
	ErrNotFound = errors.New("game: not found")

	// ErrInvalidState means the operation is not valid for the session's
	// current status (e.g. joining a game that already left waiting).
	ErrInvalidState = errors.New("game: invalid state")

	// ErrUnauthorized means a non-host connection attempted a host-only
	// operation.
	ErrUnauthorized = errors.New("game: unauthorized")

	// ErrCodeSpaceExhausted means a unique game code could not be generated
	// within the retry budget.
	ErrCodeSpaceExhausted = errors.New("game: code space exhausted")
)
