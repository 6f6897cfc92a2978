package session

import "errors"

var (
	// ErrClosed is returned by every method once the session has stopped.
	ErrClosed = errors.New("session: closed")

	// ErrUnknownOp is returned for a command whose op is not recognised.
	ErrUnknownOp = errors.New("session: unknown op")

	// ErrInvalidCommand is returned when a command lacks a required field.
	ErrInvalidCommand = errors.New("session: invalid command")

	// ErrSessionOpen is returned by Registry.WithoutSession when the
	// workflow already has a session.
	ErrSessionOpen = errors.New("session: workflow has an open session")
)
