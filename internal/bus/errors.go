package bus

import "errors"

var (
	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("bus: bridge not started")

	// ErrQueueFull is returned by the command handler when the inbound
	// queue cannot take another message.
	ErrQueueFull = errors.New("bus: command queue full")

	// ErrUnknownTopic is returned for a message outside the session topics.
	ErrUnknownTopic = errors.New("bus: unknown topic")
)
