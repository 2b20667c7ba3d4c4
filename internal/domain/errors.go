package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceNotConfigured reports an inbound service name without rule sets.
	ErrServiceNotConfigured = errors.New("no rules defined for service")
	// ErrNoRouteFound reports an alert that matched no routing rule.
	ErrNoRouteFound = errors.New("no alert route found")
	// ErrChannelNotFound reports a routed target the chat sink cannot resolve.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrUnauthorized reports an invalid per-service ingest token.
	ErrUnauthorized = errors.New("could not authorize request")
	// ErrSeverityUnset reports an alert reaching delivery without classification.
	ErrSeverityUnset = errors.New("alert severity is not set")
	// ErrTargetUnset reports an alert reaching delivery without a routed channel.
	ErrTargetUnset = errors.New("alert target channel is not set")
)

// DeliveryError wraps a chat-sink failure with the stage it happened at.
// MessageLost marks partial failures where the previous message was already
// deleted but no replacement was posted.
// Params: failed sink operation name, lost-message flag, and root cause.
// Returns: typed delivery failure surfaced to the pipeline caller.
type DeliveryError struct {
	Stage       string
	MessageLost bool
	Err         error
}

// Error renders stage-prefixed failure text.
// Params: none.
// Returns: string representation.
func (e *DeliveryError) Error() string {
	if e.MessageLost {
		return fmt.Sprintf("delivery failed at %s (previous message deleted without replacement): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("delivery failed at %s: %v", e.Stage, e.Err)
}

// Unwrap exposes the root cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
