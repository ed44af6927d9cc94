package engine

import (
	"fmt"
	"time"
)

// RateLimitExceededError is non-fatal: the caller may retry after
// NextAllowedAt.
type RateLimitExceededError struct {
	Window        string
	NextAllowedAt time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s window, next allowed at %s",
		e.Window, e.NextAllowedAt.Format(time.RFC3339))
}

// MissingVariableError means a required template variable was absent
// from the event data. Fatal for that render.
type MissingVariableError struct {
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing required template variable: %s", e.Variable)
}

// InvalidTemplateError covers syntax and variable-coverage problems,
// surfaced to the template author.
type InvalidTemplateError struct {
	Reason string
}

func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("invalid template: %s", e.Reason)
}

// InvalidStatusTransitionError guards entity lifecycles, e.g. moving an
// A/B test from completed back to active.
type InvalidStatusTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition: %s -> %s", e.Entity, e.From, e.To)
}

// ChannelDeliveryError is recorded per channel and never propagated to
// abort other channels or the in-app record.
type ChannelDeliveryError struct {
	Channel string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("delivery on channel %s failed: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error { return e.Err }
