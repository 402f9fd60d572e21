package voxflow

import (
	"errors"
	"fmt"
)

var (
	// ErrBrokerUnavailable means an envelope could not be durably enqueued.
	// No task id is issued; the caller decides whether to retry submission.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrNotFound means no result exists for the queried task id.
	ErrNotFound = errors.New("task not found")

	// ErrPollLimit means a bounded poller gave up before the task reached a
	// terminal state.
	ErrPollLimit = errors.New("poll limit reached")
)

// ValidationError rejects a submission whose payload is empty or of the wrong
// shape for its kind. Surfaced synchronously; nothing is enqueued.
type ValidationError struct {
	Kind   TaskKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Reason)
}

// UnknownKindError means a kind has no entry in the routing table. This is a
// configuration bug, not a runtime condition to recover from.
type UnknownKindError struct {
	Kind TaskKind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no route for task kind %q", e.Kind)
}
