// Package engine implements the conversation execution state machine.
package engine

import (
	"errors"
	"fmt"
)

// Conflict conditions surfaced to the caller, which drops or requeues the
// event. Unlike graph errors these never fail the context.
var (
	// ErrAlreadyTerminal indicates the conversation's execution was finished
	// out of band and must not be resumed.
	ErrAlreadyTerminal = errors.New("conversation execution already terminal")

	// ErrConcurrentContext indicates another event created the context first.
	ErrConcurrentContext = errors.New("concurrent context creation detected")

	// ErrNoActiveFlow indicates no live context exists and the event did not
	// select a chatbot to start one.
	ErrNoActiveFlow = errors.New("no active flow for conversation")

	// ErrChatbotNotExecutable indicates the selected chatbot is inactive,
	// archived or deleted.
	ErrChatbotNotExecutable = errors.New("chatbot is not executable")
)

// ConflictError wraps a conflict condition with conversation context.
type ConflictError struct {
	ConversationID string
	Err            error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict for conversation %s: %v", e.ConversationID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func (e *ConflictError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsConflict checks if an error is a conflict the caller should resolve by
// dropping or requeueing the event.
func IsConflict(err error) bool {
	var ce *ConflictError

	return errors.As(err, &ce)
}
