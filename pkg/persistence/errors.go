// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrChatbotNotFound indicates a chatbot was not found by the given identifier.
	ErrChatbotNotFound = errors.New("chatbot not found")

	// ErrConversationNotFound indicates a conversation was not found.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrContextNotFound indicates no conversation context matched the lookup.
	ErrContextNotFound = errors.New("conversation context not found")

	// ErrActiveContextExists indicates the conversation already has a live
	// execution; a second active context must not be created.
	ErrActiveContextExists = errors.New("active context already exists for conversation")

	// ErrContextTerminal indicates a write was attempted against a context
	// that already reached a terminal state.
	ErrContextTerminal = errors.New("context already terminal")
)

// ContextError wraps context-store errors with operation context.
type ContextError struct {
	Op             string // Operation being performed (e.g. "Create", "Save", "LoadActive")
	ConversationID string
	ContextID      string
	Err            error
}

func (e *ContextError) Error() string {
	target := e.ContextID
	if target == "" {
		target = "conversation " + e.ConversationID
	}

	return fmt.Sprintf("%s operation failed for context %s: %v", e.Op, target, e.Err)
}

func (e *ContextError) Unwrap() error {
	return e.Err
}

func (e *ContextError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewContextError creates a context-store error with operation context.
func NewContextError(op, conversationID, contextID string, err error) *ContextError {
	return &ContextError{Op: op, ConversationID: conversationID, ContextID: contextID, Err: err}
}

// ChatbotError wraps chatbot-store errors with operation context.
type ChatbotError struct {
	Op        string
	ChatbotID string
	Err       error
}

func (e *ChatbotError) Error() string {
	return fmt.Sprintf("%s operation failed for chatbot %s: %v", e.Op, e.ChatbotID, e.Err)
}

func (e *ChatbotError) Unwrap() error {
	return e.Err
}

func (e *ChatbotError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsChatbotNotFound checks if an error indicates a chatbot was not found.
func IsChatbotNotFound(err error) bool {
	return errors.Is(err, ErrChatbotNotFound)
}

// IsConversationNotFound checks if an error indicates a conversation was not found.
func IsConversationNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}

// IsContextNotFound checks if an error indicates no context matched.
func IsContextNotFound(err error) bool {
	return errors.Is(err, ErrContextNotFound)
}

// IsActiveContextExists checks if an error indicates a live context conflict.
func IsActiveContextExists(err error) bool {
	return errors.Is(err, ErrActiveContextExists)
}

// IsContextTerminal checks if an error indicates the context already finished.
func IsContextTerminal(err error) bool {
	return errors.Is(err, ErrContextTerminal)
}
