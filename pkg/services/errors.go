// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidStatus    = errors.New("invalid chatbot status")

	// Activation Validation Errors (400 Bad Request).
	ErrChatbotNameRequired = errors.New("chatbot name is required")
	ErrNodesRequired       = errors.New("chatbot must have at least one node")
	ErrStartNodeRequired   = errors.New("chatbot must have a start node")
	ErrDanglingEdge        = errors.New("edge references a missing node")
	ErrNodeConfigMissing   = errors.New("node is missing its type configuration")
	ErrChatbotNil          = errors.New("chatbot cannot be nil")

	// Business Logic Conflicts (409 Conflict).
	ErrCannotModifyArchived = errors.New("cannot modify archived chatbot")
	ErrAlreadyActive        = errors.New("chatbot is already active")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrChatbotNameRequired) ||
		errors.Is(err, ErrNodesRequired) ||
		errors.Is(err, ErrStartNodeRequired) ||
		errors.Is(err, ErrDanglingEdge) ||
		errors.Is(err, ErrNodeConfigMissing) ||
		errors.Is(err, ErrChatbotNil)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyArchived) ||
		errors.Is(err, ErrAlreadyActive)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
