// Package models defines the core domain models for conversational flow execution.
package models

import "time"

// ChatbotStatus represents the lifecycle state of a chatbot flow definition.
type ChatbotStatus string

const (
	ChatbotStatusDraft    ChatbotStatus = "draft"    // Editable, not executable
	ChatbotStatusActive   ChatbotStatus = "active"   // Current active, executable
	ChatbotStatusArchived ChatbotStatus = "archived" // Historical, not executable
)

// Chatbot represents a stored flow graph defining conversational logic.
// The engine treats it as read-only input to execution; edits happen only
// through the builder API.
type Chatbot struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      ChatbotStatus  `json:"status"      validate:"required"`
	IsActive    bool           `json:"is_active"`
	Nodes       []*Node        `json:"nodes"`
	Edges       []*Edge        `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// Executable reports whether the chatbot is eligible for conversation execution.
func (c *Chatbot) Executable() bool {
	return c.IsActive && c.Status == ChatbotStatusActive && c.DeletedAt == nil
}
