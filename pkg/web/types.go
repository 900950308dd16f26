// Package web provides HTTP request and response types for the chatbot API.
package web

import "github.com/waflow/waflow/pkg/models"

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CreateChatbotRequest represents the request body for creating a new chatbot.
// The graph may be supplied up front or built incrementally via updates.
type CreateChatbotRequest struct {
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Nodes       []*models.Node `json:"nodes,omitempty"`
	Edges       []*models.Edge `json:"edges,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateChatbotRequest represents the request body for updating an existing
// chatbot. All fields are optional to support partial updates; node and edge
// lists replace the stored graph wholesale when present.
type UpdateChatbotRequest struct {
	Name        *string        `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string        `json:"description,omitempty"`
	Nodes       []*models.Node `json:"nodes,omitempty"`
	Edges       []*models.Edge `json:"edges,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SearchContextsRequest represents the request body for searching contexts
// by recorded node output.
type SearchContextsRequest struct {
	NodeID string `json:"node_id" validate:"required"`
	Output any    `json:"output"`
}

// ContextResponse is the inspection view of a conversation context.
type ContextResponse struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	ChatbotID        string         `json:"chatbot_id"`
	CurrentNodeID    string         `json:"current_node_id"`
	Status           string         `json:"status"`
	Variables        map[string]any `json:"variables,omitempty"`
	NodeHistory      []string       `json:"node_history,omitempty"`
	NodeOutputs      map[string]any `json:"node_outputs,omitempty"`
	CompletionReason string         `json:"completion_reason,omitempty"`
}

// TransformContextResponse builds the API view of a context.
func TransformContextResponse(execCtx *models.ConversationContext) ContextResponse {
	return ContextResponse{
		ID:               execCtx.ID,
		ConversationID:   execCtx.ConversationID,
		ChatbotID:        execCtx.ChatbotID,
		CurrentNodeID:    execCtx.CurrentNodeID,
		Status:           string(execCtx.Status),
		Variables:        execCtx.Variables,
		NodeHistory:      execCtx.NodeHistory,
		NodeOutputs:      execCtx.NodeOutputs,
		CompletionReason: execCtx.CompletionReason,
	}
}
