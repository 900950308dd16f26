package models

import "time"

// ContextStatus defines the lifecycle states of a conversation context.
type ContextStatus string

const (
	ContextStatusRunning      ContextStatus = "running"
	ContextStatusWaitingInput ContextStatus = "waiting_input"
	ContextStatusCompleted    ContextStatus = "completed"
	ContextStatusFailed       ContextStatus = "failed"
)

// Completion reasons recorded on terminal contexts.
const (
	CompletionReasonTerminalNode      = "terminal_node_reached"
	CompletionReasonNoMatchingBranch  = "no_matching_branch"
	CompletionReasonStepLimitExceeded = "step_limit_exceeded"
	CompletionReasonDeadEnd           = "dead_end"
	CompletionReasonNodeNotFound      = "node_not_found"
	CompletionReasonInvalidNode       = "invalid_node_config"
	CompletionReasonActionFailed      = "action_failed"
	CompletionReasonExpired           = "expired"
	CompletionReasonCancelled         = "cancelled"
)

// ConversationContext is the persisted execution state binding a conversation
// to its position and variables within a chatbot's graph. At most one
// non-terminal context exists per conversation at a time.
type ConversationContext struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id" validate:"required"`
	ChatbotID        string         `json:"chatbot_id"      validate:"required"`
	CurrentNodeID    string         `json:"current_node_id"`
	Variables        map[string]any `json:"variables,omitempty"`
	NodeHistory      []string       `json:"node_history,omitempty"`
	NodeOutputs      map[string]any `json:"node_outputs,omitempty"`
	IsActive         bool           `json:"is_active"` // Legacy flag, superseded by Status
	Status           ContextStatus  `json:"status"`
	LastEventID      string         `json:"last_event_id,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CompletionReason string         `json:"completion_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the context reached a final state.
func (c *ConversationContext) IsTerminal() bool {
	return c.Status == ContextStatusCompleted || c.Status == ContextStatusFailed
}

// AppendHistory appends nodeID to the visit history unless it is already the
// last entry. History only grows, never shrinks or reorders.
func (c *ConversationContext) AppendHistory(nodeID string) {
	if n := len(c.NodeHistory); n > 0 && c.NodeHistory[n-1] == nodeID {
		return
	}

	c.NodeHistory = append(c.NodeHistory, nodeID)
}

// SetVariable binds a value into the context's scratch space.
func (c *ConversationContext) SetVariable(name string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}

	c.Variables[name] = value
}

// RecordOutput stores the last produced output of a node, keyed for
// idempotent re-entry and test inspection.
func (c *ConversationContext) RecordOutput(nodeID string, output any) {
	if c.NodeOutputs == nil {
		c.NodeOutputs = make(map[string]any)
	}

	c.NodeOutputs[nodeID] = output
}

// Complete transitions the context to its completed terminal state.
func (c *ConversationContext) Complete(reason string, at time.Time) {
	c.Status = ContextStatusCompleted
	c.IsActive = false
	c.CompletionReason = reason
	c.CompletedAt = &at
}

// Fail transitions the context to its failed terminal state. Accumulated
// variables and history are preserved for diagnosis.
func (c *ConversationContext) Fail(reason string, at time.Time) {
	c.Status = ContextStatusFailed
	c.IsActive = false
	c.CompletionReason = reason
	c.CompletedAt = &at
}

// Expired reports whether the session passed its expiry without activity.
func (c *ConversationContext) Expired(now time.Time) bool {
	return !c.IsTerminal() && c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}
