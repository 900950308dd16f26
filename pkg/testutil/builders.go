// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/waflow/waflow/pkg/models"
)

// CreateTestChatbot creates an active chatbot with default values that can
// be overridden.
func CreateTestChatbot(overrides ...func(*models.Chatbot)) *models.Chatbot {
	now := time.Now().UTC()

	chatbot := &models.Chatbot{
		ID:        uuid.New().String(),
		Name:      "Test chatbot",
		Status:    models.ChatbotStatusActive,
		IsActive:  true,
		Nodes:     []*models.Node{},
		Edges:     []*models.Edge{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(chatbot)
	}

	return chatbot
}

// WithGraph sets the chatbot's nodes and edges.
func WithGraph(nodes []*models.Node, edges []*models.Edge) func(*models.Chatbot) {
	return func(c *models.Chatbot) {
		c.Nodes = nodes
		c.Edges = edges
	}
}

// WithStatus sets the chatbot's lifecycle status; non-active statuses also
// clear the executable flag.
func WithStatus(status models.ChatbotStatus) func(*models.Chatbot) {
	return func(c *models.Chatbot) {
		c.Status = status
		c.IsActive = status == models.ChatbotStatusActive
	}
}

// StartNode creates a start node.
func StartNode(id string) *models.Node {
	return &models.Node{ID: id, Type: models.NodeTypeStart}
}

// MessageNode creates a message node.
func MessageNode(id, text string, terminal bool) *models.Node {
	return &models.Node{
		ID:   id,
		Type: models.NodeTypeMessage,
		Data: models.NodeData{
			Terminal: terminal,
			Message:  &models.MessageConfig{Text: text},
		},
	}
}

// QuestionNode creates a question node binding the answer to variable.
func QuestionNode(id, prompt, variable string) *models.Node {
	return &models.Node{
		ID:   id,
		Type: models.NodeTypeQuestion,
		Data: models.NodeData{
			Question: &models.QuestionConfig{Prompt: prompt, Variable: variable},
		},
	}
}

// ConditionNode creates a condition node.
func ConditionNode(id, expression string) *models.Node {
	return &models.Node{
		ID:   id,
		Type: models.NodeTypeCondition,
		Data: models.NodeData{
			Condition: &models.ConditionConfig{Expression: expression},
		},
	}
}

// Edge creates an unlabeled edge.
func Edge(source, target string) *models.Edge {
	return &models.Edge{ID: source + "->" + target, Source: source, Target: target}
}

// BranchEdge creates an edge matched by a condition result.
func BranchEdge(source, target, handle string) *models.Edge {
	edge := Edge(source, target)
	edge.SourceHandle = handle

	return edge
}

// CreateTestContext creates a running conversation context with default
// values that can be overridden.
func CreateTestContext(overrides ...func(*models.ConversationContext)) *models.ConversationContext {
	now := time.Now().UTC()

	execCtx := &models.ConversationContext{
		ID:             uuid.New().String(),
		ConversationID: "conv-" + uuid.New().String(),
		ChatbotID:      "bot-" + uuid.New().String(),
		Status:         models.ContextStatusRunning,
		IsActive:       true,
		Variables:      map[string]any{},
		NodeOutputs:    map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, override := range overrides {
		override(execCtx)
	}

	return execCtx
}

// WithContextStatus sets the context status, keeping the legacy active flag
// consistent.
func WithContextStatus(status models.ContextStatus) func(*models.ConversationContext) {
	return func(c *models.ConversationContext) {
		c.Status = status
		c.IsActive = status == models.ContextStatusRunning || status == models.ContextStatusWaitingInput
	}
}

// WithExpiry sets the context expiry.
func WithExpiry(at time.Time) func(*models.ConversationContext) {
	return func(c *models.ConversationContext) {
		c.ExpiresAt = &at
	}
}
