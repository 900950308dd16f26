// Package persistence provides the data storage abstraction for chatbots,
// conversations and conversation contexts.
package persistence

import (
	"context"
	"time"

	"github.com/waflow/waflow/pkg/models"
)

// Persistence is the storage entry point handed to services and the engine.
type Persistence interface {
	Chatbots() ChatbotRepository
	Conversations() ConversationRepository
	Contexts() ContextRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ChatbotRepository stores flow definitions. The engine only reads them.
type ChatbotRepository interface {
	All(ctx context.Context) ([]*models.Chatbot, error)
	ByID(ctx context.Context, id string) (*models.Chatbot, error)
	Save(ctx context.Context, chatbot *models.Chatbot) error
	Delete(ctx context.Context, id string) error
}

// ConversationRepository stores conversations and their window state.
type ConversationRepository interface {
	ByID(ctx context.Context, id string) (*models.Conversation, error)
	ByPhoneNumber(ctx context.Context, phone string) (*models.Conversation, error)
	Save(ctx context.Context, conversation *models.Conversation) error
}

// ContextRepository stores conversation execution contexts. Save must be
// atomic for the whole row: variables, node outputs, history, current node
// and status persist together or not at all.
type ContextRepository interface {
	ByID(ctx context.Context, id string) (*models.ConversationContext, error)

	// LoadActive returns the single non-terminal context for a conversation,
	// or ErrContextNotFound when the conversation has no live execution.
	LoadActive(ctx context.Context, conversationID string) (*models.ConversationContext, error)

	// Create persists a fresh context. It fails with ErrActiveContextExists
	// when the conversation already has a live execution; callers resolve by
	// reusing the existing context rather than double-creating.
	Create(ctx context.Context, execCtx *models.ConversationContext) error

	Save(ctx context.Context, execCtx *models.ConversationContext) error

	MarkCompleted(ctx context.Context, id, reason string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error

	// ByConversation returns all contexts, terminal included, for inspection.
	ByConversation(ctx context.Context, conversationID string) ([]*models.ConversationContext, error)

	// FindByNodeOutput returns contexts where the given node produced the
	// given output, for test and debug tooling.
	FindByNodeOutput(ctx context.Context, nodeID string, output any) ([]*models.ConversationContext, error)

	// ExpireStale sweeps non-terminal contexts whose expiry passed, marking
	// them failed with the expired completion reason. Returns the count of
	// contexts swept.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}
