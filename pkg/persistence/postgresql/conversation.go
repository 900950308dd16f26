package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// ConversationRepository handles conversation-related database operations.
type ConversationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db *sql.DB, logger *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, logger: logger}
}

const conversationColumns = `id, phone_number, last_customer_message_at, is_window_open, created_at, updated_at`

// ByID returns the conversation with the given ID.
func (cr *ConversationRepository) ByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conversation, err := scanConversation(cr.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrConversationNotFound
		}

		return nil, fmt.Errorf("failed to scan conversation %s: %w", id, err)
	}

	return conversation, nil
}

// ByPhoneNumber returns the conversation owning the given customer phone.
func (cr *ConversationRepository) ByPhoneNumber(ctx context.Context, phone string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE phone_number = $1`

	conversation, err := scanConversation(cr.db.QueryRowContext(ctx, query, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrConversationNotFound
		}

		return nil, fmt.Errorf("failed to scan conversation for phone %s: %w", phone, err)
	}

	return conversation, nil
}

// Save upserts the conversation and its window state.
func (cr *ConversationRepository) Save(ctx context.Context, conversation *models.Conversation) error {
	conversation.UpdatedAt = time.Now().UTC()
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = conversation.UpdatedAt
	}

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			last_customer_message_at = EXCLUDED.last_customer_message_at,
			is_window_open = EXCLUDED.is_window_open,
			updated_at = EXCLUDED.updated_at
	`

	_, err := cr.db.ExecContext(ctx, query,
		conversation.ID,
		conversation.PhoneNumber,
		conversation.LastCustomerMessageAt,
		conversation.IsWindowOpen,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conversation.ID, err)
	}

	return nil
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conversation models.Conversation

	err := row.Scan(
		&conversation.ID,
		&conversation.PhoneNumber,
		&conversation.LastCustomerMessageAt,
		&conversation.IsWindowOpen,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}
