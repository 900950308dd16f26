package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// ChatbotRepository handles chatbot-related database operations.
type ChatbotRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewChatbotRepository creates a new chatbot repository.
func NewChatbotRepository(db *sql.DB, logger *slog.Logger) *ChatbotRepository {
	return &ChatbotRepository{db: db, logger: logger}
}

const chatbotColumns = `id, name, description, status, is_active, nodes, edges, metadata, created_at, updated_at, deleted_at`

// All returns every non-deleted chatbot.
func (cr *ChatbotRepository) All(ctx context.Context) ([]*models.Chatbot, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE deleted_at IS NULL ORDER BY created_at DESC`

	rows, err := cr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query chatbots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chatbots := make([]*models.Chatbot, 0)

	for rows.Next() {
		chatbot, err := scanChatbot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chatbot: %w", err)
		}

		chatbots = append(chatbots, chatbot)
	}

	return chatbots, rows.Err()
}

// ByID returns the chatbot with the given ID.
func (cr *ChatbotRepository) ByID(ctx context.Context, id string) (*models.Chatbot, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE id = $1 AND deleted_at IS NULL`

	chatbot, err := scanChatbot(cr.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ChatbotError{Op: "ByID", ChatbotID: id, Err: persistence.ErrChatbotNotFound}
		}

		return nil, fmt.Errorf("failed to scan chatbot %s: %w", id, err)
	}

	return chatbot, nil
}

// Save upserts the chatbot definition.
func (cr *ChatbotRepository) Save(ctx context.Context, chatbot *models.Chatbot) error {
	nodesJSON, err := json.Marshal(chatbot.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(chatbot.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	metadataJSON, err := json.Marshal(chatbot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	chatbot.UpdatedAt = time.Now().UTC()
	if chatbot.CreatedAt.IsZero() {
		chatbot.CreatedAt = chatbot.UpdatedAt
	}

	query := `
		INSERT INTO chatbots (` + chatbotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			is_active = EXCLUDED.is_active,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = cr.db.ExecContext(ctx, query,
		chatbot.ID,
		chatbot.Name,
		chatbot.Description,
		chatbot.Status,
		chatbot.IsActive,
		nodesJSON,
		edgesJSON,
		metadataJSON,
		chatbot.CreatedAt,
		chatbot.UpdatedAt,
		chatbot.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save chatbot %s: %w", chatbot.ID, err)
	}

	return nil
}

// Delete soft deletes a chatbot by setting deleted_at.
func (cr *ChatbotRepository) Delete(ctx context.Context, id string) error {
	result, err := cr.db.ExecContext(ctx,
		`UPDATE chatbots SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chatbot %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result for chatbot %s: %w", id, err)
	}

	if affected == 0 {
		return &persistence.ChatbotError{Op: "Delete", ChatbotID: id, Err: persistence.ErrChatbotNotFound}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatbot(row rowScanner) (*models.Chatbot, error) {
	var (
		chatbot      models.Chatbot
		nodesJSON    []byte
		edgesJSON    []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&chatbot.ID,
		&chatbot.Name,
		&chatbot.Description,
		&chatbot.Status,
		&chatbot.IsActive,
		&nodesJSON,
		&edgesJSON,
		&metadataJSON,
		&chatbot.CreatedAt,
		&chatbot.UpdatedAt,
		&chatbot.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(nodesJSON, &chatbot.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	err = json.Unmarshal(edgesJSON, &chatbot.Edges)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if len(metadataJSON) > 0 {
		err = json.Unmarshal(metadataJSON, &chatbot.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &chatbot, nil
}
