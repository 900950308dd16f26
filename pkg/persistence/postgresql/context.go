package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// ContextRepository handles conversation context database operations.
type ContextRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewContextRepository creates a new conversation context repository.
func NewContextRepository(db *sql.DB, logger *slog.Logger) *ContextRepository {
	return &ContextRepository{db: db, logger: logger}
}

const contextColumns = `id, conversation_id, chatbot_id, current_node_id, variables, node_history,
	node_outputs, is_active, status, last_event_id, expires_at, completed_at, completion_reason,
	created_at, updated_at`

const terminalStatuses = `('completed', 'failed')`

// uniqueViolation is the PostgreSQL error code raised when the partial unique
// index on live contexts rejects a second active context.
const uniqueViolation = "23505"

// ByID returns the context with the given ID.
func (cr *ContextRepository) ByID(ctx context.Context, id string) (*models.ConversationContext, error) {
	query := `SELECT ` + contextColumns + ` FROM conversation_contexts WHERE id = $1`

	execCtx, err := scanContext(cr.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewContextError("ByID", "", id, persistence.ErrContextNotFound)
		}

		return nil, fmt.Errorf("failed to scan context %s: %w", id, err)
	}

	return execCtx, nil
}

// LoadActive returns the single non-terminal context for the conversation.
func (cr *ContextRepository) LoadActive(ctx context.Context, conversationID string) (*models.ConversationContext, error) {
	query := `SELECT ` + contextColumns + `
		FROM conversation_contexts
		WHERE conversation_id = $1 AND status NOT IN ` + terminalStatuses

	execCtx, err := scanContext(cr.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewContextError("LoadActive", conversationID, "", persistence.ErrContextNotFound)
		}

		return nil, fmt.Errorf("failed to scan active context for conversation %s: %w", conversationID, err)
	}

	return execCtx, nil
}

// Create inserts a fresh context. The partial unique index on live contexts
// turns a concurrent double-create into ErrActiveContextExists.
func (cr *ContextRepository) Create(ctx context.Context, execCtx *models.ConversationContext) error {
	execCtx.CreatedAt = time.Now().UTC()
	execCtx.UpdatedAt = execCtx.CreatedAt

	query := `
		INSERT INTO conversation_contexts (` + contextColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := cr.db.ExecContext(ctx, query, contextArgs(execCtx)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewContextError("Create", execCtx.ConversationID, execCtx.ID, persistence.ErrActiveContextExists)
		}

		return fmt.Errorf("failed to create context %s: %w", execCtx.ID, err)
	}

	return nil
}

// Save upserts the whole context row in one statement, keeping current node,
// history, outputs and status consistent for any reader.
func (cr *ContextRepository) Save(ctx context.Context, execCtx *models.ConversationContext) error {
	execCtx.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO conversation_contexts (` + contextColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			current_node_id = EXCLUDED.current_node_id,
			variables = EXCLUDED.variables,
			node_history = EXCLUDED.node_history,
			node_outputs = EXCLUDED.node_outputs,
			is_active = EXCLUDED.is_active,
			status = EXCLUDED.status,
			last_event_id = EXCLUDED.last_event_id,
			expires_at = EXCLUDED.expires_at,
			completed_at = EXCLUDED.completed_at,
			completion_reason = EXCLUDED.completion_reason,
			updated_at = EXCLUDED.updated_at
	`

	_, err := cr.db.ExecContext(ctx, query, contextArgs(execCtx)...)
	if err != nil {
		return fmt.Errorf("failed to save context %s: %w", execCtx.ID, err)
	}

	return nil
}

// MarkCompleted transitions a live context to completed.
func (cr *ContextRepository) MarkCompleted(ctx context.Context, id, reason string, at time.Time) error {
	return cr.finish(ctx, "MarkCompleted", id, string(models.ContextStatusCompleted), reason, at)
}

// MarkFailed transitions a live context to failed.
func (cr *ContextRepository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	return cr.finish(ctx, "MarkFailed", id, string(models.ContextStatusFailed), reason, at)
}

func (cr *ContextRepository) finish(ctx context.Context, op, id, status, reason string, at time.Time) error {
	query := `
		UPDATE conversation_contexts
		SET status = $2, is_active = false, completion_reason = $3, completed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ` + terminalStatuses

	result, err := cr.db.ExecContext(ctx, query, id, status, reason, at)
	if err != nil {
		return fmt.Errorf("failed to finish context %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish result for context %s: %w", id, err)
	}

	if affected == 0 {
		_, err = cr.ByID(ctx, id)
		if err != nil {
			return err
		}

		return persistence.NewContextError(op, "", id, persistence.ErrContextTerminal)
	}

	return nil
}

// ByConversation returns every context for a conversation, terminal included.
func (cr *ContextRepository) ByConversation(ctx context.Context, conversationID string) ([]*models.ConversationContext, error) {
	query := `SELECT ` + contextColumns + `
		FROM conversation_contexts
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	return cr.queryContexts(ctx, query, conversationID)
}

// FindByNodeOutput uses JSONB containment over the GIN-indexed node_outputs
// column to find contexts where the given node produced the given output.
func (cr *ContextRepository) FindByNodeOutput(ctx context.Context, nodeID string, output any) ([]*models.ConversationContext, error) {
	probe, err := json.Marshal(map[string]any{nodeID: output})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output probe: %w", err)
	}

	query := `SELECT ` + contextColumns + `
		FROM conversation_contexts
		WHERE node_outputs @> $1
		ORDER BY created_at ASC`

	return cr.queryContexts(ctx, query, probe)
}

// ExpireStale sweeps abandoned contexts one row at a time so the sweep never
// blocks live traffic behind a long transaction.
func (cr *ContextRepository) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	rows, err := cr.db.QueryContext(ctx, `
		SELECT id FROM conversation_contexts
		WHERE expires_at < $1 AND status NOT IN `+terminalStatuses, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query stale contexts: %w", err)
	}

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err = rows.Scan(&id)
		if err != nil {
			_ = rows.Close()

			return 0, fmt.Errorf("failed to scan stale context id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()

	_ = rows.Close()

	if err != nil {
		return 0, fmt.Errorf("failed to iterate stale contexts: %w", err)
	}

	count := 0

	for _, id := range ids {
		result, err := cr.db.ExecContext(ctx, `
			UPDATE conversation_contexts
			SET status = $2, is_active = false, completion_reason = $3, completed_at = $1, updated_at = NOW()
			WHERE id = $4 AND status NOT IN `+terminalStatuses,
			now, models.ContextStatusFailed, models.CompletionReasonExpired, id)
		if err != nil {
			return count, fmt.Errorf("failed to expire context %s: %w", id, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return count, fmt.Errorf("failed to check expire result for context %s: %w", id, err)
		}

		count += int(affected)
	}

	return count, nil
}

func (cr *ContextRepository) queryContexts(ctx context.Context, query string, args ...any) ([]*models.ConversationContext, error) {
	rows, err := cr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contexts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	contexts := make([]*models.ConversationContext, 0)

	for rows.Next() {
		execCtx, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}

		contexts = append(contexts, execCtx)
	}

	return contexts, rows.Err()
}

func contextArgs(execCtx *models.ConversationContext) []any {
	variablesJSON, _ := json.Marshal(orEmptyMap(execCtx.Variables))
	historyJSON, _ := json.Marshal(orEmptySlice(execCtx.NodeHistory))
	outputsJSON, _ := json.Marshal(orEmptyMap(execCtx.NodeOutputs))

	return []any{
		execCtx.ID,
		execCtx.ConversationID,
		execCtx.ChatbotID,
		execCtx.CurrentNodeID,
		variablesJSON,
		historyJSON,
		outputsJSON,
		execCtx.IsActive,
		execCtx.Status,
		execCtx.LastEventID,
		execCtx.ExpiresAt,
		execCtx.CompletedAt,
		execCtx.CompletionReason,
		execCtx.CreatedAt,
		execCtx.UpdatedAt,
	}
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

func scanContext(row rowScanner) (*models.ConversationContext, error) {
	var (
		execCtx       models.ConversationContext
		variablesJSON []byte
		historyJSON   []byte
		outputsJSON   []byte
	)

	err := row.Scan(
		&execCtx.ID,
		&execCtx.ConversationID,
		&execCtx.ChatbotID,
		&execCtx.CurrentNodeID,
		&variablesJSON,
		&historyJSON,
		&outputsJSON,
		&execCtx.IsActive,
		&execCtx.Status,
		&execCtx.LastEventID,
		&execCtx.ExpiresAt,
		&execCtx.CompletedAt,
		&execCtx.CompletionReason,
		&execCtx.CreatedAt,
		&execCtx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(variablesJSON, &execCtx.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	err = json.Unmarshal(historyJSON, &execCtx.NodeHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node history: %w", err)
	}

	err = json.Unmarshal(outputsJSON, &execCtx.NodeOutputs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node outputs: %w", err)
	}

	return &execCtx, nil
}
