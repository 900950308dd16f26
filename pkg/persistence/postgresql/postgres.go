// Package postgresql provides PostgreSQL persistence for chatbots,
// conversations and conversation contexts.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/waflow/waflow/pkg/persistence"
	"github.com/waflow/waflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db               *sql.DB
	logger           *slog.Logger
	chatbotRepo      *ChatbotRepository
	conversationRepo *ConversationRepository
	contextRepo      *ContextRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs pending
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:               database,
		logger:           logger,
		chatbotRepo:      NewChatbotRepository(database, logger),
		conversationRepo: NewConversationRepository(database, logger),
		contextRepo:      NewContextRepository(database, logger),
	}, nil
}

// Chatbots returns the chatbot repository.
func (p *Persistence) Chatbots() persistence.ChatbotRepository {
	return p.chatbotRepo
}

// Conversations returns the conversation repository.
func (p *Persistence) Conversations() persistence.ConversationRepository {
	return p.conversationRepo
}

// Contexts returns the conversation context repository.
func (p *Persistence) Contexts() persistence.ContextRepository {
	return p.contextRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
