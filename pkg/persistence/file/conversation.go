package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// ConversationRepository handles conversation-related file operations.
type ConversationRepository struct {
	root string
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(root string) *ConversationRepository {
	return &ConversationRepository{root: root}
}

func (cr *ConversationRepository) dir() string {
	return filepath.Join(cr.root, "conversations")
}

// ByID returns the conversation with the given ID.
func (cr *ConversationRepository) ByID(_ context.Context, id string) (*models.Conversation, error) {
	if err := validateFileID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(cr.dir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrConversationNotFound
		}

		return nil, fmt.Errorf("failed to read conversation %s: %w", id, err)
	}

	var conversation models.Conversation

	err = json.Unmarshal(data, &conversation)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", id, err)
	}

	return &conversation, nil
}

// ByPhoneNumber returns the conversation owning the given customer phone.
func (cr *ConversationRepository) ByPhoneNumber(ctx context.Context, phone string) (*models.Conversation, error) {
	root := os.DirFS(cr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation files: %w", err)
	}

	for _, file := range jsonFiles {
		conversation, err := cr.ByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if conversation.PhoneNumber == phone {
			return conversation, nil
		}
	}

	return nil, persistence.ErrConversationNotFound
}

// Save persists the conversation and its window state.
func (cr *ConversationRepository) Save(_ context.Context, conversation *models.Conversation) error {
	if err := validateFileID(conversation.ID); err != nil {
		return err
	}

	err := os.MkdirAll(cr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create conversations directory: %w", err)
	}

	conversation.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation %s: %w", conversation.ID, err)
	}

	return writeFileAtomic(filepath.Join(cr.dir(), conversation.ID+".json"), data)
}
