package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// ChatbotRepository handles chatbot-related file operations.
type ChatbotRepository struct {
	root string
}

// NewChatbotRepository creates a new chatbot repository.
func NewChatbotRepository(root string) *ChatbotRepository {
	return &ChatbotRepository{root: root}
}

func validateFileID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}

func (cr *ChatbotRepository) dir() string {
	return filepath.Join(cr.root, "chatbots")
}

// All returns every stored chatbot.
func (cr *ChatbotRepository) All(ctx context.Context) ([]*models.Chatbot, error) {
	root := os.DirFS(cr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list chatbot files: %w", err)
	}

	chatbots := make([]*models.Chatbot, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		chatbot, err := cr.ByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		chatbots = append(chatbots, chatbot)
	}

	return chatbots, nil
}

// ByID returns the chatbot with the given ID.
func (cr *ChatbotRepository) ByID(_ context.Context, id string) (*models.Chatbot, error) {
	if err := validateFileID(id); err != nil {
		return nil, &persistence.ChatbotError{Op: "ByID", ChatbotID: id, Err: err}
	}

	data, err := os.ReadFile(filepath.Join(cr.dir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &persistence.ChatbotError{Op: "ByID", ChatbotID: id, Err: persistence.ErrChatbotNotFound}
		}

		return nil, fmt.Errorf("failed to read chatbot %s: %w", id, err)
	}

	var chatbot models.Chatbot

	err = json.Unmarshal(data, &chatbot)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal chatbot %s: %w", id, err)
	}

	return &chatbot, nil
}

// Save persists the chatbot definition.
func (cr *ChatbotRepository) Save(_ context.Context, chatbot *models.Chatbot) error {
	if err := validateFileID(chatbot.ID); err != nil {
		return &persistence.ChatbotError{Op: "Save", ChatbotID: chatbot.ID, Err: err}
	}

	err := os.MkdirAll(cr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create chatbots directory: %w", err)
	}

	chatbot.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(chatbot)
	if err != nil {
		return fmt.Errorf("failed to marshal chatbot %s: %w", chatbot.ID, err)
	}

	return writeFileAtomic(filepath.Join(cr.dir(), chatbot.ID+".json"), data)
}

// Delete removes the chatbot definition.
func (cr *ChatbotRepository) Delete(_ context.Context, id string) error {
	if err := validateFileID(id); err != nil {
		return &persistence.ChatbotError{Op: "Delete", ChatbotID: id, Err: err}
	}

	err := os.Remove(filepath.Join(cr.dir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &persistence.ChatbotError{Op: "Delete", ChatbotID: id, Err: persistence.ErrChatbotNotFound}
		}

		return fmt.Errorf("failed to delete chatbot %s: %w", id, err)
	}

	return nil
}

// writeFileAtomic writes data through a temp file and rename, so readers never
// observe a partially written entity.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write temp file for %s: %w", path, err)
	}

	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
