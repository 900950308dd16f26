// Package file provides file-based persistence for local development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/waflow/waflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root             string
	chatbotRepo      *ChatbotRepository
	conversationRepo *ConversationRepository
	contextRepo      *ContextRepository
}

// NewPersistence creates a file persistence layer rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:             cleanRoot,
		chatbotRepo:      NewChatbotRepository(cleanRoot),
		conversationRepo: NewConversationRepository(cleanRoot),
		contextRepo:      NewContextRepository(cleanRoot),
	}
}

// Chatbots returns the chatbot repository.
func (fp *Persistence) Chatbots() persistence.ChatbotRepository {
	return fp.chatbotRepo
}

// Conversations returns the conversation repository.
func (fp *Persistence) Conversations() persistence.ConversationRepository {
	return fp.conversationRepo
}

// Contexts returns the conversation context repository.
func (fp *Persistence) Contexts() persistence.ContextRepository {
	return fp.contextRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file persistence there is nothing
// to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
