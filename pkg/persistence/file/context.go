package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// ContextRepository handles conversation context file operations. A single
// mutex covers check-and-write sequences; file persistence targets local
// development and tests, not multi-process deployments.
type ContextRepository struct {
	root string
	mu   sync.Mutex
}

// NewContextRepository creates a new conversation context repository.
func NewContextRepository(root string) *ContextRepository {
	return &ContextRepository{root: root}
}

func (cr *ContextRepository) dir() string {
	return filepath.Join(cr.root, "contexts")
}

// ByID returns the context with the given ID.
func (cr *ContextRepository) ByID(_ context.Context, id string) (*models.ConversationContext, error) {
	if err := validateFileID(id); err != nil {
		return nil, persistence.NewContextError("ByID", "", id, err)
	}

	return cr.read(id)
}

func (cr *ContextRepository) read(id string) (*models.ConversationContext, error) {
	data, err := os.ReadFile(filepath.Join(cr.dir(), id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewContextError("ByID", "", id, persistence.ErrContextNotFound)
		}

		return nil, fmt.Errorf("failed to read context %s: %w", id, err)
	}

	var execCtx models.ConversationContext

	err = json.Unmarshal(data, &execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal context %s: %w", id, err)
	}

	return &execCtx, nil
}

func (cr *ContextRepository) all() ([]*models.ConversationContext, error) {
	root := os.DirFS(cr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list context files: %w", err)
	}

	contexts := make([]*models.ConversationContext, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		execCtx, err := cr.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		contexts = append(contexts, execCtx)
	}

	return contexts, nil
}

// LoadActive returns the single non-terminal context for the conversation.
func (cr *ContextRepository) LoadActive(_ context.Context, conversationID string) (*models.ConversationContext, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	return cr.loadActiveLocked(conversationID)
}

func (cr *ContextRepository) loadActiveLocked(conversationID string) (*models.ConversationContext, error) {
	contexts, err := cr.all()
	if err != nil {
		return nil, err
	}

	for _, execCtx := range contexts {
		if execCtx.ConversationID == conversationID && !execCtx.IsTerminal() {
			return execCtx, nil
		}
	}

	return nil, persistence.NewContextError("LoadActive", conversationID, "", persistence.ErrContextNotFound)
}

// Create persists a fresh context, failing when the conversation already has
// a live execution.
func (cr *ContextRepository) Create(ctx context.Context, execCtx *models.ConversationContext) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	existing, err := cr.loadActiveLocked(execCtx.ConversationID)
	if err != nil && !persistence.IsContextNotFound(err) {
		return err
	}

	if existing != nil {
		return persistence.NewContextError("Create", execCtx.ConversationID, execCtx.ID, persistence.ErrActiveContextExists)
	}

	execCtx.CreatedAt = time.Now().UTC()

	return cr.writeLocked(execCtx)
}

// Save atomically persists the whole context state.
func (cr *ContextRepository) Save(_ context.Context, execCtx *models.ConversationContext) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	return cr.writeLocked(execCtx)
}

func (cr *ContextRepository) writeLocked(execCtx *models.ConversationContext) error {
	if err := validateFileID(execCtx.ID); err != nil {
		return persistence.NewContextError("Save", execCtx.ConversationID, execCtx.ID, err)
	}

	err := os.MkdirAll(cr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create contexts directory: %w", err)
	}

	contextToSave := *execCtx
	if contextToSave.Variables == nil {
		contextToSave.Variables = make(map[string]any)
	}

	if contextToSave.NodeOutputs == nil {
		contextToSave.NodeOutputs = make(map[string]any)
	}

	contextToSave.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(contextToSave)
	if err != nil {
		return fmt.Errorf("failed to marshal context %s: %w", execCtx.ID, err)
	}

	return writeFileAtomic(filepath.Join(cr.dir(), execCtx.ID+".json"), data)
}

// MarkCompleted transitions the context to completed.
func (cr *ContextRepository) MarkCompleted(ctx context.Context, id, reason string, at time.Time) error {
	return cr.finish(ctx, "MarkCompleted", id, func(execCtx *models.ConversationContext) {
		execCtx.Complete(reason, at)
	})
}

// MarkFailed transitions the context to failed.
func (cr *ContextRepository) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	return cr.finish(ctx, "MarkFailed", id, func(execCtx *models.ConversationContext) {
		execCtx.Fail(reason, at)
	})
}

func (cr *ContextRepository) finish(_ context.Context, op, id string, apply func(*models.ConversationContext)) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	execCtx, err := cr.read(id)
	if err != nil {
		return err
	}

	if execCtx.IsTerminal() {
		return persistence.NewContextError(op, execCtx.ConversationID, id, persistence.ErrContextTerminal)
	}

	apply(execCtx)

	return cr.writeLocked(execCtx)
}

// ByConversation returns every context for a conversation, terminal included.
func (cr *ContextRepository) ByConversation(_ context.Context, conversationID string) ([]*models.ConversationContext, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	contexts, err := cr.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.ConversationContext, 0)

	for _, execCtx := range contexts {
		if execCtx.ConversationID == conversationID {
			matched = append(matched, execCtx)
		}
	}

	return matched, nil
}

// FindByNodeOutput returns contexts where the given node produced the given
// output.
func (cr *ContextRepository) FindByNodeOutput(_ context.Context, nodeID string, output any) ([]*models.ConversationContext, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	contexts, err := cr.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.ConversationContext, 0)

	for _, execCtx := range contexts {
		recorded, ok := execCtx.NodeOutputs[nodeID]
		if ok && reflect.DeepEqual(recorded, output) {
			matched = append(matched, execCtx)
		}
	}

	return matched, nil
}

// ExpireStale marks abandoned contexts failed and returns the swept count.
func (cr *ContextRepository) ExpireStale(_ context.Context, now time.Time) (int, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	contexts, err := cr.all()
	if err != nil {
		return 0, err
	}

	count := 0

	for _, execCtx := range contexts {
		if !execCtx.Expired(now) {
			continue
		}

		execCtx.Fail(models.CompletionReasonExpired, now)

		err = cr.writeLocked(execCtx)
		if err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}
