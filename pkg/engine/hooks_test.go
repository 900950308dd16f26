package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waflow/waflow/pkg/eventbus"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// recordingHooks captures every callback in order.
type recordingHooks struct {
	mu    sync.Mutex
	trace []string
}

func (h *recordingHooks) record(entry string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.trace = append(h.trace, entry)
}

func (h *recordingHooks) entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.trace...)
}

func (h *recordingHooks) NodeEntered(_ context.Context, _ *models.ConversationContext, node *models.Node) {
	h.record("entered " + node.ID)
}

func (h *recordingHooks) NodeExecuted(_ context.Context, _ *models.ConversationContext, node *models.Node, _ any, _ time.Duration) {
	h.record("executed " + node.ID)
}

func (h *recordingHooks) NodeExited(_ context.Context, _ *models.ConversationContext, node *models.Node, nextNodeID string) {
	h.record("exited " + node.ID + " to " + nextNodeID)
}

func (h *recordingHooks) VariableChanged(_ context.Context, _ *models.ConversationContext, name string, _ any) {
	h.record("variable " + name)
}

func (h *recordingHooks) WaitingInput(_ context.Context, _ *models.ConversationContext, node *models.Node, variable string) {
	h.record("waiting " + node.ID + " for " + variable)
}

func TestHandleEvent_HooksObserveProgress(t *testing.T) {
	hooks := &recordingHooks{}
	engine, store := newTestEngine(t, &stubDispatcher{}, WithHooks(hooks))
	saveChatbot(t, store, greetingBot())

	ctx := context.Background()

	_, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-greeting", "hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"entered start",
		"executed start",
		"exited start to welcome",
		"entered welcome",
		"executed welcome",
		"exited welcome to ask-name",
		"entered ask-name",
		"executed ask-name",
		"waiting ask-name for name",
	}, hooks.entries())

	hooks.mu.Lock()
	hooks.trace = nil
	hooks.mu.Unlock()

	result, err := engine.HandleEvent(ctx, inbound("conv-1", "", "Ada"))
	require.NoError(t, err)
	require.Equal(t, models.ContextStatusCompleted, result.Context.Status)

	// The bound answer resumes at the question node and runs to the
	// terminal greeting; completion itself emits no exit.
	assert.Equal(t, []string{
		"variable name",
		"exited ask-name to greet",
		"entered greet",
		"executed greet",
	}, hooks.entries())
}

type failingPublisher struct {
	mu       sync.Mutex
	attempts int
}

func (p *failingPublisher) Publish(context.Context, string, eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++

	return errors.New("broker unavailable")
}

func (p *failingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempts
}

func TestHandleEvent_HookPublishFailureDoesNotAffectFlow(t *testing.T) {
	publisher := &failingPublisher{}
	engine, store := newTestEngine(t, &stubDispatcher{}, WithHooks(NewBusHooks(publisher, "worker-test")))
	saveChatbot(t, store, greetingBot())

	ctx := context.Background()

	result, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-greeting", "hi"))
	require.NoError(t, err)
	assert.Equal(t, models.ContextStatusWaitingInput, result.Context.Status)
	require.Len(t, result.Actions, 2)

	result, err = engine.HandleEvent(ctx, inbound("conv-1", "", "Ada"))
	require.NoError(t, err)
	assert.Equal(t, models.ContextStatusCompleted, result.Context.Status)
	assert.Equal(t, "Ada", result.Context.Variables["name"])

	// Every callback tried the bus and failed, yet the persisted context is
	// untouched by it.
	assert.Positive(t, publisher.count())

	contexts, err := store.Contexts().ByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, models.ContextStatusCompleted, contexts[0].Status)
	assert.Equal(t, "Ada", contexts[0].Variables["name"])

	_, err = store.Contexts().LoadActive(ctx, "conv-1")
	assert.True(t, persistence.IsContextNotFound(err))
}
