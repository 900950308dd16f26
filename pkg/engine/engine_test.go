package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waflow/waflow/pkg/dispatch"
	"github.com/waflow/waflow/pkg/flow"
	"github.com/waflow/waflow/pkg/lock"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
	"github.com/waflow/waflow/pkg/persistence/file"
	"github.com/waflow/waflow/pkg/window"
)

type stubDispatcher struct {
	mu      sync.Mutex
	sent    []dispatch.OutboundMessage
	calls   []*models.ActionConfig
	output  map[string]any
	callErr error
}

func (d *stubDispatcher) Send(_ context.Context, msg dispatch.OutboundMessage) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sent = append(d.sent, msg)

	return "wamid.test", nil
}

func (d *stubDispatcher) CallExternal(_ context.Context, config *models.ActionConfig, _ map[string]any) (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, config)

	if d.callErr != nil {
		return nil, d.callErr
	}

	return d.output, nil
}

func newTestEngine(t *testing.T, dispatcher dispatch.Dispatcher, opts ...Option) (*Engine, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	tracker := window.NewTracker(store.Conversations())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(store, dispatcher, tracker, lock.NewKeyedLocker(), logger, opts...), store
}

func saveChatbot(t *testing.T, store persistence.Persistence, chatbot *models.Chatbot) {
	t.Helper()
	require.NoError(t, store.Chatbots().Save(context.Background(), chatbot))
}

func greetingBot() *models.Chatbot {
	return &models.Chatbot{
		ID:       "bot-greeting",
		Name:     "Greeting bot",
		Status:   models.ChatbotStatusActive,
		IsActive: true,
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "welcome", Type: models.NodeTypeMessage, Data: models.NodeData{
				Message: &models.MessageConfig{Text: "Hi! Welcome."},
			}},
			{ID: "ask-name", Type: models.NodeTypeQuestion, Data: models.NodeData{
				Question: &models.QuestionConfig{Prompt: "What is your name?", Variable: "name"},
			}},
			{ID: "greet", Type: models.NodeTypeMessage, Data: models.NodeData{
				Terminal: true,
				Message:  &models.MessageConfig{Text: "Hello {{name}}!"},
			}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "welcome"},
			{ID: "e2", Source: "welcome", Target: "ask-name"},
			{ID: "e3", Source: "ask-name", Target: "greet"},
		},
	}
}

func inbound(conversationID, chatbotID, text string) InboundEvent {
	return InboundEvent{
		EventID:        uuid.New().String(),
		ConversationID: conversationID,
		ChatbotID:      chatbotID,
		PhoneNumber:    "+5511999990000",
		Text:           text,
		ReceivedAt:     time.Now().UTC(),
	}
}

func TestHandleEvent_GreetingFlow(t *testing.T) {
	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, greetingBot())

	ctx := context.Background()

	// First customer message starts the flow and suspends at the question.
	result, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-greeting", "hi"))
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, models.ContextStatusWaitingInput, result.Context.Status)
	assert.Equal(t, "ask-name", result.Context.CurrentNodeID)

	require.Len(t, result.Actions, 2)
	assert.Equal(t, dispatch.OutboundKindMessage, result.Actions[0].Kind)
	assert.Equal(t, "Hi! Welcome.", result.Actions[0].Text)
	assert.Equal(t, dispatch.OutboundKindQuestion, result.Actions[1].Kind)
	assert.Equal(t, "What is your name?", result.Actions[1].Text)
	assert.False(t, result.Actions[0].TemplateRequired)

	assert.Equal(t, []string{"start", "welcome", "ask-name"}, result.Context.NodeHistory)

	// The answer binds the variable and runs to the terminal greeting.
	result, err = engine.HandleEvent(ctx, inbound("conv-1", "", "Ada"))
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, models.ContextStatusCompleted, result.Context.Status)
	assert.Equal(t, models.CompletionReasonTerminalNode, result.Context.CompletionReason)
	assert.Equal(t, "Ada", result.Context.Variables["name"])

	require.Len(t, result.Actions, 1)
	assert.Equal(t, "Hello Ada!", result.Actions[0].Text)

	// The terminal context is persisted; no live context remains.
	_, err = store.Contexts().LoadActive(ctx, "conv-1")
	assert.True(t, persistence.IsContextNotFound(err))
}

func TestHandleEvent_ReplayIsIdempotent(t *testing.T) {
	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, greetingBot())

	ctx := context.Background()

	_, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-greeting", "hi"))
	require.NoError(t, err)

	answer := inbound("conv-1", "", "Ada")

	first, err := engine.HandleEvent(ctx, answer)
	require.NoError(t, err)
	require.Len(t, first.Actions, 1)

	// Redelivery of the same event id produces no new actions and leaves
	// the context untouched.
	replay, err := engine.HandleEvent(ctx, answer)
	require.NoError(t, err)
	assert.Empty(t, replay.Actions)
	assert.Equal(t, first.Context.Status, replay.Context.Status)
	assert.Equal(t, first.Context.NodeHistory, replay.Context.NodeHistory)
}

func TestHandleEvent_ConditionBranches(t *testing.T) {
	conditionBot := func() *models.Chatbot {
		return &models.Chatbot{
			ID:       "bot-cond",
			Name:     "Condition bot",
			Status:   models.ChatbotStatusActive,
			IsActive: true,
			Nodes: []*models.Node{
				{ID: "start", Type: models.NodeTypeStart},
				{ID: "ask", Type: models.NodeTypeQuestion, Data: models.NodeData{
					Question: &models.QuestionConfig{Prompt: "Yes or no?", Variable: "choice"},
				}},
				{ID: "decide", Type: models.NodeTypeCondition, Data: models.NodeData{
					Condition: &models.ConditionConfig{Expression: "{{choice}}"},
				}},
				{ID: "on-yes", Type: models.NodeTypeMessage, Data: models.NodeData{
					Terminal: true,
					Message:  &models.MessageConfig{Text: "Confirmed."},
				}},
				{ID: "on-other", Type: models.NodeTypeMessage, Data: models.NodeData{
					Terminal: true,
					Message:  &models.MessageConfig{Text: "Maybe next time."},
				}},
			},
			Edges: []*models.Edge{
				{ID: "e1", Source: "start", Target: "ask"},
				{ID: "e2", Source: "ask", Target: "decide"},
				{ID: "e3", Source: "decide", Target: "on-yes", SourceHandle: "yes"},
				{ID: "e4", Source: "decide", Target: "on-other", SourceHandle: models.DefaultHandle},
			},
		}
	}

	tests := []struct {
		name     string
		answer   string
		wantText string
	}{
		{name: "matching handle", answer: "yes", wantText: "Confirmed."},
		{name: "default edge fallback", answer: "whatever", wantText: "Maybe next time."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, store := newTestEngine(t, &stubDispatcher{})
			saveChatbot(t, store, conditionBot())

			ctx := context.Background()

			_, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-cond", "hi"))
			require.NoError(t, err)

			result, err := engine.HandleEvent(ctx, inbound("conv-1", "", tt.answer))
			require.NoError(t, err)
			assert.Equal(t, models.ContextStatusCompleted, result.Context.Status)
			require.Len(t, result.Actions, 1)
			assert.Equal(t, tt.wantText, result.Actions[0].Text)
		})
	}
}

func TestHandleEvent_NoMatchingBranchFailsContext(t *testing.T) {
	chatbot := &models.Chatbot{
		ID:       "bot-strict",
		Name:     "Strict branch bot",
		Status:   models.ChatbotStatusActive,
		IsActive: true,
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "ask", Type: models.NodeTypeQuestion, Data: models.NodeData{
				Question: &models.QuestionConfig{Prompt: "Yes or no?", Variable: "choice"},
			}},
			{ID: "decide", Type: models.NodeTypeCondition, Data: models.NodeData{
				Condition: &models.ConditionConfig{Expression: "{{choice}}"},
			}},
			{ID: "on-yes", Type: models.NodeTypeMessage, Data: models.NodeData{
				Terminal: true,
				Message:  &models.MessageConfig{Text: "Confirmed."},
			}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "decide"},
			{ID: "e3", Source: "decide", Target: "on-yes", SourceHandle: "yes"},
		},
	}

	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, chatbot)

	ctx := context.Background()

	_, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-strict", "hi"))
	require.NoError(t, err)

	result, err := engine.HandleEvent(ctx, inbound("conv-1", "", "no"))
	require.NoError(t, err)
	assert.Equal(t, models.ContextStatusFailed, result.Context.Status)
	assert.Equal(t, models.CompletionReasonNoMatchingBranch, result.Context.CompletionReason)
	assert.Empty(t, result.Actions)
	// Bound input survives for diagnosis.
	assert.Equal(t, "no", result.Context.Variables["choice"])
}

func TestHandleEvent_DeadEndFailsContext(t *testing.T) {
	chatbot := &models.Chatbot{
		ID:       "bot-deadend",
		Name:     "Dead end bot",
		Status:   models.ChatbotStatusActive,
		IsActive: true,
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "msg", Type: models.NodeTypeMessage, Data: models.NodeData{
				Message: &models.MessageConfig{Text: "And then nothing."},
			}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "msg"},
		},
	}

	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, chatbot)

	result, err := engine.HandleEvent(context.Background(), inbound("conv-1", "bot-deadend", "hi"))
	require.NoError(t, err)
	assert.Equal(t, models.ContextStatusFailed, result.Context.Status)
	assert.Equal(t, models.CompletionReasonDeadEnd, result.Context.CompletionReason)
	// The message was still enqueued before the dead end was hit.
	require.Len(t, result.Actions, 1)
}

func TestHandleEvent_StepLimitExceeded(t *testing.T) {
	chatbot := &models.Chatbot{
		ID:       "bot-cycle",
		Name:     "Cyclic bot",
		Status:   models.ChatbotStatusActive,
		IsActive: true,
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "a", Type: models.NodeTypeMessage, Data: models.NodeData{
				Message: &models.MessageConfig{Text: "ping"},
			}},
			{ID: "b", Type: models.NodeTypeMessage, Data: models.NodeData{
				Message: &models.MessageConfig{Text: "pong"},
			}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "a"},
		},
	}

	engine, store := newTestEngine(t, &stubDispatcher{}, WithStepLimit(5))
	saveChatbot(t, store, chatbot)

	result, err := engine.HandleEvent(context.Background(), inbound("conv-1", "bot-cycle", "hi"))
	require.NoError(t, err)
	assert.Equal(t, models.ContextStatusFailed, result.Context.Status)
	assert.Equal(t, models.CompletionReasonStepLimitExceeded, result.Context.CompletionReason)
}

func TestHandleEvent_ActionNode(t *testing.T) {
	actionBot := func(terminalAfter bool) *models.Chatbot {
		return &models.Chatbot{
			ID:       "bot-action",
			Name:     "Action bot",
			Status:   models.ChatbotStatusActive,
			IsActive: true,
			Nodes: []*models.Node{
				{ID: "start", Type: models.NodeTypeStart},
				{ID: "lookup", Type: models.NodeTypeAction, Data: models.NodeData{
					Action: &models.ActionConfig{
						URL:            "https://api.example.com/orders/{{order_id}}",
						Method:         "GET",
						ResultVariable: "order",
					},
				}},
				{ID: "done", Type: models.NodeTypeMessage, Data: models.NodeData{
					Terminal: terminalAfter,
					Message:  &models.MessageConfig{Text: "Order: {{order}}"},
				}},
			},
			Edges: []*models.Edge{
				{ID: "e1", Source: "start", Target: "lookup"},
				{ID: "e2", Source: "lookup", Target: "done"},
			},
		}
	}

	t.Run("success binds result variable", func(t *testing.T) {
		dispatcher := &stubDispatcher{output: map[string]any{"status_code": 200, "body": "shipped"}}
		engine, store := newTestEngine(t, dispatcher)
		saveChatbot(t, store, actionBot(true))

		result, err := engine.HandleEvent(context.Background(), inbound("conv-1", "bot-action", "hi"))
		require.NoError(t, err)
		assert.Equal(t, models.ContextStatusCompleted, result.Context.Status)
		assert.Equal(t, "shipped", result.Context.Variables["order"])
		require.Len(t, dispatcher.calls, 1)

		require.Len(t, result.Actions, 1)
		assert.Equal(t, "Order: shipped", result.Actions[0].Text)
	})

	t.Run("external failure fails the context", func(t *testing.T) {
		dispatcher := &stubDispatcher{callErr: &dispatch.ExternalCallError{StatusCode: 503, Attempts: 3, Err: errors.New("unavailable")}}
		engine, store := newTestEngine(t, dispatcher)
		saveChatbot(t, store, actionBot(true))

		result, err := engine.HandleEvent(context.Background(), inbound("conv-1", "bot-action", "hi"))
		require.NoError(t, err)
		assert.Equal(t, models.ContextStatusFailed, result.Context.Status)
		assert.Equal(t, models.CompletionReasonActionFailed, result.Context.CompletionReason)
		assert.Empty(t, result.Actions)
	})
}

func TestHandleEvent_NoActiveFlow(t *testing.T) {
	engine, _ := newTestEngine(t, &stubDispatcher{})

	_, err := engine.HandleEvent(context.Background(), inbound("conv-1", "", "hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoActiveFlow)
}

func TestHandleEvent_AlreadyTerminalConflict(t *testing.T) {
	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, greetingBot())

	ctx := context.Background()

	_, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-greeting", "hi"))
	require.NoError(t, err)

	result, err := engine.HandleEvent(ctx, inbound("conv-1", "", "Ada"))
	require.NoError(t, err)
	require.Equal(t, models.ContextStatusCompleted, result.Context.Status)

	// A follow-up without a chatbot selection hits the terminal context.
	_, err = engine.HandleEvent(ctx, inbound("conv-1", "", "hello again"))
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestHandleEvent_ChatbotNotExecutable(t *testing.T) {
	chatbot := greetingBot()
	chatbot.Status = models.ChatbotStatusDraft

	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, chatbot)

	_, err := engine.HandleEvent(context.Background(), inbound("conv-1", chatbot.ID, "hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChatbotNotExecutable)
}

func TestHandleEvent_NoStartNode(t *testing.T) {
	chatbot := greetingBot()
	chatbot.Nodes = chatbot.Nodes[1:] // drop the start node

	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, chatbot)

	_, err := engine.HandleEvent(context.Background(), inbound("conv-1", chatbot.ID, "hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, flow.ErrNoStartNode)

	// No context was created for the unstartable flow.
	_, err = engine.HandleEvent(context.Background(), inbound("conv-1", "", "hi"))
	assert.ErrorIs(t, err, ErrNoActiveFlow)
}

func TestHandleEvent_ClosedWindowRequiresTemplate(t *testing.T) {
	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, greetingBot())

	event := inbound("conv-1", "bot-greeting", "hi")
	event.ReceivedAt = time.Now().UTC().Add(-25 * time.Hour)

	result, err := engine.HandleEvent(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, result.Actions, 2)

	for _, action := range result.Actions {
		assert.True(t, action.TemplateRequired)
	}
}

func TestHandleEvent_SerializesPerConversation(t *testing.T) {
	engine, store := newTestEngine(t, &stubDispatcher{})
	saveChatbot(t, store, greetingBot())

	ctx := context.Background()

	_, err := engine.HandleEvent(ctx, inbound("conv-1", "bot-greeting", "hi"))
	require.NoError(t, err)

	// Concurrent answers to the same suspended context must be applied one
	// at a time; whichever wins completes the flow, the loser hits the
	// terminal context.
	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i := range errs {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, errs[i] = engine.HandleEvent(ctx, inbound("conv-1", "", "Ada"))
		}(i)
	}

	wg.Wait()

	var completed, conflicted int

	for _, err := range errs {
		switch {
		case err == nil:
			completed++
		case IsConflict(err):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, conflicted)

	contexts, err := store.Contexts().ByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, models.ContextStatusCompleted, contexts[0].Status)
}
