package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/waflow/waflow/pkg/dispatch"
	"github.com/waflow/waflow/pkg/flow"
	"github.com/waflow/waflow/pkg/lock"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
	"github.com/waflow/waflow/pkg/template"
	"github.com/waflow/waflow/pkg/window"
)

const (
	// DefaultStepLimit bounds the advance loop per inbound event, protecting
	// against cyclic graphs that never reach a waiting node.
	DefaultStepLimit = 100

	// DefaultSessionTTL is how long a context may sit idle before the sweep
	// considers it abandoned.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultLockTTL bounds how long a crashed worker can hold a
	// conversation lock.
	DefaultLockTTL = 30 * time.Second
)

// InboundEvent is one customer message fed into the engine.
type InboundEvent struct {
	// EventID is the provider's message id, used to detect at-least-once
	// redelivery of an already applied event.
	EventID        string
	ConversationID string

	// ChatbotID selects the flow when no live context exists. Ignored for
	// continuation events.
	ChatbotID string

	PhoneNumber string
	Text        string
	MessageType string
	Payload     map[string]any
	ReceivedAt  time.Time
}

// StepResult is the outcome of processing one inbound event. Actions are
// returned in enqueue order; the caller dispatches them only after the
// context state has been durably persisted.
type StepResult struct {
	Context *models.ConversationContext
	Actions []dispatch.OutboundMessage
	Created bool
}

// Engine drives conversations through chatbot flow graphs. All dependencies
// are passed at construction; the engine reads no ambient state.
type Engine struct {
	persistence persistence.Persistence
	dispatcher  dispatch.Dispatcher
	tracker     *window.Tracker
	locker      lock.ConversationLocker
	hooks       Hooks
	logger      *slog.Logger

	stepLimit  int
	sessionTTL time.Duration
	lockTTL    time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithStepLimit overrides the advance loop bound.
func WithStepLimit(limit int) Option {
	return func(e *Engine) {
		e.stepLimit = limit
	}
}

// WithSessionTTL overrides the idle session expiry.
func WithSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.sessionTTL = ttl
	}
}

// WithLockTTL overrides the conversation lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithHooks installs observability hooks for test sessions.
func WithHooks(hooks Hooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// New creates an execution engine.
func New(
	store persistence.Persistence,
	dispatcher dispatch.Dispatcher,
	tracker *window.Tracker,
	locker lock.ConversationLocker,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	engine := &Engine{
		persistence: store,
		dispatcher:  dispatcher,
		tracker:     tracker,
		locker:      locker,
		hooks:       NoopHooks{},
		logger:      logger,
		stepLimit:   DefaultStepLimit,
		sessionTTL:  DefaultSessionTTL,
		lockTTL:     DefaultLockTTL,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// HandleEvent processes one inbound event under the per-conversation lock:
// load or create the context, advance through the graph until it suspends or
// terminates, persist exactly once, then return the outbound actions for the
// caller to dispatch in order.
func (e *Engine) HandleEvent(ctx context.Context, event InboundEvent) (*StepResult, error) {
	logger := e.logger.With(
		"conversation_id", event.ConversationID,
		"event_id", event.EventID,
	)

	unlock, err := e.locker.Lock(ctx, event.ConversationID, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock conversation %s: %w", event.ConversationID, err)
	}

	defer func() {
		err := unlock(ctx)
		if err != nil {
			logger.WarnContext(ctx, "Failed to release conversation lock", "error", err)
		}
	}()

	conversation, err := e.loadOrCreateConversation(ctx, event)
	if err != nil {
		return nil, err
	}

	err = e.tracker.RecordCustomerMessage(ctx, conversation, event.ReceivedAt)
	if err != nil {
		return nil, err
	}

	execCtx, graph, created, err := e.loadOrCreateContext(ctx, event)
	if err != nil {
		return nil, err
	}

	if !created && execCtx.LastEventID != "" && execCtx.LastEventID == event.EventID {
		logger.InfoContext(ctx, "Event already applied, skipping replay")

		return &StepResult{Context: execCtx}, nil
	}

	actions := e.advance(ctx, graph, conversation, execCtx, event)

	execCtx.LastEventID = event.EventID

	// Single atomic persist per event, after the loop halts. Sends happen
	// only after this point, so a crash-and-retry can never duplicate them.
	if created {
		err = e.persistence.Contexts().Create(ctx, execCtx)
		if err != nil {
			if persistence.IsActiveContextExists(err) {
				return nil, &ConflictError{ConversationID: event.ConversationID, Err: ErrConcurrentContext}
			}

			return nil, err
		}
	} else {
		err = e.persistence.Contexts().Save(ctx, execCtx)
		if err != nil {
			return nil, err
		}
	}

	logger.InfoContext(ctx, "Event processed",
		"status", execCtx.Status,
		"current_node_id", execCtx.CurrentNodeID,
		"actions", len(actions),
	)

	return &StepResult{Context: execCtx, Actions: actions, Created: created}, nil
}

func (e *Engine) loadOrCreateConversation(ctx context.Context, event InboundEvent) (*models.Conversation, error) {
	conversation, err := e.persistence.Conversations().ByID(ctx, event.ConversationID)
	if err == nil {
		return conversation, nil
	}

	if !persistence.IsConversationNotFound(err) {
		return nil, err
	}

	conversation = &models.Conversation{
		ID:          event.ConversationID,
		PhoneNumber: event.PhoneNumber,
	}

	err = e.persistence.Conversations().Save(ctx, conversation)
	if err != nil {
		return nil, err
	}

	return conversation, nil
}

func (e *Engine) loadOrCreateContext(ctx context.Context, event InboundEvent) (*models.ConversationContext, *flow.Graph, bool, error) {
	execCtx, err := e.persistence.Contexts().LoadActive(ctx, event.ConversationID)
	if err == nil {
		chatbot, err := e.persistence.Chatbots().ByID(ctx, execCtx.ChatbotID)
		if err != nil {
			return nil, nil, false, err
		}

		return execCtx, flow.New(chatbot), false, nil
	}

	if !persistence.IsContextNotFound(err) {
		return nil, nil, false, err
	}

	if event.ChatbotID == "" {
		previous, err := e.persistence.Contexts().ByConversation(ctx, event.ConversationID)
		if err != nil {
			return nil, nil, false, err
		}

		if len(previous) > 0 {
			return nil, nil, false, &ConflictError{ConversationID: event.ConversationID, Err: ErrAlreadyTerminal}
		}

		return nil, nil, false, fmt.Errorf("conversation %s: %w", event.ConversationID, ErrNoActiveFlow)
	}

	chatbot, err := e.persistence.Chatbots().ByID(ctx, event.ChatbotID)
	if err != nil {
		return nil, nil, false, err
	}

	if !chatbot.Executable() {
		return nil, nil, false, fmt.Errorf("chatbot %s: %w", chatbot.ID, ErrChatbotNotExecutable)
	}

	graph := flow.New(chatbot)

	start, err := graph.ResolveStartNode()
	if err != nil {
		return nil, nil, false, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(e.sessionTTL)

	execCtx = &models.ConversationContext{
		ID:             uuid.New().String(),
		ConversationID: event.ConversationID,
		ChatbotID:      chatbot.ID,
		CurrentNodeID:  start.ID,
		Variables:      make(map[string]any),
		NodeOutputs:    make(map[string]any),
		IsActive:       true,
		Status:         models.ContextStatusRunning,
		ExpiresAt:      &expiresAt,
	}

	return execCtx, graph, true, nil
}

// advance runs the step algorithm until the context suspends or terminates.
// Graph failures are converted into a failed context with a completion
// reason, never returned as errors.
func (e *Engine) advance(
	ctx context.Context,
	graph *flow.Graph,
	conversation *models.Conversation,
	execCtx *models.ConversationContext,
	event InboundEvent,
) []dispatch.OutboundMessage {
	actions := make([]dispatch.OutboundMessage, 0)
	now := time.Now().UTC()

	// Activity refreshes the idle expiry.
	expiresAt := now.Add(e.sessionTTL)
	execCtx.ExpiresAt = &expiresAt

	if execCtx.Status == models.ContextStatusWaitingInput {
		if !e.bindInput(ctx, graph, execCtx, event, now) {
			return actions
		}
	}

	for steps := 0; ; steps++ {
		if steps >= e.stepLimit {
			execCtx.Fail(models.CompletionReasonStepLimitExceeded, now)

			return actions
		}

		node, err := graph.NodeByID(execCtx.CurrentNodeID)
		if err != nil {
			// The graph was edited under a live context.
			execCtx.Fail(models.CompletionReasonNodeNotFound, now)

			return actions
		}

		e.hooks.NodeEntered(ctx, execCtx, node)

		started := time.Now()

		switch node.EffectiveType() {
		case models.NodeTypeStart:
			execCtx.AppendHistory(node.ID)
			e.hooks.NodeExecuted(ctx, execCtx, node, nil, time.Since(started))

			if e.moveNext(ctx, graph, execCtx, node, now) {
				return actions
			}

		case models.NodeTypeMessage:
			cfg := node.Data.Message
			if cfg == nil {
				execCtx.Fail(models.CompletionReasonInvalidNode, now)

				return actions
			}

			text, err := template.Render(cfg.Text, execCtx.Variables)
			if err != nil {
				execCtx.Fail(models.CompletionReasonInvalidNode, now)

				return actions
			}

			actions = append(actions, e.outbound(conversation, node, dispatch.OutboundKindMessage, text))
			execCtx.AppendHistory(node.ID)
			execCtx.RecordOutput(node.ID, text)
			e.hooks.NodeExecuted(ctx, execCtx, node, text, time.Since(started))

			if e.moveNext(ctx, graph, execCtx, node, now) {
				return actions
			}

		case models.NodeTypeQuestion:
			cfg := node.Data.Question
			if cfg == nil {
				execCtx.Fail(models.CompletionReasonInvalidNode, now)

				return actions
			}

			prompt, err := template.Render(cfg.Prompt, execCtx.Variables)
			if err != nil {
				execCtx.Fail(models.CompletionReasonInvalidNode, now)

				return actions
			}

			actions = append(actions, e.outbound(conversation, node, dispatch.OutboundKindQuestion, prompt))
			execCtx.AppendHistory(node.ID)
			execCtx.RecordOutput(node.ID, prompt)
			execCtx.Status = models.ContextStatusWaitingInput
			e.hooks.NodeExecuted(ctx, execCtx, node, prompt, time.Since(started))
			e.hooks.WaitingInput(ctx, execCtx, node, cfg.Variable)

			return actions

		case models.NodeTypeCondition:
			cfg := node.Data.Condition
			if cfg == nil {
				execCtx.Fail(models.CompletionReasonInvalidNode, now)

				return actions
			}

			result, err := template.Render(cfg.Expression, execCtx.Variables)
			if err != nil {
				execCtx.Fail(models.CompletionReasonInvalidNode, now)

				return actions
			}

			execCtx.AppendHistory(node.ID)
			execCtx.RecordOutput(node.ID, result)
			e.hooks.NodeExecuted(ctx, execCtx, node, result, time.Since(started))

			target, err := graph.BranchTarget(node, result)
			if err != nil {
				e.failFromGraph(execCtx, err, now)

				return actions
			}

			e.hooks.NodeExited(ctx, execCtx, node, target.ID)
			execCtx.CurrentNodeID = target.ID

		case models.NodeTypeAction:
			cfg := node.Data.Action
			if cfg == nil {
				execCtx.Fail(models.CompletionReasonInvalidNode, now)

				return actions
			}

			output, err := e.dispatcher.CallExternal(ctx, cfg, execCtx.Variables)
			if err != nil {
				e.logger.WarnContext(ctx, "Action node external call failed",
					"conversation_id", execCtx.ConversationID,
					"node_id", node.ID,
					"error", err,
				)
				execCtx.RecordOutput(node.ID, map[string]any{"error": err.Error()})
				execCtx.AppendHistory(node.ID)
				execCtx.Fail(models.CompletionReasonActionFailed, now)

				return actions
			}

			execCtx.AppendHistory(node.ID)
			execCtx.RecordOutput(node.ID, output)
			e.hooks.NodeExecuted(ctx, execCtx, node, output, time.Since(started))

			if cfg.ResultVariable != "" {
				value := any(output)
				if body, ok := output["body"]; ok {
					value = body
				}

				execCtx.SetVariable(cfg.ResultVariable, value)
				e.hooks.VariableChanged(ctx, execCtx, cfg.ResultVariable, value)
			}

			if e.moveNext(ctx, graph, execCtx, node, now) {
				return actions
			}

		default:
			execCtx.Fail(models.CompletionReasonInvalidNode, now)

			return actions
		}
	}
}

// bindInput applies the inbound message to the question node the context is
// suspended at. Returns false when the context reached a terminal state.
func (e *Engine) bindInput(ctx context.Context, graph *flow.Graph, execCtx *models.ConversationContext, event InboundEvent, now time.Time) bool {
	node, err := graph.NodeByID(execCtx.CurrentNodeID)
	if err != nil {
		execCtx.Fail(models.CompletionReasonNodeNotFound, now)

		return false
	}

	cfg := node.Data.Question
	if cfg == nil {
		execCtx.Fail(models.CompletionReasonInvalidNode, now)

		return false
	}

	var value any = event.Text
	if event.Text == "" && event.Payload != nil {
		value = event.Payload
	}

	execCtx.SetVariable(cfg.Variable, value)
	e.hooks.VariableChanged(ctx, execCtx, cfg.Variable, value)

	execCtx.AppendHistory(node.ID)
	execCtx.RecordOutput(node.ID, value)

	edges := graph.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		if node.IsTerminal() {
			execCtx.Complete(models.CompletionReasonTerminalNode, now)
		} else {
			execCtx.Fail(models.CompletionReasonDeadEnd, now)
		}

		return false
	}

	next, err := graph.NextNode(node)
	if err != nil {
		e.failFromGraph(execCtx, err, now)

		return false
	}

	e.hooks.NodeExited(ctx, execCtx, node, next.ID)
	execCtx.CurrentNodeID = next.ID
	execCtx.Status = models.ContextStatusRunning

	return true
}

// moveNext advances past a linear node. Returns true when the loop must stop:
// the context completed at a terminal node or failed on a dead end.
func (e *Engine) moveNext(ctx context.Context, graph *flow.Graph, execCtx *models.ConversationContext, node *models.Node, now time.Time) bool {
	edges := graph.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		if node.IsTerminal() {
			execCtx.Complete(models.CompletionReasonTerminalNode, now)
		} else {
			execCtx.Fail(models.CompletionReasonDeadEnd, now)
		}

		return true
	}

	next, err := graph.NextNode(node)
	if err != nil {
		e.failFromGraph(execCtx, err, now)

		return true
	}

	e.hooks.NodeExited(ctx, execCtx, node, next.ID)
	execCtx.CurrentNodeID = next.ID

	return false
}

func (e *Engine) outbound(conversation *models.Conversation, node *models.Node, kind dispatch.OutboundKind, text string) dispatch.OutboundMessage {
	return dispatch.OutboundMessage{
		ConversationID:   conversation.ID,
		PhoneNumber:      conversation.PhoneNumber,
		NodeID:           node.ID,
		Kind:             kind,
		Text:             text,
		TemplateRequired: !e.tracker.IsWithinWindow(conversation, time.Now().UTC()),
	}
}

func (e *Engine) failFromGraph(execCtx *models.ConversationContext, err error, now time.Time) {
	switch {
	case errors.Is(err, flow.ErrNoMatchingBranch):
		execCtx.Fail(models.CompletionReasonNoMatchingBranch, now)
	case errors.Is(err, flow.ErrDeadEnd):
		execCtx.Fail(models.CompletionReasonDeadEnd, now)
	case errors.Is(err, flow.ErrNodeNotFound):
		execCtx.Fail(models.CompletionReasonNodeNotFound, now)
	case errors.Is(err, flow.ErrStepLimitExceeded):
		execCtx.Fail(models.CompletionReasonStepLimitExceeded, now)
	default:
		execCtx.Fail(models.CompletionReasonInvalidNode, now)
	}
}
