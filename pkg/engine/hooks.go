package engine

import (
	"context"
	"time"

	"github.com/waflow/waflow/pkg/eventbus"
	"github.com/waflow/waflow/pkg/events"
	"github.com/waflow/waflow/pkg/models"
)

// Hooks receives engine observability callbacks during the advance loop.
// Implementations must not alter execution or persistence semantics; test
// sessions subscribe to these to mirror engine progress.
type Hooks interface {
	NodeEntered(ctx context.Context, execCtx *models.ConversationContext, node *models.Node)
	NodeExecuted(ctx context.Context, execCtx *models.ConversationContext, node *models.Node, output any, duration time.Duration)
	NodeExited(ctx context.Context, execCtx *models.ConversationContext, node *models.Node, nextNodeID string)
	VariableChanged(ctx context.Context, execCtx *models.ConversationContext, name string, value any)
	WaitingInput(ctx context.Context, execCtx *models.ConversationContext, node *models.Node, variable string)
}

// NoopHooks discards all callbacks.
type NoopHooks struct{}

func (NoopHooks) NodeEntered(context.Context, *models.ConversationContext, *models.Node) {}
func (NoopHooks) NodeExecuted(context.Context, *models.ConversationContext, *models.Node, any, time.Duration) {
}
func (NoopHooks) NodeExited(context.Context, *models.ConversationContext, *models.Node, string) {}
func (NoopHooks) VariableChanged(context.Context, *models.ConversationContext, string, any)     {}
func (NoopHooks) WaitingInput(context.Context, *models.ConversationContext, *models.Node, string) {
}

// BusHooks publishes observability events to the event bus so test sessions
// can replay engine progress. Publish failures are ignored; observability
// must never fail the hot path.
type BusHooks struct {
	publisher eventbus.EventPublisher
	workerID  string
}

// NewBusHooks creates hooks publishing to the given event publisher.
func NewBusHooks(publisher eventbus.EventPublisher, workerID string) *BusHooks {
	return &BusHooks{publisher: publisher, workerID: workerID}
}

func (h *BusHooks) base(eventType events.EventType, execCtx *models.ConversationContext) events.BaseEvent {
	return events.BaseEvent{
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		ConversationID: execCtx.ConversationID,
		ChatbotID:      execCtx.ChatbotID,
		WorkerID:       h.workerID,
	}
}

func (h *BusHooks) NodeEntered(ctx context.Context, execCtx *models.ConversationContext, node *models.Node) {
	_ = h.publisher.Publish(ctx, execCtx.ConversationID, events.NodeEntered{
		BaseEvent: h.base(events.NodeEnteredEvent, execCtx),
		ContextID: execCtx.ID,
		NodeID:    node.ID,
		NodeType:  string(node.EffectiveType()),
	})
}

func (h *BusHooks) NodeExecuted(ctx context.Context, execCtx *models.ConversationContext, node *models.Node, output any, duration time.Duration) {
	_ = h.publisher.Publish(ctx, execCtx.ConversationID, events.NodeExecuted{
		BaseEvent:  h.base(events.NodeExecutedEvent, execCtx),
		ContextID:  execCtx.ID,
		NodeID:     node.ID,
		NodeType:   string(node.EffectiveType()),
		Output:     output,
		DurationMs: duration.Milliseconds(),
	})
}

func (h *BusHooks) NodeExited(ctx context.Context, execCtx *models.ConversationContext, node *models.Node, nextNodeID string) {
	_ = h.publisher.Publish(ctx, execCtx.ConversationID, events.NodeExited{
		BaseEvent:  h.base(events.NodeExitedEvent, execCtx),
		ContextID:  execCtx.ID,
		NodeID:     node.ID,
		NextNodeID: nextNodeID,
	})
}

func (h *BusHooks) VariableChanged(ctx context.Context, execCtx *models.ConversationContext, name string, value any) {
	_ = h.publisher.Publish(ctx, execCtx.ConversationID, events.VariableChanged{
		BaseEvent: h.base(events.VariableChangedEvent, execCtx),
		ContextID: execCtx.ID,
		Name:      name,
		Value:     value,
	})
}

func (h *BusHooks) WaitingInput(ctx context.Context, execCtx *models.ConversationContext, node *models.Node, variable string) {
	_ = h.publisher.Publish(ctx, execCtx.ConversationID, events.WaitingInput{
		BaseEvent: h.base(events.WaitingInputEvent, execCtx),
		ContextID: execCtx.ID,
		NodeID:    node.ID,
		Variable:  variable,
	})
}
