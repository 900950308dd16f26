// Package worker consumes inbound message events and drives the execution
// engine, delivering outbound actions after the context state is persisted.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/waflow/waflow/pkg/dispatch"
	"github.com/waflow/waflow/pkg/engine"
	"github.com/waflow/waflow/pkg/eventbus"
	"github.com/waflow/waflow/pkg/events"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/otelhelper"
)

// ConversationWorker binds the event bus to the engine. One worker process
// runs many conversations; per-conversation ordering is guaranteed by the
// engine's lock, not by the bus.
type ConversationWorker struct {
	id         string
	engine     *engine.Engine
	dispatcher dispatch.Dispatcher
	eventBus   eventbus.EventBus
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewConversationWorker(
	id string,
	eng *engine.Engine,
	dispatcher dispatch.Dispatcher,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *ConversationWorker {
	return &ConversationWorker{
		id:         id,
		engine:     eng,
		dispatcher: dispatcher,
		eventBus:   eventBus,
		tracer:     noop.NewTracerProvider().Tracer("waflow-worker"),
		logger:     logger.With("module", "worker", "worker_id", id),
	}
}

// WithTracer installs a real tracer; the default is a noop.
func (w *ConversationWorker) WithTracer(tracer trace.Tracer) *ConversationWorker {
	w.tracer = tracer

	return w
}

// Start registers the inbound handler and blocks consuming the bus until
// ctx is cancelled.
func (w *ConversationWorker) Start(ctx context.Context) error {
	err := w.eventBus.Handle(events.InboundMessageReceivedEvent, w.handleInboundMessage)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Conversation worker started")

	<-ctx.Done()

	return nil
}

func (w *ConversationWorker) handleInboundMessage(ctx context.Context, event interface{}) error {
	inbound, ok := event.(*events.InboundMessageReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for inbound message")

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.handle_inbound_message",
		attribute.String(otelhelper.ConversationIDKey, inbound.ConversationID),
		attribute.String(otelhelper.EventIDKey, inbound.EventID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With(
		"conversation_id", inbound.ConversationID,
		"event_id", inbound.EventID,
	)

	result, err := w.engine.HandleEvent(ctx, engine.InboundEvent{
		EventID:        inbound.EventID,
		ConversationID: inbound.ConversationID,
		ChatbotID:      inbound.ChatbotID,
		PhoneNumber:    inbound.PhoneNumber,
		Text:           inbound.Text,
		MessageType:    inbound.MessageType,
		ReceivedAt:     inbound.ReceivedAt,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		// Conflicts and unroutable events are final: redelivery cannot
		// change the outcome, so ack and drop.
		var conflict *engine.ConflictError
		if errors.As(err, &conflict) || errors.Is(err, engine.ErrNoActiveFlow) {
			logger.WarnContext(ctx, "Dropping unprocessable inbound event", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "Failed to process inbound event", "error", err)

		return err
	}

	w.publishLifecycle(ctx, result)

	// State is durable at this point; sends happen strictly after.
	w.deliverActions(ctx, result, logger)

	return nil
}

// deliverActions sends the enqueued outbound messages in order. A delivery
// failure is logged and stops the remaining sends for this event; it never
// rolls back the persisted context.
func (w *ConversationWorker) deliverActions(ctx context.Context, result *engine.StepResult, logger *slog.Logger) {
	for _, action := range result.Actions {
		messageID, err := w.dispatcher.Send(ctx, action)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to deliver outbound message",
				"node_id", action.NodeID,
				"error", err,
			)

			return
		}

		logger.DebugContext(ctx, "Outbound message delivered",
			"node_id", action.NodeID,
			"message_id", messageID,
		)

		w.publish(ctx, result.Context.ConversationID, events.BotResponse{
			BaseEvent:        w.base(events.BotResponseEvent, result),
			ContextID:        result.Context.ID,
			NodeID:           action.NodeID,
			Text:             action.Text,
			TemplateRequired: action.TemplateRequired,
		})
	}
}

func (w *ConversationWorker) publishLifecycle(ctx context.Context, result *engine.StepResult) {
	execCtx := result.Context

	if result.Created {
		w.publish(ctx, execCtx.ConversationID, events.ConversationStarted{
			BaseEvent:   w.base(events.ConversationStartedEvent, result),
			ContextID:   execCtx.ID,
			StartNodeID: execCtx.CurrentNodeID,
		})
	}

	switch execCtx.Status {
	case models.ContextStatusWaitingInput:
		w.publish(ctx, execCtx.ConversationID, events.WaitingInput{
			BaseEvent: w.base(events.WaitingInputEvent, result),
			ContextID: execCtx.ID,
			NodeID:    execCtx.CurrentNodeID,
		})
	case models.ContextStatusCompleted:
		w.publish(ctx, execCtx.ConversationID, events.ConversationCompleted{
			BaseEvent:        w.base(events.ConversationCompletedEvent, result),
			ContextID:        execCtx.ID,
			CompletionReason: execCtx.CompletionReason,
			Duration:         durationSince(execCtx),
		})
	case models.ContextStatusFailed:
		w.publish(ctx, execCtx.ConversationID, events.ConversationFailed{
			BaseEvent:        w.base(events.ConversationFailedEvent, result),
			ContextID:        execCtx.ID,
			CompletionReason: execCtx.CompletionReason,
		})
	case models.ContextStatusRunning:
	}
}

func durationSince(execCtx *models.ConversationContext) time.Duration {
	if execCtx.CompletedAt == nil {
		return 0
	}

	return execCtx.CompletedAt.Sub(execCtx.CreatedAt)
}

func (w *ConversationWorker) base(eventType events.EventType, result *engine.StepResult) events.BaseEvent {
	return events.BaseEvent{
		ID:             w.eventBus.GenerateID(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		ConversationID: result.Context.ConversationID,
		ChatbotID:      result.Context.ChatbotID,
		WorkerID:       w.id,
	}
}

func (w *ConversationWorker) publish(ctx context.Context, key string, event eventbus.Event) {
	err := w.eventBus.Publish(ctx, key, event)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
