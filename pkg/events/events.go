// Package events defines event types for conversation lifecycle
// notifications and engine observability.
package events

import (
	"time"
)

type EventType string

// Kafka topic carrying all conversation events.
const Topic = "waflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound webhook events.
	InboundMessageReceivedEvent EventType = "message.received"

	// Conversation lifecycle events.
	ConversationStartedEvent   EventType = "conversation.started"
	ConversationCompletedEvent EventType = "conversation.completed"
	ConversationFailedEvent    EventType = "conversation.failed"
	WaitingInputEvent          EventType = "conversation.waiting_input"

	// Engine observability events, emitted during the advance loop for the
	// test-session surface.
	NodeEnteredEvent     EventType = "node.entered"
	NodeExecutedEvent    EventType = "node.executed"
	NodeExitedEvent      EventType = "node.exited"
	VariableChangedEvent EventType = "variable.changed"
	BotResponseEvent     EventType = "bot.response"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	ChatbotID      string         `json:"chatbot_id,omitempty"`
	WorkerID       string         `json:"worker_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// InboundMessageReceived is published by the webhook handler for every
// customer message and consumed by the worker driving the engine.
type InboundMessageReceived struct {
	BaseEvent

	EventID     string    `json:"event_id"` // Provider event id, used for replay detection
	PhoneNumber string    `json:"phone_number"`
	Text        string    `json:"text"`
	MessageType string    `json:"message_type"`
	ReceivedAt  time.Time `json:"received_at"`
}

func (e InboundMessageReceived) GetType() EventType {
	return InboundMessageReceivedEvent
}

type ConversationStarted struct {
	BaseEvent

	ContextID   string `json:"context_id"`
	StartNodeID string `json:"start_node_id"`
}

func (e ConversationStarted) GetType() EventType {
	return ConversationStartedEvent
}

type ConversationCompleted struct {
	BaseEvent

	ContextID        string        `json:"context_id"`
	CompletionReason string        `json:"completion_reason"`
	Duration         time.Duration `json:"duration"`
}

func (e ConversationCompleted) GetType() EventType {
	return ConversationCompletedEvent
}

type ConversationFailed struct {
	BaseEvent

	ContextID        string `json:"context_id"`
	CompletionReason string `json:"completion_reason"`
	Error            string `json:"error,omitempty"`
}

func (e ConversationFailed) GetType() EventType {
	return ConversationFailedEvent
}

// WaitingInput signals the engine suspended at a question node.
type WaitingInput struct {
	BaseEvent

	ContextID string `json:"context_id"`
	NodeID    string `json:"node_id"`
	Variable  string `json:"variable"`
}

func (e WaitingInput) GetType() EventType {
	return WaitingInputEvent
}

type NodeEntered struct {
	BaseEvent

	ContextID string `json:"context_id"`
	NodeID    string `json:"node_id"`
	NodeType  string `json:"node_type"`
}

func (e NodeEntered) GetType() EventType {
	return NodeEnteredEvent
}

type NodeExecuted struct {
	BaseEvent

	ContextID  string `json:"context_id"`
	NodeID     string `json:"node_id"`
	NodeType   string `json:"node_type"`
	Output     any    `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e NodeExecuted) GetType() EventType {
	return NodeExecutedEvent
}

type NodeExited struct {
	BaseEvent

	ContextID  string `json:"context_id"`
	NodeID     string `json:"node_id"`
	NextNodeID string `json:"next_node_id,omitempty"`
}

func (e NodeExited) GetType() EventType {
	return NodeExitedEvent
}

type VariableChanged struct {
	BaseEvent

	ContextID string `json:"context_id"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
}

func (e VariableChanged) GetType() EventType {
	return VariableChangedEvent
}

// BotResponse mirrors an outbound send for test sessions.
type BotResponse struct {
	BaseEvent

	ContextID        string `json:"context_id"`
	NodeID           string `json:"node_id"`
	Text             string `json:"text"`
	TemplateRequired bool   `json:"template_required"`
}

func (e BotResponse) GetType() EventType {
	return BotResponseEvent
}
