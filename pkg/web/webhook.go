package web

import (
	"crypto/subtle"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/waflow/waflow/pkg/eventbus"
	"github.com/waflow/waflow/pkg/events"
)

// WebhookHandlers receives WhatsApp Cloud API callbacks and republishes
// customer messages onto the event bus. It never touches the engine
// directly: acknowledging the provider fast and processing asynchronously
// keeps webhook latency independent of flow execution.
type WebhookHandlers struct {
	eventBus eventbus.EventBus
	logger   *slog.Logger

	// verifyToken is echoed back during the provider's subscription
	// handshake.
	verifyToken string

	// defaultChatbotID selects the flow for conversations with no live
	// context.
	defaultChatbotID string
}

func NewWebhookHandlers(eventBus eventbus.EventBus, logger *slog.Logger, verifyToken, defaultChatbotID string) *WebhookHandlers {
	return &WebhookHandlers{
		eventBus:         eventBus,
		logger:           logger.With("module", "webhook"),
		verifyToken:      verifyToken,
		defaultChatbotID: defaultChatbotID,
	}
}

// whatsappPayload mirrors the slice of the Cloud API notification we consume.
type whatsappPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []whatsappMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsappMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
}

func (m whatsappMessage) text() string {
	if m.Type == "interactive" {
		return m.Interactive.ButtonReply.Title
	}

	return m.Text.Body
}

// receivedAt returns the provider's message timestamp, which anchors the
// 24-hour messaging window. Timestamps come as unix seconds in a string;
// a missing or malformed one falls back to the arrival time.
func (m whatsappMessage) receivedAt() time.Time {
	seconds, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}

	return time.Unix(seconds, 0).UTC()
}

// Verify answers the provider's subscription handshake.
func (h *WebhookHandlers) Verify(c fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		return c.SendStatus(fiber.StatusForbidden)
	}

	return c.SendString(challenge)
}

// Receive publishes one inbound event per customer message in the payload.
// Always returns 200 to the provider; failed publishes are logged and
// recovered by the provider's own redelivery.
func (h *WebhookHandlers) Receive(c fiber.Ctx) error {
	var payload whatsappPayload

	err := c.Bind().JSON(&payload)
	if err != nil {
		h.logger.WarnContext(c.Context(), "Discarding malformed webhook payload", "error", err)

		return c.SendStatus(fiber.StatusOK)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, message := range change.Value.Messages {
				h.publishInbound(c, message)
			}
		}
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *WebhookHandlers) publishInbound(c fiber.Ctx, message whatsappMessage) {
	event := events.InboundMessageReceived{
		BaseEvent: events.BaseEvent{
			ID:             h.eventBus.GenerateID(),
			Type:           events.InboundMessageReceivedEvent,
			Timestamp:      time.Now().UTC(),
			ConversationID: conversationID(message.From),
			ChatbotID:      h.defaultChatbotID,
		},
		EventID:     message.ID,
		PhoneNumber: "+" + message.From,
		Text:        message.text(),
		MessageType: message.Type,
		ReceivedAt:  message.receivedAt(),
	}

	err := h.eventBus.Publish(c.Context(), event.ConversationID, event)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish inbound message",
			"message_id", message.ID,
			"error", err,
		)

		return
	}

	h.logger.DebugContext(c.Context(), "Inbound message published",
		"message_id", message.ID,
		"conversation_id", event.ConversationID,
	)
}

// conversationID derives a stable conversation identity from the customer's
// phone number. One conversation per customer number.
func conversationID(from string) string {
	return "wa-" + from
}
