package web_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waflow/waflow/pkg/eventbus"
	"github.com/waflow/waflow/pkg/events"
	"github.com/waflow/waflow/pkg/web"
)

type capturingBus struct {
	mu        sync.Mutex
	published []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, event)

	return nil
}

func (b *capturingBus) Handle(events.EventType, eventbus.EventHandler) error { return nil }
func (b *capturingBus) Subscribe(context.Context) error                     { return nil }
func (b *capturingBus) Close() error                                        { return nil }
func (b *capturingBus) GenerateID() string                                  { return "generated-id" }

func (b *capturingBus) events() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]eventbus.Event(nil), b.published...)
}

func setupWebhookApp(t *testing.T) (*fiber.App, *capturingBus) {
	t.Helper()

	bus := &capturingBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := web.NewWebhookHandlers(bus, logger, "secret-token", "bot-default")

	app := fiber.New()
	app.Get("/webhooks/whatsapp", handlers.Verify)
	app.Post("/webhooks/whatsapp", handlers.Receive)

	return app, bus
}

func TestWebhookVerify(t *testing.T) {
	app, _ := setupWebhookApp(t)

	t.Run("valid handshake echoes challenge", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)

		resp, err := app.Test(req)
		require.NoError(t, err)

		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "12345", string(body))
	})

	t.Run("wrong token is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)

		resp, err := app.Test(req)
		require.NoError(t, err)

		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestWebhookReceive(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"id": "wamid.abc123",
						"from": "5511999990000",
						"timestamp": "1725000000",
						"type": "text",
						"text": {"body": "hi there"}
					}]
				}
			}]
		}]
	}`

	app, bus := setupWebhookApp(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	published := bus.events()
	require.Len(t, published, 1)

	inbound, ok := published[0].(events.InboundMessageReceived)
	require.True(t, ok)
	assert.Equal(t, "wamid.abc123", inbound.EventID)
	assert.Equal(t, "wa-5511999990000", inbound.ConversationID)
	assert.Equal(t, "+5511999990000", inbound.PhoneNumber)
	assert.Equal(t, "hi there", inbound.Text)
	assert.Equal(t, "bot-default", inbound.ChatbotID)
	assert.Equal(t, time.Unix(1725000000, 0).UTC(), inbound.ReceivedAt)
}

func TestWebhookReceive_BadTimestampFallsBackToArrivalTime(t *testing.T) {
	payload := `{
		"entry": [{
			"changes": [{
				"value": {
					"messages": [{
						"id": "wamid.def456",
						"from": "5511999990000",
						"timestamp": "not-a-number",
						"type": "text",
						"text": {"body": "hello"}
					}]
				}
			}]
		}]
	}`

	app, bus := setupWebhookApp(t)
	before := time.Now().UTC()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	published := bus.events()
	require.Len(t, published, 1)

	inbound, ok := published[0].(events.InboundMessageReceived)
	require.True(t, ok)
	assert.False(t, inbound.ReceivedAt.Before(before))
	assert.False(t, inbound.ReceivedAt.After(time.Now().UTC()))
}

func TestWebhookReceive_MalformedPayloadIsAcked(t *testing.T) {
	app, bus := setupWebhookApp(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader([]byte("{broken")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, bus.events())
}
