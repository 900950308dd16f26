package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/waflow/waflow/pkg/models"
)

const defaultSendTimeout = 15 * time.Second

// Config holds the WhatsApp Cloud API credentials and the fallback template
// used when the messaging window is closed. Passed explicitly at
// construction; nothing here is read from ambient state.
type Config struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string

	// TemplateName is the pre-approved template sent in place of free-form
	// text outside the 24h window.
	TemplateName     string
	TemplateLanguage string

	SendRetryAttempts int
	SendRetryDelay    time.Duration
}

// WhatsAppDispatcher implements Dispatcher against the WhatsApp Cloud API.
type WhatsAppDispatcher struct {
	config   Config
	client   *http.Client
	external *externalCaller
	logger   *slog.Logger
}

// NewWhatsAppDispatcher creates a dispatcher with explicit configuration.
func NewWhatsAppDispatcher(config Config, logger *slog.Logger) *WhatsAppDispatcher {
	if config.BaseURL == "" {
		config.BaseURL = "https://graph.facebook.com/v19.0"
	}

	if config.TemplateLanguage == "" {
		config.TemplateLanguage = "en"
	}

	if config.SendRetryAttempts <= 0 {
		config.SendRetryAttempts = 3
	}

	if config.SendRetryDelay <= 0 {
		config.SendRetryDelay = time.Second
	}

	return &WhatsAppDispatcher{
		config:   config,
		client:   &http.Client{Timeout: defaultSendTimeout},
		external: newExternalCaller(logger),
		logger:   logger,
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers the message, retrying transient failures inside the
// configured budget. Window-closed messages go out as the pre-approved
// template.
func (d *WhatsAppDispatcher) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	payload := d.buildPayload(msg)

	var lastErr error

	for attempt := 1; attempt <= d.config.SendRetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.config.SendRetryDelay):
			}
		}

		messageID, err := d.post(ctx, payload)
		if err == nil {
			return messageID, nil
		}

		lastErr = err

		if !IsTransientDelivery(err) {
			return "", err
		}

		d.logger.WarnContext(ctx, "Transient send failure, retrying",
			"conversation_id", msg.ConversationID,
			"attempt", attempt,
			"error", err)
	}

	return "", lastErr
}

func (d *WhatsAppDispatcher) buildPayload(msg OutboundMessage) map[string]any {
	if msg.TemplateRequired {
		return map[string]any{
			"messaging_product": "whatsapp",
			"to":                msg.PhoneNumber,
			"type":              "template",
			"template": map[string]any{
				"name":     d.config.TemplateName,
				"language": map[string]any{"code": d.config.TemplateLanguage},
			},
		}
	}

	return map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.PhoneNumber,
		"type":              "text",
		"text":              map[string]any{"body": msg.Text},
	}
}

func (d *WhatsAppDispatcher) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", d.config.BaseURL, d.config.PhoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+d.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &DeliveryError{Transient: true, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &DeliveryError{StatusCode: resp.StatusCode, Transient: true, Message: err.Error()}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &DeliveryError{StatusCode: resp.StatusCode, Transient: true, Message: string(respBody)}
	}

	if resp.StatusCode >= 400 {
		return "", &DeliveryError{StatusCode: resp.StatusCode, Transient: false, Message: string(respBody)}
	}

	var decoded sendResponse

	err = json.Unmarshal(respBody, &decoded)
	if err != nil || len(decoded.Messages) == 0 {
		return "", &DeliveryError{StatusCode: resp.StatusCode, Transient: false, Message: "send response missing message id"}
	}

	return decoded.Messages[0].ID, nil
}

// CallExternal executes an action node's REST call.
func (d *WhatsAppDispatcher) CallExternal(ctx context.Context, config *models.ActionConfig, variables map[string]any) (map[string]any, error) {
	return d.external.call(ctx, config, variables)
}
