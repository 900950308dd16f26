// Package dispatch converts engine decisions into outbound WhatsApp sends
// and external REST calls.
package dispatch

import (
	"context"

	"github.com/waflow/waflow/pkg/models"
)

// OutboundKind distinguishes the actions the engine enqueues.
type OutboundKind string

const (
	OutboundKindMessage  OutboundKind = "message"
	OutboundKindQuestion OutboundKind = "question"
)

// OutboundMessage is a rendered message ready for delivery.
type OutboundMessage struct {
	ConversationID string       `json:"conversation_id"`
	PhoneNumber    string       `json:"phone_number"`
	NodeID         string       `json:"node_id"`
	Kind           OutboundKind `json:"kind"`
	Text           string       `json:"text"`

	// TemplateRequired is set when the 24h messaging window is closed: the
	// dispatcher must deliver a pre-approved template instead of free-form
	// text.
	TemplateRequired bool `json:"template_required"`
}

// Dispatcher performs the engine's side effects. The engine treats a returned
// failure as final; retry policy is owned by the dispatcher.
type Dispatcher interface {
	// Send delivers a rendered message and returns the provider message ID.
	// Failures are DeliveryError values, transient or permanent.
	Send(ctx context.Context, msg OutboundMessage) (string, error)

	// CallExternal executes an action node's REST call with templated
	// configuration and returns the decoded response. Failures after the
	// retry budget are ExternalCallError values.
	CallExternal(ctx context.Context, config *models.ActionConfig, variables map[string]any) (map[string]any, error)
}
