// Package window enforces WhatsApp's 24-hour customer-initiated messaging
// window over conversations.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// Tracker records inbound customer activity and answers whether free-form
// outbound sends are currently permitted for a conversation.
type Tracker struct {
	conversations persistence.ConversationRepository
}

// NewTracker creates a window tracker over the conversation store.
func NewTracker(conversations persistence.ConversationRepository) *Tracker {
	return &Tracker{conversations: conversations}
}

// RecordCustomerMessage updates the conversation's window state for an
// inbound customer message received at the given time.
func (t *Tracker) RecordCustomerMessage(ctx context.Context, conversation *models.Conversation, at time.Time) error {
	conversation.LastCustomerMessageAt = &at
	conversation.IsWindowOpen = true

	err := t.conversations.Save(ctx, conversation)
	if err != nil {
		return fmt.Errorf("failed to record customer message for conversation %s: %w", conversation.ID, err)
	}

	return nil
}

// IsWithinWindow reports whether the conversation permits free-form outbound
// sends at the given time. Outside the window, sends must be downgraded to
// pre-approved templates rather than silently dropped.
func (t *Tracker) IsWithinWindow(conversation *models.Conversation, now time.Time) bool {
	return conversation.WithinWindow(now)
}
