package models

import "time"

// MessagingWindow is WhatsApp's customer-initiated messaging window: free-form
// outbound sends are only permitted within this duration of the last customer
// message.
const MessagingWindow = 24 * time.Hour

// Conversation represents a WhatsApp conversation with a single customer,
// carrying the messaging window state the engine consults before sends.
type Conversation struct {
	ID                    string     `json:"id"`
	PhoneNumber           string     `json:"phone_number" validate:"required,e164"`
	LastCustomerMessageAt *time.Time `json:"last_customer_message_at,omitempty"`
	IsWindowOpen          bool       `json:"is_window_open"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// WithinWindow reports whether a free-form outbound send is currently
// permitted. Derived from LastCustomerMessageAt; IsWindowOpen is the
// persisted snapshot recomputed on every inbound customer message.
func (c *Conversation) WithinWindow(now time.Time) bool {
	if c.LastCustomerMessageAt == nil {
		return false
	}

	return now.Sub(*c.LastCustomerMessageAt) < MessagingWindow
}
