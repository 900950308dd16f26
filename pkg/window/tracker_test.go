package window_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence/file"
	"github.com/waflow/waflow/pkg/window"
)

func TestRecordCustomerMessage(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	tracker := window.NewTracker(store.Conversations())

	conversation := &models.Conversation{
		ID:          "wa-5511999990000",
		PhoneNumber: "+5511999990000",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.Conversations().Save(t.Context(), conversation))

	receivedAt := time.Now().UTC()
	require.NoError(t, tracker.RecordCustomerMessage(t.Context(), conversation, receivedAt))

	assert.True(t, conversation.IsWindowOpen)
	require.NotNil(t, conversation.LastCustomerMessageAt)
	assert.Equal(t, receivedAt, *conversation.LastCustomerMessageAt)

	loaded, err := store.Conversations().ByID(t.Context(), conversation.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsWindowOpen)
	require.NotNil(t, loaded.LastCustomerMessageAt)
}

func TestIsWithinWindow(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	tracker := window.NewTracker(store.Conversations())
	now := time.Now().UTC()

	tests := []struct {
		name     string
		lastAt   time.Duration
		noneYet  bool
		expected bool
	}{
		{name: "recent message keeps window open", lastAt: -time.Hour, expected: true},
		{name: "just under the limit", lastAt: -(models.MessagingWindow - time.Minute), expected: true},
		{name: "past the limit", lastAt: -(models.MessagingWindow + time.Minute), expected: false},
		{name: "no customer message yet", noneYet: true, expected: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conversation := &models.Conversation{ID: "wa-1", PhoneNumber: "+10000000001"}
			if !test.noneYet {
				at := now.Add(test.lastAt)
				conversation.LastCustomerMessageAt = &at
			}

			assert.Equal(t, test.expected, tracker.IsWithinWindow(conversation, now))
		})
	}
}
