package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
	"github.com/waflow/waflow/pkg/persistence/file"
)

func newChatbotService(t *testing.T) (*Chatbot, persistence.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	return NewChatbot(store), store
}

func draftChatbot(name string) *models.Chatbot {
	return &models.Chatbot{
		Name: name,
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "hello", Type: models.NodeTypeMessage, Data: models.NodeData{
				Terminal: true,
				Message:  &models.MessageConfig{Text: "Hello."},
			}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "hello"},
		},
	}
}

func TestChatbotCreate(t *testing.T) {
	service, _ := newChatbotService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, draftChatbot("Support bot"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.ChatbotStatusDraft, created.Status)
	assert.False(t, created.IsActive)

	fetched, err := service.FetchByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Support bot", fetched.Name)
}

func TestChatbotCreate_RequiresName(t *testing.T) {
	service, _ := newChatbotService(t)

	_, err := service.Create(context.Background(), draftChatbot("  "))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChatbotNameRequired)
	assert.True(t, IsValidationError(err))
}

func TestChatbotUpdate_PreservesLifecycleFields(t *testing.T) {
	service, _ := newChatbotService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, draftChatbot("Support bot"))
	require.NoError(t, err)

	updated := draftChatbot("Support bot v2")
	updated.Status = models.ChatbotStatusActive // must be ignored
	updated.IsActive = true                     // must be ignored

	result, err := service.Update(ctx, created.ID, updated)
	require.NoError(t, err)
	assert.Equal(t, "Support bot v2", result.Name)
	assert.Equal(t, models.ChatbotStatusDraft, result.Status)
	assert.False(t, result.IsActive)
	assert.Equal(t, created.CreatedAt, result.CreatedAt)
}

func TestChatbotDelete_SoftDeletes(t *testing.T) {
	service, _ := newChatbotService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, draftChatbot("Support bot"))
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, created.ID))

	_, err = service.FetchByID(ctx, created.ID)
	assert.ErrorIs(t, err, ErrChatbotNotFound)
}

func TestListChatbots(t *testing.T) {
	service, _ := newChatbotService(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "bravo", "charlie"} {
		_, err := service.Create(ctx, draftChatbot(name))
		require.NoError(t, err)

		time.Sleep(time.Millisecond) // distinct created_at for sorting
	}

	t.Run("paginates", func(t *testing.T) {
		result, err := service.ListChatbots(ctx, ListChatbotsRequest{Limit: 2, SortBy: "name", SortOrder: "asc"})
		require.NoError(t, err)
		assert.EqualValues(t, 3, result.TotalCount)
		require.Len(t, result.Chatbots, 2)
		assert.True(t, result.HasNextPage)
		assert.Equal(t, "alpha", result.Chatbots[0].Name)
	})

	t.Run("filters by status", func(t *testing.T) {
		status := models.ChatbotStatusActive
		result, err := service.ListChatbots(ctx, ListChatbotsRequest{Status: &status})
		require.NoError(t, err)
		assert.Empty(t, result.Chatbots)
	})

	t.Run("rejects unknown sort field", func(t *testing.T) {
		_, err := service.ListChatbots(ctx, ListChatbotsRequest{SortBy: "phone"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidSortField)
	})
}

func TestChatbotExportImport(t *testing.T) {
	service, _ := newChatbotService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, draftChatbot("Support bot"))
	require.NoError(t, err)

	data, err := service.Export(ctx, created.ID, "test")
	require.NoError(t, err)

	imported, err := service.Import(ctx, data)
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, imported.ID)
	assert.Equal(t, created.Name, imported.Name)
	assert.Equal(t, models.ChatbotStatusDraft, imported.Status)

	_, err = service.Import(ctx, []byte(`{"nope":true}`))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}
