package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waflow/waflow/pkg/export"
	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
)

// ErrChatbotNotFound is returned when a chatbot is not found.
var ErrChatbotNotFound = persistence.ErrChatbotNotFound

// Chatbot handles chatbot definition management.
type Chatbot struct {
	persistence persistence.Persistence
}

// NewChatbot creates a new chatbot service.
func NewChatbot(persistence persistence.Persistence) *Chatbot {
	return &Chatbot{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Chatbot) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListChatbotsRequest contains options for listing chatbots.
type ListChatbotsRequest struct {
	// Pagination
	Limit  int
	Offset int

	// Filtering
	Status *models.ChatbotStatus

	// Sorting
	SortBy    string
	SortOrder string
}

// ListChatbotsResponse contains the result of listing chatbots.
type ListChatbotsResponse struct {
	Chatbots    []*models.Chatbot `json:"chatbots"`
	TotalCount  int64             `json:"total_count"`
	HasNextPage bool              `json:"has_next_page"`
}

// ListChatbots retrieves chatbots with filtering, sorting, and pagination.
func (s *Chatbot) ListChatbots(ctx context.Context, req ListChatbotsRequest) (*ListChatbotsResponse, error) {
	err := s.validateListChatbotsRequest(&req)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	all, err := s.persistence.Chatbots().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chatbots: %w", err)
	}

	filtered := make([]*models.Chatbot, 0, len(all))

	for _, chatbot := range all {
		if chatbot.DeletedAt != nil {
			continue
		}

		if req.Status != nil && chatbot.Status != *req.Status {
			continue
		}

		filtered = append(filtered, chatbot)
	}

	sortChatbots(filtered, req.SortBy, req.SortOrder)

	total := int64(len(filtered))

	start := req.Offset
	if start > len(filtered) {
		start = len(filtered)
	}

	end := start + req.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return &ListChatbotsResponse{
		Chatbots:    filtered[start:end],
		TotalCount:  total,
		HasNextPage: end < len(filtered),
	}, nil
}

func sortChatbots(chatbots []*models.Chatbot, sortBy, sortOrder string) {
	sort.SliceStable(chatbots, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "name":
			less = chatbots[i].Name < chatbots[j].Name
		case "updated_at":
			less = chatbots[i].UpdatedAt.Before(chatbots[j].UpdatedAt)
		default:
			less = chatbots[i].CreatedAt.Before(chatbots[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

func (s *Chatbot) validateListChatbotsRequest(req *ListChatbotsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListChatbotsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListChatbotsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil {
		allowedStatuses := []models.ChatbotStatus{
			models.ChatbotStatusDraft,
			models.ChatbotStatusActive,
			models.ChatbotStatusArchived,
		}

		if !slices.Contains(allowedStatuses, *req.Status) {
			return NewValidationError(
				"validateListChatbotsRequest",
				"INVALID_STATUS",
				fmt.Sprintf("invalid status '%s'", *req.Status),
				ErrInvalidStatus,
			)
		}
	}

	return nil
}

// FetchByID retrieves a chatbot by its ID.
func (s *Chatbot) FetchByID(ctx context.Context, id string) (*models.Chatbot, error) {
	chatbot, err := s.persistence.Chatbots().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if chatbot.DeletedAt != nil {
		return nil, ErrChatbotNotFound
	}

	return chatbot, nil
}

// Create adds a new chatbot to the repository. New chatbots always start as
// drafts; activation is a separate, validated step.
func (s *Chatbot) Create(ctx context.Context, chatbot *models.Chatbot) (*models.Chatbot, error) {
	if chatbot == nil {
		return nil, ErrChatbotNil
	}

	if strings.TrimSpace(chatbot.Name) == "" {
		return nil, ErrChatbotNameRequired
	}

	now := time.Now().UTC()
	chatbot.ID = uuid.New().String()
	chatbot.CreatedAt = now
	chatbot.UpdatedAt = now
	chatbot.Status = models.ChatbotStatusDraft
	chatbot.IsActive = false

	err := s.persistence.Chatbots().Save(ctx, chatbot)
	if err != nil {
		return nil, fmt.Errorf("failed to create chatbot: %w", err)
	}

	return chatbot, nil
}

// Update modifies an existing chatbot by its ID. Archived chatbots are
// immutable history.
func (s *Chatbot) Update(ctx context.Context, chatbotID string, chatbot *models.Chatbot) (*models.Chatbot, error) {
	existing, err := s.FetchByID(ctx, chatbotID)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.ChatbotStatusArchived {
		return nil, ErrCannotModifyArchived
	}

	if strings.TrimSpace(chatbot.Name) == "" {
		return nil, ErrChatbotNameRequired
	}

	chatbot.ID = chatbotID
	chatbot.Status = existing.Status
	chatbot.IsActive = existing.IsActive
	chatbot.CreatedAt = existing.CreatedAt
	chatbot.UpdatedAt = time.Now().UTC()

	err = s.persistence.Chatbots().Save(ctx, chatbot)
	if err != nil {
		return nil, fmt.Errorf("failed to update chatbot: %w", err)
	}

	return chatbot, nil
}

// Delete soft-deletes a chatbot by its ID.
func (s *Chatbot) Delete(ctx context.Context, chatbotID string) error {
	existing, err := s.FetchByID(ctx, chatbotID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	existing.DeletedAt = &now
	existing.IsActive = false
	existing.UpdatedAt = now

	err = s.persistence.Chatbots().Save(ctx, existing)
	if err != nil {
		return fmt.Errorf("failed to delete chatbot: %w", err)
	}

	return nil
}

// Export renders a chatbot's flow as a portable JSON envelope.
func (s *Chatbot) Export(ctx context.Context, chatbotID, dataSource string) ([]byte, error) {
	chatbot, err := s.FetchByID(ctx, chatbotID)
	if err != nil {
		return nil, err
	}

	return export.Marshal(export.Export(chatbot, dataSource))
}

// Import creates a new draft chatbot from an exported envelope.
func (s *Chatbot) Import(ctx context.Context, data []byte) (*models.Chatbot, error) {
	chatbot, err := export.Import(data)
	if err != nil {
		return nil, NewValidationError("Import", "INVALID_ENVELOPE", err.Error(), ErrInvalidRequest)
	}

	err = s.persistence.Chatbots().Save(ctx, chatbot)
	if err != nil {
		return nil, fmt.Errorf("failed to save imported chatbot: %w", err)
	}

	return chatbot, nil
}
