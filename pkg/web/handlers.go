// Package web provides HTTP handlers and REST API endpoints for chatbot
// management and conversation inspection.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/persistence"
	"github.com/waflow/waflow/pkg/services"
)

type APIHandlers struct {
	chatbotService    *services.Chatbot
	activationService *services.Activation
	persistence       persistence.Persistence
	validator         *validator.Validate
}

func NewAPIHandlers(
	chatbotService *services.Chatbot,
	activationService *services.Activation,
	store persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		chatbotService:    chatbotService,
		activationService: activationService,
		persistence:       store,
		validator:         validator,
	}
}

func (h *APIHandlers) GetChatbots(c fiber.Ctx) error {
	req, err := h.parseListChatbotsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.chatbotService.ListChatbots(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"chatbots":      result.Chatbots,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

func (h *APIHandlers) parseListChatbotsRequest(c fiber.Ctx) (*services.ListChatbotsRequest, error) {
	req := &services.ListChatbotsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ChatbotStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetChatbot(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	chatbot, err := h.chatbotService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsChatbotNotFound(err) {
			return notFound(c, "Chatbot not found")
		}

		return internalError(c, err)
	}

	return c.JSON(chatbot)
}

func (h *APIHandlers) CreateChatbot(c fiber.Ctx) error {
	var req CreateChatbotRequest

	err := c.Bind().JSON(&req)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err = h.validator.Struct(req)
	if err != nil {
		return badRequest(c, err.Error())
	}

	chatbot := &models.Chatbot{
		Name:        req.Name,
		Description: req.Description,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
		Metadata:    req.Metadata,
	}

	created, err := h.chatbotService.Create(c.Context(), chatbot)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateChatbot(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	var req UpdateChatbotRequest

	err := c.Bind().JSON(&req)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err = h.validator.Struct(req)
	if err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.chatbotService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsChatbotNotFound(err) {
			return notFound(c, "Chatbot not found")
		}

		return internalError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Nodes != nil {
		existing.Nodes = req.Nodes
	}

	if req.Edges != nil {
		existing.Edges = req.Edges
	}

	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}

	updated, err := h.chatbotService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteChatbot(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	err := h.chatbotService.Delete(c.Context(), id)
	if err != nil {
		if persistence.IsChatbotNotFound(err) {
			return notFound(c, "Chatbot not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateChatbot(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	activated, err := h.activationService.Activate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(activated)
}

func (h *APIHandlers) ArchiveChatbot(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	archived, err := h.activationService.Archive(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(archived)
}

func (h *APIHandlers) ExportChatbot(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chatbot ID is required")
	}

	data, err := h.chatbotService.Export(c.Context(), id, c.Query("data_source"))
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	return c.Send(data)
}

func (h *APIHandlers) ImportChatbot(c fiber.Ctx) error {
	imported, err := h.chatbotService.Import(c.Context(), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(imported)
}

// GetConversationContexts lists every context of a conversation, newest
// first, for support tooling.
func (h *APIHandlers) GetConversationContexts(c fiber.Ctx) error {
	conversationID := c.Params("id")
	if conversationID == "" {
		return badRequest(c, "Conversation ID is required")
	}

	contexts, err := h.persistence.Contexts().ByConversation(c.Context(), conversationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	responses := make([]ContextResponse, 0, len(contexts))
	for _, execCtx := range contexts {
		responses = append(responses, TransformContextResponse(execCtx))
	}

	return c.JSON(responses)
}

func (h *APIHandlers) GetContext(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Context ID is required")
	}

	execCtx, err := h.persistence.Contexts().ByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformContextResponse(execCtx))
}

// SearchContextsByOutput finds contexts where a given node recorded the
// given output.
func (h *APIHandlers) SearchContextsByOutput(c fiber.Ctx) error {
	var req SearchContextsRequest

	err := c.Bind().JSON(&req)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.NodeID == "" {
		return badRequest(c, "node_id is required")
	}

	contexts, err := h.persistence.Contexts().FindByNodeOutput(c.Context(), req.NodeID, req.Output)
	if err != nil {
		return handleServiceError(c, err)
	}

	responses := make([]ContextResponse, 0, len(contexts))
	for _, execCtx := range contexts {
		responses = append(responses, TransformContextResponse(execCtx))
	}

	return c.JSON(responses)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.chatbotService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Waflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Waflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
