package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/animgen/api/internal/middleware"
	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/service"
	"github.com/animgen/api/internal/store"
	"github.com/animgen/api/pkg/response"
)

type ConversationHandler struct {
	conversations *service.ConversationService
	users         *service.UserService
	validator     *validator.Validate
}

func NewConversationHandler(conversations *service.ConversationService, users *service.UserService, v *validator.Validate) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		users:         users,
		validator:     v,
	}
}

// Create handles POST /api/conversations
func (h *ConversationHandler) Create(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	var req model.ConversationCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	conv, cerr := h.conversations.Create(c.Context(), user.ID, req.Title)
	if cerr != nil {
		return response.ServiceError(c, cerr.Error())
	}
	return response.Created(c, conv)
}

// List handles GET /api/conversations
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	limit, offset := pagination(c)
	convs, lerr := h.conversations.List(c.Context(), user.ID, limit, offset)
	if lerr != nil {
		return response.ServiceError(c, lerr.Error())
	}
	return response.OK(c, convs)
}

// Get handles GET /api/conversations/:id, including the jobs in the thread
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	conv, gerr := h.conversations.Get(c.Context(), c.Params("id"), user.ID)
	if gerr != nil {
		if errors.Is(gerr, store.ErrConversationNotFound) {
			return response.NotFound(c, "Conversation not found")
		}
		return response.ServiceError(c, gerr.Error())
	}
	return response.OK(c, conv)
}

// Rename handles PATCH /api/conversations/:id
func (h *ConversationHandler) Rename(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	var req model.ConversationCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	conv, rerr := h.conversations.Rename(c.Context(), c.Params("id"), user.ID, req.Title)
	if rerr != nil {
		if errors.Is(rerr, store.ErrConversationNotFound) {
			return response.NotFound(c, "Conversation not found")
		}
		return response.ServiceError(c, rerr.Error())
	}
	return response.OK(c, conv)
}

// Delete handles DELETE /api/conversations/:id. Jobs in the thread are
// detached, not deleted.
func (h *ConversationHandler) Delete(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	if derr := h.conversations.Delete(c.Context(), c.Params("id"), user.ID); derr != nil {
		if errors.Is(derr, store.ErrConversationNotFound) {
			return response.NotFound(c, "Conversation not found")
		}
		return response.ServiceError(c, derr.Error())
	}
	return response.NoContent(c)
}

func (h *ConversationHandler) currentUser(c *fiber.Ctx) (*model.User, error) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return nil, response.Unauthorized(c, "Authentication required")
	}
	user, err := h.users.GetOrCreate(c.Context(), claims)
	if err != nil {
		return nil, response.ServiceError(c, "Failed to resolve account")
	}
	return user, nil
}
