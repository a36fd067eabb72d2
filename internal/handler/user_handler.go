package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/animgen/api/internal/middleware"
	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/service"
	"github.com/animgen/api/pkg/response"
)

type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// Me handles GET /api/users/me. The account is created on first sight.
func (h *UserHandler) Me(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}
	return response.OK(c, user)
}

// RotateAPIKey handles POST /api/users/me/api-key. The new key replaces
// any previous one and is only shown in this response.
func (h *UserHandler) RotateAPIKey(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	apiKey, rerr := h.users.RotateAPIKey(c.Context(), user.ID)
	if rerr != nil {
		return response.ServiceError(c, "Failed to rotate API key")
	}
	return response.OK(c, model.APIKeyResponse{APIKey: apiKey})
}

// Usage handles GET /api/users/me/usage
func (h *UserHandler) Usage(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}

	usage, uerr := h.users.Usage(c.Context(), user.ID)
	if uerr != nil {
		return response.ServiceError(c, "Failed to load usage")
	}
	return response.OK(c, usage)
}

func (h *UserHandler) currentUser(c *fiber.Ctx) (*model.User, error) {
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
