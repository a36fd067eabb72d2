package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/animgen/api/internal/admission"
	"github.com/animgen/api/internal/middleware"
	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/service"
	"github.com/animgen/api/internal/store"
	"github.com/animgen/api/pkg/response"
)

type JobHandler struct {
	jobs      *service.JobService
	users     *service.UserService
	validator *validator.Validate
}

func NewJobHandler(jobs *service.JobService, users *service.UserService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		users:     users,
		validator: v,
	}
}

// Generate handles POST /api/jobs/generate. Authentication is optional;
// authenticated submissions are admitted against the caller's credit
// balance and concurrency cap.
func (h *JobHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	user, err := h.resolveUser(c)
	if err != nil {
		return response.ServiceError(c, "Failed to resolve account")
	}

	result, err := h.jobs.Submit(c.Context(), &req, user)
	if err != nil {
		switch {
		case errors.Is(err, admission.ErrConcurrencyExceeded):
			return response.ConcurrencyLimit(c, "Too many jobs in flight; wait for one to finish")
		case errors.Is(err, admission.ErrPaymentRequired):
			return response.PaymentRequired(c, "Out of credits; add credits or configure a personal API key")
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	user, err := h.resolveUser(c)
	if err != nil {
		return response.ServiceError(c, "Failed to resolve account")
	}
	userID := ""
	if user != nil {
		userID = user.ID
	}

	result, err := h.jobs.Status(c.Context(), jobID, userID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrNotAuthorized):
			return response.Forbidden(c, "You do not own this job")
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.OK(c, result)
}

// List handles GET /api/jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	user, err := h.requireUser(c)
	if user == nil {
		return err
	}

	limit, offset := pagination(c)
	result, lerr := h.jobs.List(c.Context(), user.ID, limit, offset)
	if lerr != nil {
		return response.ServiceError(c, lerr.Error())
	}
	return response.OK(c, result)
}

// Public handles GET /api/jobs/public, the completed-jobs gallery
func (h *JobHandler) Public(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	result, err := h.jobs.ListPublic(c.Context(), limit, offset)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// Delete handles DELETE /api/jobs/:jobId
func (h *JobHandler) Delete(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	user, err := h.requireUser(c)
	if user == nil {
		return err
	}

	if err := h.jobs.Delete(c.Context(), jobID, user.ID); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// Stats handles GET /api/stats
func (h *JobHandler) Stats(c *fiber.Ctx) error {
	result, err := h.jobs.Stats(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}

// resolveUser returns the account for the authenticated caller, or nil
// for anonymous requests
func (h *JobHandler) resolveUser(c *fiber.Ctx) (*model.User, error) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return nil, nil
	}
	return h.users.GetOrCreate(c.Context(), claims)
}

// requireUser resolves the authenticated account. On failure the
// rejection response has already been written; the caller returns the
// accompanying error as-is when the user is nil.
func (h *JobHandler) requireUser(c *fiber.Ctx) (*model.User, error) {
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

func pagination(c *fiber.Ctx) (int, int) {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
