package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/internal/middleware"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/service"
	"github.com/veoflow/api/pkg/response"
)

type DraftHandler struct {
	service   *service.DraftService
	validator *validator.Validate
}

func NewDraftHandler(svc *service.DraftService, v *validator.Validate) *DraftHandler {
	return &DraftHandler{
		service:   svc,
		validator: v,
	}
}

// Get handles GET /api/drafts
// @Summary      Load draft
// @Description  The editor's saved script and duration; empty script and 00:16 when none was saved
// @Tags         Drafts
// @Produce      json
// @Success      200 {object} model.Draft
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/drafts [get]
func (h *DraftHandler) Get(c *fiber.Ctx) error {
	draft, err := h.service.Load(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, draft)
}

// Save handles PUT /api/drafts
// @Summary      Save draft
// @Tags         Drafts
// @Accept       json
// @Produce      json
// @Param        request body model.SaveDraftRequest true "Draft"
// @Success      200 {object} model.Draft
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/drafts [put]
func (h *DraftHandler) Save(c *fiber.Ctx) error {
	var req model.SaveDraftRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	draft, err := h.service.Save(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, draft)
}
