package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/internal/middleware"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/service"
	"github.com/veoflow/api/pkg/response"
)

type CredentialHandler struct {
	service   *service.CredentialService
	validator *validator.Validate
}

func NewCredentialHandler(svc *service.CredentialService, v *validator.Validate) *CredentialHandler {
	return &CredentialHandler{
		service:   svc,
		validator: v,
	}
}

// Status handles GET /api/credentials
// @Summary      Credential status
// @Tags         Credentials
// @Produce      json
// @Success      200 {object} model.CredentialStatus
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/credentials [get]
func (h *CredentialHandler) Status(c *fiber.Ctx) error {
	status, err := h.service.Status(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, status)
}

// Connect handles POST /api/credentials
// @Summary      Connect API key
// @Description  Stores the key (when given) and probes it. Without a key the server key is probed again.
// @Tags         Credentials
// @Accept       json
// @Produce      json
// @Param        request body model.ConnectCredentialRequest false "API key"
// @Success      200 {object} model.CredentialStatus
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/credentials [post]
func (h *CredentialHandler) Connect(c *fiber.Ctx) error {
	var req model.ConnectCredentialRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	ok, err := h.service.Set(c.Context(), middleware.GetUserID(c), req.APIKey)
	if err != nil {
		return response.UpstreamError(c, err.Error())
	}
	return response.OK(c, &model.CredentialStatus{HasCredential: ok})
}

// Delete handles DELETE /api/credentials
// @Summary      Forget API key
// @Tags         Credentials
// @Success      204
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/credentials [delete]
func (h *CredentialHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), middleware.GetUserID(c)); err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}
