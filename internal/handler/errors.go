package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/internal/service"
	"github.com/veoflow/api/internal/store"
	"github.com/veoflow/api/pkg/response"
)

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string, len(validationErrors))
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}

// serviceError maps service and store errors onto the response envelope
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		return response.NotFound(c, "Project not found")
	case errors.Is(err, service.ErrPipelineBusy):
		return response.Conflict(c, response.CodeConflict, "A generation run is already in progress for this project")
	case errors.Is(err, service.ErrConfigLocked):
		return response.Conflict(c, response.CodeConfigLocked, "Configuration cannot change once scenes exist; reset the project first")
	case errors.Is(err, service.ErrSceneNotRetryable):
		return response.Conflict(c, response.CodeConflict, "Only a failed scene can be retried")
	case errors.Is(err, service.ErrMediaNotReady):
		return response.Conflict(c, response.CodeConflict, "Scene has no stored clip yet")
	case errors.Is(err, service.ErrCredentialRequired):
		return response.CredentialRequired(c, "Connect a valid Gemini API key before generating")
	case errors.Is(err, service.ErrConfirmationRequired),
		errors.Is(err, service.ErrEmptyScript),
		errors.Is(err, service.ErrSceneIndexOutOfRange):
		return response.ValidationError(c, err.Error(), nil)
	}
	return response.ServiceError(c, err.Error())
}
