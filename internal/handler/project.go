package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/internal/middleware"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/service"
	"github.com/veoflow/api/pkg/response"
)

type ProjectHandler struct {
	service   *service.ProjectService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.ProjectService, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/projects
// @Summary      Create project
// @Description  Create an idle project from a narration script and generation settings
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        request body model.CreateProjectRequest true "Create request"
// @Success      201 {object} model.ProjectResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects [post]
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.service.Create(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Created(c, model.NewProjectResponse(p))
}

// List handles GET /api/projects
// @Summary      List projects
// @Description  List the caller's projects, newest first
// @Tags         Projects
// @Produce      json
// @Success      200 {array} model.ProjectResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects [get]
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.service.List(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return serviceError(c, err)
	}

	out := make([]*model.ProjectResponse, len(projects))
	for i, p := range projects {
		out[i] = model.NewProjectResponse(p)
	}
	return response.OK(c, out)
}

// Get handles GET /api/projects/:projectId
// @Summary      Get project
// @Description  Scenes, phase, cursor, banner and derived progress flags
// @Tags         Projects
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Success      200 {object} model.ProjectResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId} [get]
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	p, err := h.service.Get(c.Context(), middleware.GetUserID(c), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, model.NewProjectResponse(p))
}

// UpdateScript handles PUT /api/projects/:projectId/script
// @Summary      Update script
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        request body model.UpdateScriptRequest true "Script"
// @Success      200 {object} model.ProjectResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/script [put]
func (h *ProjectHandler) UpdateScript(c *fiber.Ctx) error {
	var req model.UpdateScriptRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.service.UpdateScript(c.Context(), middleware.GetUserID(c), c.Params("projectId"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, model.NewProjectResponse(p))
}

// UpdateConfig handles PUT /api/projects/:projectId/config
// @Summary      Update generation settings
// @Description  Duration, mode, aspect ratio and reference image. Refused with CONFIG_LOCKED once scenes exist.
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        request body model.UpdateConfigRequest true "Settings"
// @Success      200 {object} model.ProjectResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/config [put]
func (h *ProjectHandler) UpdateConfig(c *fiber.Ctx) error {
	var req model.UpdateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	p, err := h.service.UpdateConfig(c.Context(), middleware.GetUserID(c), c.Params("projectId"), &req)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, model.NewProjectResponse(p))
}

// Run handles POST /api/projects/:projectId/run
// @Summary      Start or resume generation
// @Description  Queues the pipeline. Completed scenes are kept; failed and pending scenes are generated in order.
// @Tags         Pipeline
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Success      202 {object} model.RunResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      428 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/run [post]
func (h *ProjectHandler) Run(c *fiber.Ctx) error {
	result, err := h.service.StartRun(c.Context(), middleware.GetUserID(c), c.Params("projectId"))
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// RetryScene handles POST /api/projects/:projectId/scenes/:index/retry
// @Summary      Retry one scene
// @Description  Regenerates a single failed scene with its stored prompt
// @Tags         Pipeline
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        index path int true "Scene index"
// @Success      202 {object} model.RunResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      428 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/scenes/{index}/retry [post]
func (h *ProjectHandler) RetryScene(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return response.ValidationError(c, "Scene index must be an integer", nil)
	}

	result, err := h.service.RetryScene(c.Context(), middleware.GetUserID(c), c.Params("projectId"), index)
	if err != nil {
		return serviceError(c, err)
	}
	return response.Accepted(c, result)
}

// Reset handles POST /api/projects/:projectId/reset
// @Summary      Reset project
// @Description  Discards all scenes and stored clips. Requires {"confirm": true}.
// @Tags         Pipeline
// @Accept       json
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        request body model.ResetRequest true "Confirmation"
// @Success      200 {object} model.ProjectResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/reset [post]
func (h *ProjectHandler) Reset(c *fiber.Ctx) error {
	var req model.ResetRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	p, err := h.service.Reset(c.Context(), middleware.GetUserID(c), c.Params("projectId"), req.Confirm)
	if err != nil {
		return serviceError(c, err)
	}
	return response.OK(c, model.NewProjectResponse(p))
}

// Media handles GET /api/projects/:projectId/scenes/:index/media
// @Summary      Scene clip
// @Description  Redirects to a playable URL of the stored clip
// @Tags         Pipeline
// @Param        projectId path string true "Project ID"
// @Param        index path int true "Scene index"
// @Success      302
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/scenes/{index}/media [get]
func (h *ProjectHandler) Media(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil {
		return response.ValidationError(c, "Scene index must be an integer", nil)
	}

	url, err := h.service.MediaURL(c.Context(), middleware.GetUserID(c), c.Params("projectId"), index)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Redirect(url, fiber.StatusFound)
}
