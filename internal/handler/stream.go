package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/veoflow/api/internal/middleware"
	"github.com/veoflow/api/internal/service"
	ws "github.com/veoflow/api/internal/websocket"
)

// StreamHandler serves the per-project WebSocket event stream
type StreamHandler struct {
	projects *service.ProjectService
	hub      *ws.Hub
}

func NewStreamHandler(projects *service.ProjectService, hub *ws.Hub) *StreamHandler {
	return &StreamHandler{projects: projects, hub: hub}
}

// Authorize runs before the upgrade: only the project owner may subscribe.
func (h *StreamHandler) Authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, err := h.projects.Get(c.Context(), middleware.GetUserID(c), c.Params("projectId")); err != nil {
		return serviceError(c, err)
	}
	return c.Next()
}

// Serve handles GET /ws/projects/:projectId
func (h *StreamHandler) Serve() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.hub.HandleConnection(c, c.Params("projectId"))
	})
}
