// README: WebSocket endpoint upgrading callers onto the per-user event stream.
package handlers

import (
	"github.com/gin-gonic/gin"

	"haulmatch/internal/events"
	"haulmatch/internal/httpapi/middleware"
)

type WSHandler struct {
	hub *events.Hub
}

func NewWSHandler(hub *events.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Serve upgrades the connection and parks it on the hub until the client
// goes away. Auth ran before us, so the uid is trusted.
func (h *WSHandler) Serve(c *gin.Context) {
	uid := middleware.CallerUID(c)
	if uid == "" {
		c.AbortWithStatus(401)
		return
	}
	if err := h.hub.Serve(c.Writer, c.Request, uid); err != nil {
		// Upgrade failures already wrote their response.
		_ = c.Error(err)
	}
}
