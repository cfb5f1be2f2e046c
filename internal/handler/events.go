package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/sse"
)

// handleEvents streams guardian and SOS events addressed to the caller.
func (h *Handlers) handleEvents(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	h.hub.Serve(c, uuid.NewString(), sse.UserGroup(userID))
}
