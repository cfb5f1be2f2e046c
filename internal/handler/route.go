package handlers

import (
	"github.com/gin-gonic/gin"

	"MegaBrain/internal/safety"
	"MegaBrain/pkg/response"
)

const routeFailure = "길찾기 실패"

func (h *Handlers) handleGetRoute(c *gin.Context) {
	var req safety.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, safety.ErrInvalidPoints.WithCause(err), routeFailure)
		return
	}

	resp, err := h.planner.Plan(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err, routeFailure)
		return
	}
	response.OK(c, resp)
}
