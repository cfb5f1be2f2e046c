package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/response"
	"MegaBrain/pkg/supabase"
)

const errAccountDelete = "계정 삭제에 실패했습니다."

type deleteAccountBody struct {
	UserID string `json:"userId"`
}

// handleDeleteAccount removes the caller's auth account, then their guardian
// links and emergency contacts. The body may name the caller but nobody else.
func (h *Handlers) handleDeleteAccount(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var body deleteAccountBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		response.Fail(c, http.StatusBadRequest, "요청 본문을 확인할 수 없습니다.")
		return
	}
	if body.UserID != "" && body.UserID != user.ID {
		response.Unauthorized(c)
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), user.ID); err != nil {
		logger.Error("delete auth account failed", zap.String("user_id", user.ID), zap.Error(err))
		msg := errAccountDelete
		var apiErr *supabase.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			msg = apiErr.Message
		}
		response.Fail(c, http.StatusInternalServerError, msg)
		return
	}

	if err := models.DeleteUserData(h.db, user.ID); err != nil {
		response.Error(c, err, errAccountDelete)
		return
	}
	logger.Info("account deleted", zap.String("user_id", user.ID))
	response.Success(c, nil)
}
