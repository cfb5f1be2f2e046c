package response

import (
	"net/http"

	"MegaBrain/pkg/errors"
	"MegaBrain/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OK writes body with status 200.
func OK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

// Success writes {"success": true} merged with extra.
func Success(c *gin.Context, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Fail writes {"error": message} with status.
func Fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// Unauthorized is the shared 401 body.
func Unauthorized(c *gin.Context) {
	Fail(c, http.StatusUnauthorized, "Unauthorized")
}

// Error renders err. Coded errors keep their status and envelope; anything
// else is logged and reported as a 500 with fallback as the message.
func Error(c *gin.Context, err error, fallback string) {
	var appErr *errors.Error
	if errors.As(err, &appErr) && appErr.Code != 0 {
		if appErr.Code >= http.StatusInternalServerError {
			logger.Error(appErr.Message, fieldsFor(c, appErr)...)
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(appErr.Code, appErr.Envelope())
		return
	}
	logger.Error(fallback, zap.Error(err), zap.String("path", c.Request.URL.Path))
	_ = c.Error(err)
	Fail(c, http.StatusInternalServerError, fallback)
}

func fieldsFor(c *gin.Context, e *errors.Error) []zap.Field {
	fields := []zap.Field{zap.String("path", c.Request.URL.Path)}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	for _, kv := range e.Context {
		fields = append(fields, zap.String(kv.Key, kv.Value))
	}
	return fields
}
