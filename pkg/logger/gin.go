package logger

import (
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinLogger logs one line per request.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if uid := c.GetString("user_id"); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, zap.String("errors", errs))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			current().Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			current().Warn("request", fields...)
		default:
			current().Info("request", fields...)
		}
	}
}

// GinRecovery turns a panic into the standard 500 envelope.
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// a client that went away is not worth a stack trace
				var brokenPipe bool
				if ne, ok := err.(*net.OpError); ok {
					if se, ok := ne.Err.(*os.SyscallError); ok {
						msg := strings.ToLower(se.Error())
						brokenPipe = strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
					}
				}
				req, _ := httputil.DumpRequest(c.Request, false)
				if brokenPipe {
					current().Error(c.Request.URL.Path, zap.Any("error", err), zap.String("request", string(req)))
					c.Abort()
					return
				}
				current().Error("panic recovered",
					zap.Any("error", err),
					zap.String("request", string(req)),
					zap.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "서버 오류가 발생했습니다."})
			}
		}()
		c.Next()
	}
}
