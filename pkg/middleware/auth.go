package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MegaBrain/pkg/cache"
	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/metrics"
	"MegaBrain/pkg/response"
	"MegaBrain/pkg/supabase"
)

const (
	ContextUserKey   = "user"
	ContextUserIDKey = "user_id"
)

// TokenVerifier resolves a bearer token to its user.
type TokenVerifier interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

type AuthOptions struct {
	// Cache holds verified users keyed by token hash. nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

// Authenticate resolves the bearer token when one is present. It never aborts;
// routes that need a user add RequireUser.
func Authenticate(verifier TokenVerifier, opts AuthOptions) gin.HandlerFunc {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := "auth:" + tokenHash(token)

		if opts.Cache != nil {
			if u, ok := cache.GetJSON[supabase.User](ctx, opts.Cache, key); ok {
				opts.Metrics.RecordCacheHit("auth")
				setUser(c, &u)
				c.Next()
				return
			}
			opts.Metrics.RecordCacheMiss("auth")
		}

		user, err := verifier.GetUser(ctx, token)
		if err != nil {
			if !errors.Is(err, supabase.ErrUnauthorized) {
				logger.Warn("token verification failed", zap.Error(err))
			}
			c.Next()
			return
		}
		if opts.Cache != nil {
			if err := cache.SetJSON(ctx, opts.Cache, key, user, opts.CacheTTL); err != nil {
				logger.Debug("auth cache write failed", zap.Error(err))
			}
		}
		setUser(c, user)
		c.Next()
	}
}

// RequireUser aborts with 401 {error: message} when no user was resolved.
func RequireUser(message string) gin.HandlerFunc {
	if message == "" {
		message = "Unauthorized"
	}
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			response.Fail(c, 401, message)
			c.Abort()
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) *supabase.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*supabase.User)
	return u
}

func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func setUser(c *gin.Context, u *supabase.User) {
	c.Set(ContextUserKey, u)
	c.Set(ContextUserIDKey, u.ID)
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
