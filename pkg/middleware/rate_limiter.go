package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"MegaBrain/pkg/logger"
)

const (
	defaultRate = "300-M"

	limitedMessage = "요청이 너무 많습니다. 잠시 후 다시 시도해주세요."
)

// RateLimiterConfig
//
// Rate uses the ulule format, e.g. "100-M". RouteRates overrides it per gin
// route template and counts against its own budget. Exempt holds route
// prefixes that are never counted.
// Identifier is "user" (signed in user, falling back to ip) or "ip".
type RateLimiterConfig struct {
	Rate       string
	RouteRates map[string]string
	Identifier string
	Exempt     []string
	AddHeaders bool
}

// MetricsObserver receives one call per decision. *metrics.Metrics satisfies it.
type MetricsObserver interface {
	RecordRateLimit(limited bool)
}

// NewRedisStore shares counters across instances through redis.
func NewRedisStore(client *redis.Client, prefix string) (limiter.Store, error) {
	return sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   prefix + "limiter",
		MaxRetry: 3,
	})
}

// RateLimiter keeps one limiter per distinct rate string.
type RateLimiter struct {
	cfg      RateLimiterConfig
	store    limiter.Store
	observer MetricsObserver

	mu     sync.Mutex
	byRate map[string]*limiter.Limiter
}

// NewRateLimiter uses an in memory store when store is nil.
func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	if cfg.Rate == "" {
		cfg.Rate = defaultRate
	}
	return &RateLimiter{
		cfg:    cfg,
		store:  store,
		byRate: make(map[string]*limiter.Limiter),
	}
}

func (l *RateLimiter) WithObserver(observer MetricsObserver) *RateLimiter {
	l.observer = observer
	return l
}

// Middleware must run after Authenticate when Identifier is "user".
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if l.exempt(route) {
			c.Next()
			return
		}

		lim := l.limiterFor(l.rateFor(route))
		lctx, err := lim.Get(c, l.key(c, route))
		if err != nil {
			// fail open
			logger.Warn("rate limiter store error", zap.Error(err))
			c.Next()
			return
		}
		if l.cfg.AddHeaders {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		}
		if lctx.Reached {
			c.Header("Retry-After", strconv.Itoa(secondsUntil(lctx.Reset)))
			l.report(true)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": limitedMessage})
			return
		}
		l.report(false)
		c.Next()
	}
}

func (l *RateLimiter) exempt(route string) bool {
	for _, p := range l.cfg.Exempt {
		if p != "" && strings.HasPrefix(route, p) {
			return true
		}
	}
	return false
}

func (l *RateLimiter) rateFor(route string) string {
	if r := l.cfg.RouteRates[route]; r != "" {
		return r
	}
	return l.cfg.Rate
}

// key scopes route specific budgets to their route so a burst of route
// searches does not eat into the general budget.
func (l *RateLimiter) key(c *gin.Context, route string) string {
	id := "ip:" + strings.TrimPrefix(c.ClientIP(), "::ffff:")
	if l.cfg.Identifier == "user" {
		if user := CurrentUserID(c); user != "" {
			id = "user:" + user
		}
	}
	if _, ok := l.cfg.RouteRates[route]; ok {
		return id + ":" + route
	}
	return id
}

func (l *RateLimiter) limiterFor(rate string) *limiter.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.byRate[rate]; ok {
		return lim
	}
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		logger.Warn("bad rate limit, using default", zap.String("rate", rate), zap.Error(err))
		r, _ = limiter.NewRateFromFormatted(defaultRate)
	}
	lim := limiter.New(l.store, r)
	l.byRate[rate] = lim
	return lim
}

func (l *RateLimiter) report(limited bool) {
	if l.observer != nil {
		l.observer.RecordRateLimit(limited)
	}
}

func secondsUntil(unix int64) int {
	sec := int(time.Until(time.Unix(unix, 0)).Seconds())
	if sec < 0 {
		return 0
	}
	return sec
}
