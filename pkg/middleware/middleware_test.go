package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MegaBrain/pkg/cache"
	"MegaBrain/pkg/supabase"
)

type fakeVerifier struct {
	calls atomic.Int32
	users map[string]*supabase.User
}

func (f *fakeVerifier) GetUser(_ context.Context, token string) (*supabase.User, error) {
	f.calls.Add(1)
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return nil, supabase.ErrUnauthorized
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthEngine(v TokenVerifier, c cache.Cache) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(v, AuthOptions{Cache: c, CacheTTL: time.Minute}))
	r.GET("/open", func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUserID(c))
	})
	r.GET("/closed", RequireUser("인증에 실패했습니다."), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).Email)
	})
	return r
}

func doGet(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

func TestAuthenticate(t *testing.T) {
	v := &fakeVerifier{users: map[string]*supabase.User{"good": {ID: "u1", Email: "a@test.kr"}}}
	r := newAuthEngine(v, cache.NewLocalCache(cache.LocalConfig{}))

	w := doGet(r, "/open", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", w.Body.String())

	w = doGet(r, "/closed", "bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"인증에 실패했습니다."}`, w.Body.String())

	w = doGet(r, "/closed", "good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@test.kr", w.Body.String())

	calls := v.calls.Load()
	w = doGet(r, "/open", "good")
	assert.Equal(t, "u1", w.Body.String())
	assert.Equal(t, calls, v.calls.Load(), "second lookup should hit the cache")
}

func TestRequireUserDefaultMessage(t *testing.T) {
	r := gin.New()
	r.GET("/x", RequireUser(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := doGet(r, "/x", "")
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
}

type countingObserver struct{ allowed, limited int }

func (o *countingObserver) RecordRateLimit(limited bool) {
	if limited {
		o.limited++
	} else {
		o.allowed++
	}
}

func TestRateLimiter(t *testing.T) {
	obs := &countingObserver{}
	rl := NewRateLimiter(RateLimiterConfig{Rate: "2-M", Identifier: "ip", AddHeaders: true, Exempt: []string{"/health"}}, nil).
		WithObserver(obs)

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doGet(r, "/x", "").Code)
	assert.Equal(t, http.StatusOK, doGet(r, "/x", "").Code)
	w := doGet(r, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, doGet(r, "/health", "").Code)
	assert.Equal(t, 2, obs.allowed)
	assert.Equal(t, 1, obs.limited)
}

func TestRateLimiterPerUser(t *testing.T) {
	v := &fakeVerifier{users: map[string]*supabase.User{
		"a": {ID: "ua"},
		"b": {ID: "ub"},
	}}
	rl := NewRateLimiter(RateLimiterConfig{Rate: "1-M", Identifier: "user"}, nil)
	r := gin.New()
	r.Use(Authenticate(v, AuthOptions{}), rl.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doGet(r, "/x", "a").Code)
	assert.Equal(t, http.StatusOK, doGet(r, "/x", "b").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "/x", "a").Code)
}

func TestRateLimiterRouteBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:       "3-M",
		RouteRates: map[string]string{"/route": "1-M"},
		Identifier: "ip",
		Exempt:     []string{"/sos"},
	}, nil)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/route", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/map", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/sos", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doGet(r, "/route", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "/route", "").Code)
	// the route budget is separate from the general one
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doGet(r, "/map", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, doGet(r, "/map", "").Code)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doGet(r, "/sos", "").Code)
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://app.test"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://app.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://app.test", w.Header().Get("Access-Control-Allow-Origin"))
}
