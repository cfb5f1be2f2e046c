package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFormatsNamedEvent(t *testing.T) {
	h := NewHub(time.Minute)
	c := h.AddClient("c1")
	h.Join("c1", UserGroup("u1"))
	require.Equal(t, 1, h.GroupSize("user:u1"))

	require.NoError(t, h.PublishToUser("u1", "sos.started", map[string]string{"id": "x"}))
	msg := <-c.ch
	assert.Contains(t, msg, "event: sos.started\n")
	assert.Contains(t, msg, `data: {"id":"x"}`)
	assert.True(t, strings.HasSuffix(msg, "\n\n"))

	// other users see nothing
	require.NoError(t, h.PublishToUser("u2", "sos.started", nil))
	select {
	case <-c.ch:
		t.Fatal("unexpected event")
	default:
	}

	h.RemoveClient("c1")
	assert.Equal(t, 0, h.GroupSize("user:u1"))
}

func TestServeStreamsUntilCanceled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(time.Minute)
	r := gin.New()
	r.GET("/events", func(c *gin.Context) { h.Serve(c, "client", UserGroup("u1")) })

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.GroupSize("user:u1") == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.PublishToUser("u1", "guardian.requested", map[string]string{"id": "g1"}))
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "retry: 5000")
	assert.Contains(t, w.Body.String(), "event: guardian.requested")
}
