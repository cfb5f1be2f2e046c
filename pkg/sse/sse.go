package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

type Client struct {
	id     string
	groups map[string]bool
	ch     chan string
	done   chan struct{}
}

// Hub fans events out to connected clients. A client belongs to any number of
// groups; the service uses one group per user ("user:<id>") so every open tab
// of that user receives the event.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	groups   map[string]map[string]bool
	interval time.Duration
	retryMs  int
	seq      atomic.Uint64
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{clients: make(map[string]*Client), groups: make(map[string]map[string]bool), interval: interval, retryMs: 5000}
}

// Events is the buffered stream of formatted messages for the client.
func (c *Client) Events() <-chan string { return c.ch }

// UserGroup is the group every stream of userID joins.
func UserGroup(userID string) string { return "user:" + userID }

func (h *Hub) AddClient(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{id: id, groups: make(map[string]bool), ch: make(chan string, 64), done: make(chan struct{})}
	h.clients[id] = c
	return c
}

func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	close(c.done)
	for g := range c.groups {
		delete(h.groups[g], id)
		if len(h.groups[g]) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.clients, id)
}

func (h *Hub) Join(id, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.groups[group] = true
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]bool)
	}
	h.groups[group][id] = true
}

func (h *Hub) Leave(id, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(c.groups, group)
	}
	if h.groups[group] != nil {
		delete(h.groups[group], id)
	}
}

// GroupSize reports how many clients are in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Publish sends a named event with a JSON payload to every client in group.
// Slow clients whose buffer is full miss the event.
func (h *Hub) Publish(group, event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := h.format(event, string(b))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.groups[group] {
		if c := h.clients[id]; c != nil {
			select {
			case c.ch <- msg:
			default:
			}
		}
	}
	return nil
}

func (h *Hub) PublishToUser(userID, event string, v any) error {
	return h.Publish(UserGroup(userID), event, v)
}

func (h *Hub) format(event, data string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", h.seq.Add(1))
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}

// Serve streams to the request until the client disconnects.
func (h *Hub) Serve(c *gin.Context, clientID string, groups ...string) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	client := h.AddClient(clientID)
	defer h.RemoveClient(clientID)
	for _, g := range groups {
		h.Join(clientID, g)
	}

	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)
	flusher.Flush()

	ping := time.NewTicker(h.interval)
	defer ping.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-client.ch:
			_, _ = c.Writer.Write([]byte(msg))
			flusher.Flush()
		}
	}
}
