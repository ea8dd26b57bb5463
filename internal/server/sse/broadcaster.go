// Package sse provides Server-Sent Events broadcasting for pipeline
// run notifications.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds writes to a single client so a stale connection
// cannot stall a broadcast.
const WriteTimeout = 2 * time.Second

// Event is one broadcast message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Client represents a connected SSE client.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
}

// Broadcaster manages SSE client connections and event fan-out.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*Client)}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast fans an event out to every connected client. Writes run
// concurrently with a per-client timeout; clients that fail or stall
// are dropped.
func (b *Broadcaster) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal SSE event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", data)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	dead := make(chan string, len(clients))
	var wg sync.WaitGroup
	for _, c := range clients {
		select {
		case <-c.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			b.write(c, message, dead)
		}(c)
	}
	wg.Wait()
	close(dead)

	for id := range dead {
		b.remove(id)
	}
}

func (b *Broadcaster) write(c *Client, message string, dead chan<- string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.Writer.Write([]byte(message)); err != nil {
			dead <- c.ID
			return
		}
		c.Flusher.Flush()
	}()

	select {
	case <-done:
	case <-time.After(WriteTimeout):
		log.Warn().Str("client_id", c.ID).Msg("SSE write timed out, dropping client")
		dead <- c.ID
	case <-c.Done:
	}
}

// ServeHTTP handles an SSE subscription and blocks until the client
// disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b.mu.Lock()
	b.nextID++
	c := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[c.ID] = c
	total := len(b.clients)
	b.mu.Unlock()
	log.Debug().Str("client_id", c.ID).Int("total", total).Msg("SSE client connected")

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"client_id\":%q}\n\n", c.ID)
	flusher.Flush()

	<-r.Context().Done()
	b.remove(c.ID)
}

func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	total := len(b.clients)
	b.mu.Unlock()

	if ok {
		select {
		case <-c.Done:
		default:
			close(c.Done)
		}
		log.Debug().Str("client_id", id).Int("total", total).Msg("SSE client disconnected")
	}
}
