package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Event levels used besides the debug log lines ("info", "error").
const (
	LevelSpeed   = "speed"
	LevelSensors = "sensors"
	LevelStatus  = "status"
)

// subscriberBuffer is the per-client backlog before messages are dropped.
const subscriberBuffer = 64

// StatusEvent is one message for the SSE and websocket clients.
type StatusEvent struct {
	Time  string      `json:"t"`
	Level string      `json:"l,omitempty"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data,omitempty"`
}

// StatusBroadcaster fans events out to every SSE and websocket client.
type StatusBroadcaster struct {
	clk clock.Clock

	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a broadcaster stamping events with the wall clock.
func NewStatusBroadcaster() *StatusBroadcaster {
	return NewStatusBroadcasterWithClock(clock.New())
}

// NewStatusBroadcasterWithClock creates a broadcaster stamping events with clk.
func NewStatusBroadcasterWithClock(clk clock.Clock) *StatusBroadcaster {
	return &StatusBroadcaster{
		clk:     clk,
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of JSON encoded events and its cleanup function.
// The caller must call cleanup when the client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of connected clients.
func (b *StatusBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a text event: {"t":"...","l":"info","msg":"..."}.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(level, msg, nil)
}

// Publish sends an event carrying a JSON payload. Slow clients miss events
// instead of blocking the sender.
func (b *StatusBroadcaster) Publish(level, msg string, data interface{}) {
	evt := StatusEvent{
		Time:  b.clk.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
		Data:  data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- string(payload):
		default:
		}
	}
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastWriter returns an io.Writer broadcasting every written log line.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.b.BroadcastMsg(line)
		}
	}
	return len(p), nil
}
