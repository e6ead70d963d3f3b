package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/robot"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReplyBuffer  = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEvent is an inbound websocket message.
type wsEvent struct {
	Event  string `json:"event"` // "steering" or "speed"
	Action string `json:"action"`
	Value  int    `json:"value,omitempty"`
}

// wsClients counts websocket clients. Sensor telemetry runs while it is > 0.
type wsClients struct {
	mu sync.Mutex // serializes telemetry start/stop with the count
	n  atomic.Int32
}

func (c *wsClients) count() int32 {
	return c.n.Load()
}

func (h *Handlers) clientJoined() {
	h.ws.mu.Lock()
	defer h.ws.mu.Unlock()
	if h.ws.n.Inc() == 1 && h.Robot.IsInitiated() {
		h.startTelemetry()
	}
	debug.Live("Web: websocket client connected (%d)", h.ws.count())
}

func (h *Handlers) clientLeft() {
	h.ws.mu.Lock()
	defer h.ws.mu.Unlock()
	if h.ws.n.Dec() <= 0 {
		h.ws.n.Store(0)
		h.Robot.StopTelemetry()
	}
	debug.Live("Web: websocket client disconnected (%d)", h.ws.count())
}

func (h *Handlers) startTelemetry() {
	err := h.Robot.StartTelemetry(func(rd robot.Reading) {
		h.Broadcaster.Publish(LevelSensors, rd.Sensor, rd.Value)
	})
	if err != nil {
		log.Printf("sensor telemetry: %v", err)
	}
}

// HandleWS handles GET /ws. Broadcast events are pushed as JSON text frames;
// inbound steering and speed events drive the robot.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	events, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	h.clientJoined()
	defer h.clientLeft()

	replies := make(chan []byte, wsReplyBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg []byte
			select {
			case s, ok := <-events:
				if !ok {
					return
				}
				msg = []byte(s)
			case b, ok := <-replies:
				if !ok {
					return
				}
				msg = b
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	for {
		var evt wsEvent
		if err := conn.ReadJSON(&evt); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(replies, "error", "invalid JSON")
				continue
			}
			break
		}
		if err := h.handleEvent(evt); err != nil {
			h.reply(replies, "error", err.Error())
		}
	}
	close(replies)
	unsub()
	<-writerDone
}

func (h *Handlers) handleEvent(evt wsEvent) error {
	switch evt.Event {
	case "steering":
		return h.Dispatcher.Steer(evt.Action)
	case "speed":
		req := SpeedRequest{Action: evt.Action, Value: evt.Value}
		if err := ValidateSpeed(req); err != nil {
			return err
		}
		return h.speed(req)
	default:
		return fmt.Errorf("unknown event %q", evt.Event)
	}
}

// reply queues a message for this client only. It is dropped when the
// client does not keep up.
func (h *Handlers) reply(replies chan<- []byte, level, msg string) {
	data, err := json.Marshal(StatusEvent{Time: time.Now().Format(time.RFC3339), Level: level, Msg: msg})
	if err != nil {
		return
	}
	select {
	case replies <- data:
	default:
	}
}
