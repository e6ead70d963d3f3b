package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/malina-robot/malina/internal/robot"
	"github.com/malina-robot/malina/internal/teleop"
)

const (
	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 1 << 20
	// DefaultMoveCooldown is the minimum time between two measured moves.
	DefaultMoveCooldown = time.Second
)

// Robot is the part of *robot.Robot the handlers power and observe.
type Robot interface {
	Init() error
	Cleanup() error
	IsInitiated() bool
	StartTelemetry(fn func(robot.Reading)) error
	StopTelemetry()
}

// SteeringRequest is the body of POST /steering and of websocket steering events.
type SteeringRequest struct {
	Action string `json:"action"`
}

// SpeedRequest is the body of POST /speed and of websocket speed events.
type SpeedRequest struct {
	Action string `json:"action"` // "up", "down" or "set"
	Value  int    `json:"value,omitempty"`
}

// AccessoryResponse is returned by POST /light (brightness in percent) and
// POST /servo (angle in degrees).
type AccessoryResponse struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// StatusResponse is returned by GET /status and the command endpoints.
type StatusResponse struct {
	robot.Status
	Moving bool `json:"moving"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	Robot        Robot
	Dispatcher   *teleop.Dispatcher
	MoveCooldown time.Duration
	staticFS     fs.FS

	moveMu   sync.Mutex
	moving   bool
	lastMove time.Time

	ws wsClients
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, r Robot, d *teleop.Dispatcher, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		Robot:        r,
		Dispatcher:   d,
		MoveCooldown: DefaultMoveCooldown,
		staticFS:     staticFS,
	}
}

// ValidateSpeed checks a speed request before it reaches the steering.
func ValidateSpeed(req SpeedRequest) error {
	switch req.Action {
	case teleop.SpeedUp, teleop.SpeedDown:
		return nil
	case teleop.SpeedSet:
		if req.Value < 0 || req.Value > 100 {
			return fmt.Errorf("value must be between 0 and 100, got %d", req.Value)
		}
		return nil
	default:
		return fmt.Errorf("action must be %q, %q or %q, got %q", teleop.SpeedUp, teleop.SpeedDown, teleop.SpeedSet, req.Action)
	}
}

func (h *Handlers) status() StatusResponse {
	h.moveMu.Lock()
	moving := h.moving
	h.moveMu.Unlock()
	return StatusResponse{Status: h.Dispatcher.Status(), Moving: moving}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// commandError maps dispatcher errors to HTTP status codes.
func commandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, teleop.ErrUnknownAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, teleop.ErrNotInitiated):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, teleop.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, teleop.ErrNoDevice):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// HandlePower handles POST /power: it initiates a stopped robot and cleans up
// a running one. Powering off during a measured move is refused (409).
func (h *Handlers) HandlePower(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var err error
	if h.Robot.IsInitiated() {
		h.moveMu.Lock()
		moving := h.moving
		h.moveMu.Unlock()
		if moving {
			commandError(w, teleop.ErrBusy)
			return
		}
		err = h.Dispatcher.WhenIdle(h.Robot.Cleanup)
		if errors.Is(err, teleop.ErrBusy) {
			commandError(w, err)
			return
		}
	} else {
		err = h.Robot.Init()
		if err == nil && h.ws.count() > 0 {
			h.startTelemetry()
		}
	}
	if err != nil {
		log.Printf("power toggle failed: %v", err)
		http.Error(w, "power toggle failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	st := h.status()
	h.Broadcaster.Publish(LevelStatus, "power", st)
	writeJSON(w, http.StatusOK, st)
}

// HandleSteering handles POST /steering.
func (h *Handlers) HandleSteering(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SteeringRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Dispatcher.Steer(req.Action); err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// HandleSpeed handles POST /speed and broadcasts the new speed.
func (h *Handlers) HandleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SpeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := ValidateSpeed(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.speed(req); err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handlers) speed(req SpeedRequest) error {
	speed, err := h.Dispatcher.Speed(req.Action, req.Value)
	if err != nil {
		return err
	}
	h.Broadcaster.Publish(LevelSpeed, "speed changed", map[string]int{"current_speed": speed})
	return nil
}

// HandleLight handles POST /light. Fades answer once finished.
func (h *Handlers) HandleLight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd teleop.Accessory
	if !decodeBody(w, r, &cmd) {
		return
	}
	v, err := h.Dispatcher.Light(r.Context(), cmd)
	if err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccessoryResponse{Name: cmd.Name, Value: v})
}

// HandleServo handles POST /servo.
func (h *Handlers) HandleServo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd teleop.Accessory
	if !decodeBody(w, r, &cmd) {
		return
	}
	v, err := h.Dispatcher.Servo(cmd)
	if err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccessoryResponse{Name: cmd.Name, Value: v})
}

// HandleMove handles POST /move: the measured move runs in a goroutine.
// A second move is refused while one runs (409) and within the cooldown
// after the previous one started (429).
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var move teleop.Move
	if !decodeBody(w, r, &move) {
		return
	}
	if err := move.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.Robot.IsInitiated() {
		commandError(w, teleop.ErrNotInitiated)
		return
	}

	h.moveMu.Lock()
	if h.moving {
		h.moveMu.Unlock()
		http.Error(w, "move already in progress", http.StatusConflict)
		return
	}
	if !h.lastMove.IsZero() && time.Since(h.lastMove) < h.MoveCooldown {
		h.moveMu.Unlock()
		http.Error(w, "too many moves, wait before retrying", http.StatusTooManyRequests)
		return
	}
	h.moving = true
	h.lastMove = time.Now()
	h.moveMu.Unlock()

	go func() {
		defer func() {
			h.moveMu.Lock()
			h.moving = false
			h.moveMu.Unlock()
		}()

		if err := h.Dispatcher.Measured(context.Background(), move); err != nil {
			h.Broadcaster.Broadcast("error", "Move failed: "+err.Error())
			log.Printf("move failed: %v", err)
			return
		}
		h.Broadcaster.Broadcast("info", fmt.Sprintf("Move %s %g complete", move.Kind, move.Value))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
