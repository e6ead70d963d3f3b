package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/malina-robot/malina/internal/logic/motion"
	"github.com/malina-robot/malina/internal/robot"
	"github.com/malina-robot/malina/internal/teleop"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

// readUntil returns the first frame whose level is level.
func readUntil(t *testing.T, conn *websocket.Conn, level string) StatusEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q event: %v", level, err)
		}
		var evt StatusEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if evt.Level == level {
			return evt
		}
	}
}

func newWSServer(t *testing.T, r *fakeRobot) (*Handlers, *httptest.Server) {
	t.Helper()
	s, err := NewServer(":0", NewStatusBroadcaster(), r, teleop.NewDispatcher(r))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv := httptest.NewServer(s.Mux())
	t.Cleanup(srv.Close)
	return s.Handlers(), srv
}

func TestWS_CommandsAndSpeedBroadcast(t *testing.T) {
	r := newFakeRobot(true)
	_, srv := newWSServer(t, r)
	conn := dialWS(t, srv)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"event": "steering", "action": "forward"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"event": "speed", "action": "up"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	evt := readUntil(t, conn, LevelSpeed)
	data, _ := evt.Data.(map[string]interface{})
	if data["current_speed"] != float64(30) {
		t.Errorf("speed event data = %v, want current_speed 30", evt.Data)
	}
	if r.steering.LastAction().Kind != motion.ActionForward {
		t.Errorf("LastAction() = %v, want forward", r.steering.LastAction().Kind)
	}
}

func TestWS_ErrorsAreRepliedToSender(t *testing.T) {
	r := newFakeRobot(true)
	_, srv := newWSServer(t, r)
	conn := dialWS(t, srv)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if evt := readUntil(t, conn, "error"); evt.Msg != "invalid JSON" {
		t.Errorf("error msg = %q", evt.Msg)
	}

	if err := conn.WriteJSON(map[string]string{"event": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if evt := readUntil(t, conn, "error"); !strings.Contains(evt.Msg, "dance") {
		t.Errorf("error msg = %q", evt.Msg)
	}
}

func TestWS_TelemetryFollowsClients(t *testing.T) {
	r := newFakeRobot(true)
	h, srv := newWSServer(t, r)

	c1 := dialWS(t, srv)
	waitFor(t, "telemetry start", func() bool { s, _ := r.counts(); return s == 1 })
	c2 := dialWS(t, srv)
	waitFor(t, "second client", func() bool { return h.ws.count() == 2 })
	if s, _ := r.counts(); s != 1 {
		t.Errorf("telemetry started %d times, want 1", s)
	}

	if !r.emit(robot.Reading{Sensor: "distance", Value: 12.5}) {
		t.Fatal("telemetry callback not registered")
	}
	evt := readUntil(t, c2, LevelSensors)
	if evt.Msg != "distance" || evt.Data != 12.5 {
		t.Errorf("sensor event = %+v", evt)
	}

	c1.Close()
	waitFor(t, "first client to leave", func() bool { return h.ws.count() == 1 })
	if _, stops := r.counts(); stops != 0 {
		t.Errorf("telemetry stopped with a client still connected")
	}
	c2.Close()
	waitFor(t, "telemetry stop", func() bool { _, s := r.counts(); return s == 1 })
}

func TestWS_NoTelemetryWhileOff(t *testing.T) {
	r := newFakeRobot(false)
	h, srv := newWSServer(t, r)
	conn := dialWS(t, srv)
	defer conn.Close()

	waitFor(t, "client", func() bool { return h.ws.count() == 1 })
	if s, _ := r.counts(); s != 0 {
		t.Errorf("telemetry started %d times while the robot is off", s)
	}

	// Powering on with a client connected starts the stream.
	w := post(h.HandlePower, "/power", "")
	if w.Code != 200 {
		t.Fatalf("power: status %d", w.Code)
	}
	if s, _ := r.counts(); s != 1 {
		t.Errorf("telemetry started %d times after power on, want 1", s)
	}
}
