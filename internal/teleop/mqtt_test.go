package teleop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/malina-robot/malina/internal/config"
	"github.com/malina-robot/malina/internal/logic/motion"
	"github.com/malina-robot/malina/internal/robot"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// doneToken is an already completed mqtt.Token.
type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	retained bool
	status   robot.Status
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var st robot.Status
	_ = json.Unmarshal(payload.([]byte), &st)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, status: st})
	return doneToken{}
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func newTestBridge(r *fakeRobot) *MQTTBridge {
	return NewMQTTBridge(config.MQTTConfig{Broker: "localhost", Port: 1883, ClientID: "test", TopicPrefix: "malina/"}, NewDispatcher(r))
}

func TestMQTTBridge_Topics(t *testing.T) {
	b := newTestBridge(newFakeRobot(true))
	if got := b.topic(TopicSteering); got != "malina/steering" {
		t.Errorf("topic = %q, want malina/steering", got)
	}
}

func TestMQTTBridge_SteeringAndSpeed(t *testing.T) {
	r := newFakeRobot(true)
	b := newTestBridge(r)
	pub := &fakePublisher{}

	b.handleMessage(pub, &fakeMessage{topic: "malina/steering", payload: []byte(`{"action":"spin_left"}`)})
	if r.steering.LastAction().Kind != motion.ActionSpinLeft {
		t.Errorf("LastAction() = %v, want spin_left", r.steering.LastAction().Kind)
	}
	b.handleMessage(pub, &fakeMessage{topic: "malina/speed", payload: []byte(`{"action":"set","value":65}`)})
	b.handleMessage(pub, &fakeMessage{topic: "malina/speed", payload: []byte(`{"action":"up"}`)})

	msgs := pub.all()
	if len(msgs) != 3 {
		t.Fatalf("published %d status messages, want 3", len(msgs))
	}
	last := msgs[2]
	if last.topic != "malina/status" || !last.retained {
		t.Errorf("status published on %q retained=%v", last.topic, last.retained)
	}
	if last.status != (robot.Status{Initiated: true, CurrentSpeed: 75}) {
		t.Errorf("status = %+v, want initiated at 75", last.status)
	}
}

func TestMQTTBridge_InvalidPayloadsStillReportStatus(t *testing.T) {
	r := newFakeRobot(true)
	b := newTestBridge(r)
	pub := &fakePublisher{}

	b.handleMessage(pub, &fakeMessage{topic: "malina/steering", payload: []byte(`not json`)})
	b.handleMessage(pub, &fakeMessage{topic: "malina/steering", payload: []byte(`{"action":"fly"}`)})
	b.handleMessage(pub, &fakeMessage{topic: "malina/move", payload: []byte(`{"kind":"forward","value":-1}`)})
	b.handleMessage(pub, &fakeMessage{topic: "malina/other", payload: []byte(`{}`)})

	if n := len(pub.all()); n != 4 {
		t.Errorf("published %d status messages, want 4", n)
	}
	if r.steering.LastAction().Kind != motion.ActionStop {
		t.Errorf("invalid commands moved the robot: %v", r.steering.LastAction().Kind)
	}
	if len(r.stepper.all()) != 0 {
		t.Errorf("invalid move reached the stepper: %v", r.stepper.all())
	}
}

func TestMQTTBridge_MoveRunsInBackground(t *testing.T) {
	r := newFakeRobot(true)
	r.stepper.gate = make(chan struct{})
	b := newTestBridge(r)
	pub := &fakePublisher{}

	b.handleMessage(pub, &fakeMessage{topic: "malina/move", payload: []byte(`{"kind":"spin_right","value":90}`)})
	// The handler returned while the move is blocked.
	b.handleMessage(pub, &fakeMessage{topic: "malina/steering", payload: []byte(`{"action":"stop"}`)})
	close(r.stepper.gate)

	deadline := time.Now().Add(time.Second)
	for len(pub.all()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("move completion was never reported")
		}
		time.Sleep(time.Millisecond)
	}
	if got := r.stepper.all(); len(got) != 1 || got[0] != "SpinRight(7)" {
		t.Errorf("stepper calls = %v, want [SpinRight(7)]", got)
	}
}

func TestMQTTBridge_SteeringRefusedDuringMove(t *testing.T) {
	r := newFakeRobot(true)
	r.stepper.gate = make(chan struct{})
	b := newTestBridge(r)
	pub := &fakePublisher{}

	b.handleMessage(pub, &fakeMessage{topic: "malina/move", payload: []byte(`{"kind":"forward","value":10}`)})
	deadline := time.Now().Add(time.Second)
	for !b.disp.Moving() {
		if time.Now().After(deadline) {
			t.Fatal("move never started")
		}
		time.Sleep(time.Millisecond)
	}

	b.handleMessage(pub, &fakeMessage{topic: "malina/steering", payload: []byte(`{"action":"forward"}`)})
	if got := r.steering.LastAction().Kind; got != motion.ActionStop {
		t.Errorf("steering accepted during a move: %v", got)
	}
	if n := len(pub.all()); n != 1 {
		t.Errorf("published %d status messages, want 1 for the refused command", n)
	}
	close(r.stepper.gate)
}

func TestMQTTBridge_LightAndServo(t *testing.T) {
	r := withAccessories(t, newFakeRobot(true))
	b := newTestBridge(r)
	pub := &fakePublisher{}

	b.handleMessage(pub, &fakeMessage{topic: "malina/light", payload: []byte(`{"name":"front","action":"set","value":60}`)})
	b.handleMessage(pub, &fakeMessage{topic: "malina/servo", payload: []byte(`{"name":"pan","action":"set","value":45}`)})
	b.handleMessage(pub, &fakeMessage{topic: "malina/servo", payload: []byte(`{"name":"tilt","action":"up"}`)})

	if got := r.lights["front"].Intensity(); got != 60 {
		t.Errorf("front LED = %v, want 60", got)
	}
	if got := r.servos["pan"].Angle(); got != 45 {
		t.Errorf("pan angle = %v, want 45", got)
	}
	if n := len(pub.all()); n != 3 {
		t.Errorf("published %d status messages, want 3", n)
	}
}

func TestMQTTBridge_FadeRunsInBackground(t *testing.T) {
	r := withAccessories(t, newFakeRobot(true))
	b := newTestBridge(r)
	ctx, cancel := context.WithCancel(context.Background())
	b.ctx = ctx
	pub := &fakePublisher{}

	// The LED runs on a mock clock: the fade waits until cancelled.
	b.handleMessage(pub, &fakeMessage{topic: "malina/light", payload: []byte(`{"name":"front","action":"dim"}`)})
	if n := len(pub.all()); n != 0 {
		t.Errorf("published %d status messages before the fade ended, want 0", n)
	}
	deadline := time.Now().Add(time.Second)
	for r.lights["front"].Intensity() != 100 {
		if time.Now().After(deadline) {
			t.Fatal("fade did not start")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
}
