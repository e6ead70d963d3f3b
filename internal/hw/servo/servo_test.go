package servo

import (
	"math"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/hw/gpio"
)

// pwmDriver records hardware PWM calls.
type pwmDriver struct {
	mu   sync.Mutex
	duty []float64
	freq float64
}

func (d *pwmDriver) SetupPin(pin int, mode gpio.PinMode) error { return nil }
func (d *pwmDriver) WritePin(pin int, level gpio.Level) error  { return nil }
func (d *pwmDriver) ReadPin(pin int) (gpio.Level, error)       { return gpio.Low, nil }
func (d *pwmDriver) Close() error                              { return nil }

func (d *pwmDriver) SetPWM(pin int, dutyPct, freqHz float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.duty = append(d.duty, dutyPct)
	d.freq = freqHz
	return nil
}

func (d *pwmDriver) last() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duty[len(d.duty)-1]
}

func newTestServo(drv gpio.Driver) *Servo {
	return New(drv, Config{Name: "pan", Pin: 24, MinSteps: 50, MaxSteps: 250, MaxAngle: 180}, clock.NewMock())
}

func TestServo_Steps(t *testing.T) {
	s := newTestServo(&pwmDriver{})
	tests := []struct {
		angle float64
		want  int
	}{
		{0, 50},
		{90, 150},
		{180, 250},
		{45, 100},
		{-20, 50},
		{400, 250},
	}
	for _, tt := range tests {
		if got := s.Steps(tt.angle); got != tt.want {
			t.Errorf("Steps(%v) = %d, want %d", tt.angle, got, tt.want)
		}
	}
}

func TestServo_SetAngleDrivesPulseWidth(t *testing.T) {
	drv := &pwmDriver{}
	s := newTestServo(drv)

	if got := s.SetAngle(90); got != 0 {
		t.Errorf("SetAngle before Init = %v, want 0 (ignored)", got)
	}
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	if got := s.SetAngle(90); got != 90 {
		t.Errorf("SetAngle(90) = %v", got)
	}
	// 150 steps of 10µs in a 20ms frame.
	if math.Abs(drv.last()-7.5) > 1e-9 || drv.freq != Frequency {
		t.Errorf("pulse = %v%% at %v Hz, want 7.5%% at 50 Hz", drv.last(), drv.freq)
	}
}

func TestServo_IncreaseDecreaseClamp(t *testing.T) {
	s := newTestServo(&pwmDriver{})
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	steps := []struct {
		name string
		fn   func() float64
		want float64
	}{
		{"up", func() float64 { return s.IncreaseAngle(DefaultIncrement) }, 10},
		{"down", func() float64 { return s.DecreaseAngle(DefaultIncrement) }, 0},
		{"below_zero", func() float64 { return s.DecreaseAngle(DefaultIncrement) }, 0},
		{"to_max", func() float64 { return s.SetAngle(175) }, 175},
		{"past_max", func() float64 { return s.IncreaseAngle(DefaultIncrement) }, 180},
	}
	for _, st := range steps {
		if got := st.fn(); got != st.want {
			t.Errorf("%s: angle = %v, want %v", st.name, got, st.want)
		}
	}
	if s.Angle() != 180 {
		t.Errorf("Angle() = %v, want 180", s.Angle())
	}
}

func TestServo_Cleanup(t *testing.T) {
	drv := &pwmDriver{}
	s := newTestServo(drv)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	s.SetAngle(30)
	if err := s.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if drv.last() != 0 {
		t.Errorf("duty after Cleanup = %v, want 0", drv.last())
	}
	if got := s.SetAngle(60); got != 30 {
		t.Errorf("SetAngle after Cleanup = %v, want the last angle 30", got)
	}
}
