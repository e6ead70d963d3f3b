package pwm

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/hw/gpio"
)

// recordingDriver records GPIO writes for verification.
type recordingDriver struct {
	mu     sync.Mutex
	writes []gpio.Level
	setups int
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setups++
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, level)
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) snapshot() []gpio.Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpio.Level(nil), d.writes...)
}

// pwmDriver is a recordingDriver with hardware PWM.
type pwmDriver struct {
	recordingDriver
	err   error
	duty  float64
	freq  float64
	calls int
}

func (d *pwmDriver) SetPWM(pin int, dutyPct, freqHz float64) error {
	d.calls++
	d.duty, d.freq = dutyPct, freqHz
	return d.err
}

func TestNew_SelectsImplementation(t *testing.T) {
	t.Run("hardware", func(t *testing.T) {
		out, err := New(&pwmDriver{}, 18, clock.New())
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := out.(*Hardware); !ok {
			t.Errorf("New = %T, want *Hardware", out)
		}
	})
	t.Run("unsupported pin falls back", func(t *testing.T) {
		drv := &pwmDriver{err: gpio.ErrPWMUnsupported}
		out, err := New(drv, 7, clock.New())
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := out.(*Software); !ok {
			t.Errorf("New = %T, want *Software", out)
		}
		if drv.setups != 1 {
			t.Errorf("setups = %d, want 1", drv.setups)
		}
	})
	t.Run("plain driver", func(t *testing.T) {
		out, err := New(&recordingDriver{}, 7, clock.New())
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := out.(*Software); !ok {
			t.Errorf("New = %T, want *Software", out)
		}
	})
	t.Run("driver error", func(t *testing.T) {
		if _, err := New(&pwmDriver{err: errors.New("boom")}, 18, clock.New()); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestHardware_ClampsDuty(t *testing.T) {
	drv := &pwmDriver{}
	h := &Hardware{drv: drv, pin: 18}
	if err := h.Set(150, 40); err != nil {
		t.Fatal(err)
	}
	if drv.duty != 100 || drv.freq != 40 {
		t.Errorf("SetPWM(%v, %v), want (100, 40)", drv.duty, drv.freq)
	}
	if err := h.Stop(); err != nil {
		t.Fatal(err)
	}
	if drv.duty != 0 || drv.freq != 40 {
		t.Errorf("Stop sent (%v, %v), want (0, 40)", drv.duty, drv.freq)
	}
}

func TestSoftware_PulsesUntilStopped(t *testing.T) {
	drv := &recordingDriver{}
	s := NewSoftware(drv, 7, clock.New())

	if err := s.Set(50, 1000); err != nil {
		t.Fatal(err)
	}
	if !s.Running() {
		t.Fatal("expected pulse goroutine to run")
	}
	time.Sleep(20 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.Running() {
		t.Error("pulse goroutine still running after Stop")
	}

	writes := drv.snapshot()
	var highs, lows int
	for _, l := range writes {
		if l == gpio.High {
			highs++
		} else {
			lows++
		}
	}
	if highs < 2 || lows < 2 {
		t.Errorf("got %d high / %d low writes, want several of each", highs, lows)
	}
	if writes[len(writes)-1] != gpio.Low {
		t.Error("pin should be left low after Stop")
	}
}

func TestSoftware_StaticLevels(t *testing.T) {
	tests := []struct {
		name string
		duty float64
		want gpio.Level
	}{
		{"zero", 0, gpio.Low},
		{"negative", -5, gpio.Low},
		{"full", 100, gpio.High},
		{"over", 140, gpio.High},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := &recordingDriver{}
			s := NewSoftware(drv, 7, clock.New())
			if err := s.Set(tt.duty, 50); err != nil {
				t.Fatal(err)
			}
			if s.Running() {
				t.Error("static level should not start the pulse goroutine")
			}
			writes := drv.snapshot()
			if len(writes) != 1 || writes[0] != tt.want {
				t.Errorf("writes = %v, want [%v]", writes, tt.want)
			}
		})
	}
}

func TestSoftware_SetWhileRunningKeepsOneLoop(t *testing.T) {
	drv := &recordingDriver{}
	s := NewSoftware(drv, 7, clock.New())
	defer s.Stop()

	for _, duty := range []float64{20, 60, 80} {
		if err := s.Set(duty, 500); err != nil {
			t.Fatal(err)
		}
	}
	high, low := s.period()
	if high != 1600*time.Microsecond || low != 400*time.Microsecond {
		t.Errorf("period = %v/%v, want 1.6ms/400µs", high, low)
	}
}

func TestSoftware_StopInterruptsPeriod(t *testing.T) {
	drv := &recordingDriver{}
	mock := clock.NewMock()
	s := NewSoftware(drv, 7, mock)

	// 5 Hz is the slowest frequency the steering uses; the mock clock never
	// advances, so the goroutine sits inside its first high phase.
	if err := s.Set(50, 5); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the pulse period to elapse")
	}
	if s.Running() {
		t.Error("pulse goroutine still running after Stop")
	}
	writes := drv.snapshot()
	if writes[len(writes)-1] != gpio.Low {
		t.Error("pin should be left low after Stop")
	}
}

func TestSoftware_StopLatencyAtLowFrequency(t *testing.T) {
	drv := &recordingDriver{}
	s := NewSoftware(drv, 7, clock.New())

	if err := s.Set(50, 5); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("Stop took %v at 5 Hz, want it to return without finishing the 200ms period", elapsed)
	}
}
