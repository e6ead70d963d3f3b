// Package pwm provides duty-cycle outputs on top of a gpio.Driver,
// in hardware when the driver supports it and by bit-banging otherwise.
package pwm

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
	"go.uber.org/atomic"
)

// Output is one PWM capable pin. dutyPct is 0-100.
type Output interface {
	Set(dutyPct, freqHz float64) error
	Stop() error
}

// New returns a hardware output when the driver can do PWM on pin,
// otherwise a software output toggling the pin from a goroutine.
func New(drv gpio.Driver, pin int, clk clock.Clock) (Output, error) {
	if pd, ok := drv.(gpio.PWMDriver); ok {
		err := pd.SetPWM(pin, 0, 100)
		if err == nil {
			debug.Verbose("PWM: pin %d uses hardware PWM", pin)
			return &Hardware{drv: pd, pin: pin}, nil
		}
		if !errors.Is(err, gpio.ErrPWMUnsupported) {
			return nil, err
		}
	}
	if err := drv.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	debug.Verbose("PWM: pin %d uses software PWM", pin)
	return NewSoftware(drv, pin, clk), nil
}

// Hardware delegates to a driver's PWM support.
type Hardware struct {
	drv  gpio.PWMDriver
	pin  int
	freq float64
}

func (h *Hardware) Set(dutyPct, freqHz float64) error {
	h.freq = freqHz
	return h.drv.SetPWM(h.pin, clampDuty(dutyPct), freqHz)
}

func (h *Hardware) Stop() error {
	freq := h.freq
	if freq <= 0 {
		freq = 100
	}
	return h.drv.SetPWM(h.pin, 0, freq)
}

// Software generates PWM by writing the pin high then low once per period.
type Software struct {
	drv gpio.Driver
	pin int
	clk clock.Clock

	mu     sync.Mutex
	duty   float64
	freq   float64
	quit   chan struct{}
	exited chan struct{}

	running *atomic.Bool
}

// NewSoftware creates an idle software output. clk drives the pulse timing.
func NewSoftware(drv gpio.Driver, pin int, clk clock.Clock) *Software {
	if clk == nil {
		clk = clock.New()
	}
	return &Software{drv: drv, pin: pin, clk: clk, running: atomic.NewBool(false)}
}

// Set changes duty and frequency. 0% and 100% are written as static levels.
func (s *Software) Set(dutyPct, freqHz float64) error {
	dutyPct = clampDuty(dutyPct)
	if dutyPct == 0 || freqHz <= 0 {
		return s.Stop()
	}
	if dutyPct == 100 {
		s.halt()
		return s.drv.WritePin(s.pin, gpio.High)
	}

	s.mu.Lock()
	s.duty = dutyPct
	s.freq = freqHz
	start := s.quit == nil
	if start {
		s.quit = make(chan struct{})
		s.exited = make(chan struct{})
		s.running.Store(true)
		go s.loop(s.quit, s.exited)
	}
	s.mu.Unlock()
	return nil
}

// Stop halts the pulse goroutine and leaves the pin low.
func (s *Software) Stop() error {
	s.halt()
	return s.drv.WritePin(s.pin, gpio.Low)
}

// Running reports whether the pulse goroutine is active.
func (s *Software) Running() bool {
	return s.running.Load()
}

func (s *Software) halt() {
	s.mu.Lock()
	quit, exited := s.quit, s.exited
	s.quit, s.exited = nil, nil
	s.mu.Unlock()
	if quit != nil {
		close(quit)
		<-exited
		s.running.Store(false)
	}
}

func (s *Software) period() (high, low time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := time.Duration(float64(time.Second) / s.freq)
	high = time.Duration(float64(p) * s.duty / 100)
	return high, p - high
}

func (s *Software) loop(quit, exited chan struct{}) {
	defer close(exited)
	for {
		select {
		case <-quit:
			return
		default:
		}
		high, low := s.period()
		if err := s.pulse(quit, high, low); err != nil {
			if !errors.Is(err, errHalted) {
				debug.Error(err)
			}
			return
		}
	}
}

// errHalted ends a pulse cut short by halt.
var errHalted = errors.New("pwm halted")

// pulse writes one period. Both waits return as soon as quit is closed.
func (s *Software) pulse(quit <-chan struct{}, high, low time.Duration) error {
	if err := s.drv.WritePin(s.pin, gpio.High); err != nil {
		return err
	}
	if !s.wait(quit, high) {
		return errHalted
	}
	if err := s.drv.WritePin(s.pin, gpio.Low); err != nil {
		return err
	}
	if !s.wait(quit, low) {
		return errHalted
	}
	return nil
}

func (s *Software) wait(quit <-chan struct{}, d time.Duration) bool {
	timer := s.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-quit:
		return false
	case <-timer.C:
		return true
	}
}

func clampDuty(d float64) float64 {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}
