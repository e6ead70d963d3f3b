// Package servo drives the pan/tilt hobby servos with 50 Hz pulses whose
// width is counted in 10µs steps.
package servo

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
	"github.com/malina-robot/malina/internal/hw/pwm"
)

const (
	// Frequency is the servo frame rate in Hz.
	Frequency = 50
	// StepWidth is the pulse width of one step.
	StepWidth = 10 * time.Microsecond
	// DefaultIncrement is the angle change of IncreaseAngle/DecreaseAngle.
	DefaultIncrement = 10
)

// Config holds the pin and pulse range of one servo.
type Config struct {
	Name     string
	Pin      int
	MinSteps int     // pulse width at 0°
	MaxSteps int     // pulse width at MaxAngle
	MaxAngle float64 // degrees
}

// Servo positions one servo. Every command is a no-op until Init succeeds
// and after Cleanup.
type Servo struct {
	gpio gpio.Driver
	clk  clock.Clock
	cfg  Config

	mu          sync.Mutex
	out         pwm.Output
	angle       float64
	initialized bool
}

// New creates an uninitialized servo. clk times software PWM.
func New(g gpio.Driver, cfg Config, clk clock.Clock) *Servo {
	if clk == nil {
		clk = clock.New()
	}
	return &Servo{gpio: g, clk: clk, cfg: cfg}
}

// Init claims the pin. The servo is not driven until the first SetAngle.
func (s *Servo) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	out, err := pwm.New(s.gpio, s.cfg.Pin, s.clk)
	if err != nil {
		return fmt.Errorf("servo %s pin %d: %w", s.cfg.Name, s.cfg.Pin, err)
	}
	s.out = out
	s.initialized = true
	return nil
}

// Cleanup stops the pulses and releases the servo.
func (s *Servo) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	err := s.out.Stop()
	s.initialized = false
	s.out = nil
	return err
}

// Steps converts an angle, clamped to [0, MaxAngle], into a pulse width.
func (s *Servo) Steps(angle float64) int {
	angle = s.clamp(angle)
	return s.cfg.MinSteps + int(angle*float64(s.cfg.MaxSteps-s.cfg.MinSteps)/s.cfg.MaxAngle)
}

func (s *Servo) clamp(angle float64) float64 {
	if angle < 0 {
		return 0
	}
	if angle > s.cfg.MaxAngle {
		return s.cfg.MaxAngle
	}
	return angle
}

// SetAngle moves the servo and returns the angle actually applied.
func (s *Servo) SetAngle(angle float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(angle)
}

// IncreaseAngle turns by delta degrees and returns the new angle.
func (s *Servo) IncreaseAngle(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(s.angle + delta)
}

// DecreaseAngle turns back by delta degrees and returns the new angle.
func (s *Servo) DecreaseAngle(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(s.angle - delta)
}

func (s *Servo) setLocked(angle float64) float64 {
	if !s.initialized {
		return s.angle
	}
	s.angle = s.clamp(angle)
	steps := s.Steps(s.angle)
	duty := float64(time.Duration(steps)*StepWidth) / float64(time.Second/Frequency) * 100
	debug.Trace("Servo %s: %.0f° = %d steps (%.2f%%)", s.cfg.Name, s.angle, steps, duty)
	if err := s.out.Set(duty, Frequency); err != nil {
		debug.Error(fmt.Errorf("servo %s: %w", s.cfg.Name, err))
	}
	return s.angle
}

// Angle returns the last angle applied.
func (s *Servo) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// Name returns the servo name used in logs and commands.
func (s *Servo) Name() string {
	return s.cfg.Name
}
