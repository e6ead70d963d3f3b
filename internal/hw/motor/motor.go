package motor

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
	"github.com/malina-robot/malina/internal/hw/pwm"
)

// Config holds the hardware configuration for one wheel motor.
type Config struct {
	Name       string
	ForwardPin int
	ReversePin int
	Correction float64 // calibration percentage (0-100). 7.3 = run 7.3% slower.
}

// Motor drives one wheel through two PWM pins of an H-bridge.
// Every command is a no-op until Init succeeds and after Cleanup.
type Motor struct {
	gpio   gpio.Driver
	clk    clock.Clock
	cfg    Config
	factor float64

	mu          sync.Mutex
	fwd, rev    pwm.Output
	initialized bool
}

// NewMotor creates an uninitialized motor. clk times software PWM.
func NewMotor(g gpio.Driver, cfg Config, clk clock.Clock) *Motor {
	if clk == nil {
		clk = clock.New()
	}
	return &Motor{
		gpio:   g,
		clk:    clk,
		cfg:    cfg,
		factor: CorrectionFactor(cfg.Correction),
	}
}

// CorrectionFactor converts a calibration percentage into a duty multiplier in [0,1].
func CorrectionFactor(correction float64) float64 {
	if correction < 0 {
		correction = 0
	}
	if correction > 100 {
		correction = 100
	}
	return 1 - correction/100
}

// Factor returns the duty multiplier applied to every command.
func (m *Motor) Factor() float64 {
	return m.factor
}

// Init claims both pins and leaves the motor stopped.
func (m *Motor) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	fwd, err := pwm.New(m.gpio, m.cfg.ForwardPin, m.clk)
	if err != nil {
		return fmt.Errorf("motor %s forward pin %d: %w", m.cfg.Name, m.cfg.ForwardPin, err)
	}
	rev, err := pwm.New(m.gpio, m.cfg.ReversePin, m.clk)
	if err != nil {
		return fmt.Errorf("motor %s reverse pin %d: %w", m.cfg.Name, m.cfg.ReversePin, err)
	}
	m.fwd, m.rev = fwd, rev
	m.initialized = true
	m.report(m.stopLocked())
	debug.Verbose("Motor %s: initialized (factor %.3f)", m.cfg.Name, m.factor)
	return nil
}

// Cleanup stops the motor and releases it. Later commands are ignored.
func (m *Motor) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}
	err := m.stopLocked()
	m.initialized = false
	m.fwd, m.rev = nil, nil
	return err
}

// Initialized reports whether the motor accepts commands.
func (m *Motor) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Set drives the forward and reverse pins at the given duties (0-100)
// scaled by the correction factor. The two directions are never driven
// together: when both are non-zero, reverse is dropped.
func (m *Motor) Set(dutyForward, dutyReverse, freq float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return
	}
	dutyForward = clamp(dutyForward) * m.factor
	dutyReverse = clamp(dutyReverse) * m.factor
	if dutyForward > 0 && dutyReverse > 0 {
		debug.Verbose("Motor %s: both directions requested, ignoring reverse", m.cfg.Name)
		dutyReverse = 0
	}

	debug.Trace("Motor %s: fwd=%.1f rev=%.1f freq=%.0f", m.cfg.Name, dutyForward, dutyReverse, freq)
	// Release the opposite direction first so the bridge never sees both.
	if dutyForward > 0 {
		m.report(m.rev.Set(0, freq))
		m.report(m.fwd.Set(dutyForward, freq))
	} else {
		m.report(m.fwd.Set(0, freq))
		m.report(m.rev.Set(dutyReverse, freq))
	}
}

// Forward drives the wheel forward at speed percent.
func (m *Motor) Forward(speed, freq float64) {
	m.Set(speed, 0, freq)
}

// Reverse drives the wheel backward at speed percent.
func (m *Motor) Reverse(speed, freq float64) {
	m.Set(0, speed, freq)
}

// Stop zeroes both pins.
func (m *Motor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return
	}
	m.report(m.stopLocked())
}

func (m *Motor) stopLocked() error {
	if err := m.fwd.Stop(); err != nil {
		return err
	}
	return m.rev.Stop()
}

func (m *Motor) report(err error) {
	if err != nil {
		debug.Error(fmt.Errorf("motor %s: %w", m.cfg.Name, err))
	}
}

func clamp(d float64) float64 {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}
