package sensor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
)

// ErrNoEdges is returned by OnEdge when the GPIO driver cannot report edges.
var ErrNoEdges = errors.New("gpio driver does not support edge detection")

// ErrNotInitialized is returned when a sensor is used before Init.
var ErrNotInitialized = errors.New("sensor not initialized")

// Digital is an active-low digital input (line, obstacle or switch sensor).
type Digital struct {
	gpio gpio.Driver
	pin  int
	name string
	mode gpio.PinMode

	mu          sync.Mutex
	initialized bool
	stops       []func()
}

// NewDigital creates an uninitialized sensor on pin.
func NewDigital(g gpio.Driver, pin int, name string) *Digital {
	return &Digital{gpio: g, pin: pin, name: name, mode: gpio.Input}
}

// NewSwitch creates a push button input. Its internal pull-up keeps the
// line high until the button shorts it to ground.
func NewSwitch(g gpio.Driver, pin int, name string) *Digital {
	return &Digital{gpio: g, pin: pin, name: name, mode: gpio.InputPullUp}
}

// Pin returns the BCM pin number.
func (s *Digital) Pin() int {
	return s.pin
}

// Name returns the sensor name used in logs and telemetry.
func (s *Digital) Name() string {
	return s.name
}

// Init configures the pin as input.
func (s *Digital) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gpio.SetupPin(s.pin, s.mode); err != nil {
		return fmt.Errorf("sensor %s pin %d: %w", s.name, s.pin, err)
	}
	s.initialized = true
	return nil
}

// Cleanup removes callbacks and marks the sensor unusable.
func (s *Digital) Cleanup() {
	s.RemoveCallbacks()
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
}

// Activated reports whether the sensor pulls its pin low.
// An uninitialized or unreadable sensor is never activated.
func (s *Digital) Activated() bool {
	s.mu.Lock()
	ok := s.initialized
	s.mu.Unlock()
	if !ok {
		return false
	}
	lvl, err := s.gpio.ReadPin(s.pin)
	if err != nil {
		debug.Error(fmt.Errorf("sensor %s: %w", s.name, err))
		return false
	}
	return lvl == gpio.Low
}

// OnEdge calls fn with the activation state on every level change.
func (s *Digital) OnEdge(fn func(activated bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	ed, ok := s.gpio.(gpio.EdgeDriver)
	if !ok {
		return ErrNoEdges
	}
	stop, err := ed.WatchEdges(s.pin, func(l gpio.Level) {
		fn(l == gpio.Low)
	})
	if err != nil {
		return fmt.Errorf("sensor %s edges: %w", s.name, err)
	}
	s.stops = append(s.stops, stop)
	debug.Trace("Sensor %s: edge callback registered", s.name)
	return nil
}

// RemoveCallbacks stops every callback registered with OnEdge.
func (s *Digital) RemoveCallbacks() {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// Wheel exposes a line sensor wired to a wheel encoder disc as a rotation sensor.
type Wheel struct {
	line *Digital
}

// NewWheel wraps line. The line sensor keeps ownership of the pin.
func NewWheel(line *Digital) *Wheel {
	return &Wheel{line: line}
}

// Activated returns the current level of the encoder detector.
func (w *Wheel) Activated() bool {
	return w.line.Activated()
}

// OnEdge registers fn for every encoder transition.
func (w *Wheel) OnEdge(fn func(activated bool)) error {
	return w.line.OnEdge(fn)
}

// RemoveCallbacks drops the encoder callbacks.
func (w *Wheel) RemoveCallbacks() {
	w.line.RemoveCallbacks()
}
