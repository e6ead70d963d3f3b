package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/malina-robot/malina/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up enabled
)

// ErrPWMUnsupported is returned by SetPWM when the pin has no hardware PWM.
var ErrPWMUnsupported = errors.New("hardware PWM not supported on this pin")

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// PWMDriver is implemented by drivers able to generate PWM in hardware.
// dutyPct is 0-100.
type PWMDriver interface {
	SetPWM(pin int, dutyPct, freqHz float64) error
}

// EdgeDriver is implemented by drivers able to report level changes on an input.
// fn runs on a driver goroutine; the returned stop function waits for it to exit.
type EdgeDriver interface {
	WatchEdges(pin int, fn func(Level)) (stop func(), err error)
}

// NewDriver creates a GPIO driver by name: "mock", "rpio" or "periph".
func NewDriver(name string) (Driver, error) {
	switch name {
	case "mock":
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case "rpio", "":
		return NewRPiRealDriver()
	case "periph":
		return NewPeriphDriver()
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", name)
	}
}

// MockDriver remembers written levels and logs every action.
// Reads of an input pin alternate between Low and High so that
// step counting progresses when no hardware is attached.
type MockDriver struct {
	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	m.levels[pin] = High
	if mode == Output {
		m.levels[pin] = Low
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	lvl := m.levels[pin]
	if mode := m.modes[pin]; mode == Input || mode == InputPullUp {
		m.levels[pin] = !lvl
	}
	return lvl, nil
}

// Written returns the last level written to pin.
func (m *MockDriver) Written(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
