package motion

import (
	"sync"

	"github.com/malina-robot/malina/internal/debug"
)

// RotationSensor reports the level of a wheel encoder detector.
// The level toggles once per step.
type RotationSensor interface {
	Activated() bool
}

// EdgeSensor is a RotationSensor that can also push level changes.
type EdgeSensor interface {
	RotationSensor
	OnEdge(fn func(activated bool)) error
	RemoveCallbacks()
}

// WheelCounter counts encoder steps of one wheel during one motion.
// Observe may be called from a sensor callback goroutine.
type WheelCounter struct {
	name   string
	sensor RotationSensor

	mu         sync.Mutex
	last       bool
	count      int
	target     int
	running    bool
	onComplete func()
}

// NewWheelCounter counts the steps of one wheel's sensor.
func NewWheelCounter(name string, sensor RotationSensor) *WheelCounter {
	return &WheelCounter{name: name, sensor: sensor}
}

// Sensor returns the counted sensor.
func (c *WheelCounter) Sensor() RotationSensor {
	return c.sensor
}

// Start resets the progress and counts up to target. onComplete runs once,
// immediately when target <= 0.
func (c *WheelCounter) Start(target int, onComplete func()) {
	c.mu.Lock()
	c.count = 0
	c.target = target
	c.last = c.sensor.Activated()
	if target <= 0 {
		c.running = false
		c.onComplete = nil
		c.mu.Unlock()
		if onComplete != nil {
			onComplete()
		}
		return
	}
	c.running = true
	c.onComplete = onComplete
	c.mu.Unlock()
}

// Observe records a sensor level. A change of level is one step.
// It returns true when this step completed the target.
func (c *WheelCounter) Observe(activated bool) bool {
	c.mu.Lock()
	if !c.running || activated == c.last {
		c.mu.Unlock()
		return false
	}
	c.last = activated
	c.count++
	debug.Steps(c.name, c.count, c.target)
	if c.count < c.target {
		c.mu.Unlock()
		return false
	}
	c.running = false
	done := c.onComplete
	c.onComplete = nil
	c.mu.Unlock()

	if done != nil {
		done()
	}
	return true
}

// Poll reads the sensor and observes its level.
func (c *WheelCounter) Poll() bool {
	return c.Observe(c.sensor.Activated())
}

// Count returns the steps counted since Start.
func (c *WheelCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Running reports whether the counter still waits for steps.
func (c *WheelCounter) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
