package motion

import (
	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/logic/geometry"
)

// Stepper runs step-counted motions. *StepSteering implements it.
type Stepper interface {
	Forward(steps int)
	Reverse(steps int)
	SpinLeft(steps int)
	SpinRight(steps int)
	TurnLeft(steps int)
	TurnRight(steps int)
	TurnRevLeft(steps int)
	TurnRevRight(steps int)
}

// MeasureSteering moves by distances (in the unit of the chassis geometry)
// and angles in degrees. Precision is bounded by the encoder resolution.
type MeasureSteering struct {
	stepper Stepper
	calc    *geometry.StepsCalculator
}

// NewMeasureSteering creates a converter delegating to stepper.
func NewMeasureSteering(stepper Stepper, calc *geometry.StepsCalculator) *MeasureSteering {
	return &MeasureSteering{stepper: stepper, calc: calc}
}

// Forward drives distance forward. Non-positive distances do nothing.
func (m *MeasureSteering) Forward(distance float64) {
	if distance <= 0 {
		return
	}
	steps := m.calc.StepsFromDistance(distance)
	debug.Measured("forward", distance, steps, steps)
	m.stepper.Forward(steps)
}

// Reverse drives distance backward. Non-positive distances do nothing.
func (m *MeasureSteering) Reverse(distance float64) {
	if distance <= 0 {
		return
	}
	steps := m.calc.StepsFromDistance(distance)
	debug.Measured("reverse", distance, steps, steps)
	m.stepper.Reverse(steps)
}

// SpinLeft rotates in place by angle degrees (clamped to [0,360]).
func (m *MeasureSteering) SpinLeft(angle float64) {
	steps := m.calc.SpinSteps(angle)
	debug.Measured("spin_left", angle, steps, steps)
	m.stepper.SpinLeft(steps)
}

// SpinRight rotates in place by angle degrees (clamped to [0,360]).
func (m *MeasureSteering) SpinRight(angle float64) {
	steps := m.calc.SpinSteps(angle)
	debug.Measured("spin_right", angle, steps, steps)
	m.stepper.SpinRight(steps)
}

// TurnLeft arcs left by angle degrees around the left wheel.
func (m *MeasureSteering) TurnLeft(angle float64) {
	steps := m.calc.TurnSteps(angle)
	debug.Measured("turn_left", angle, 0, steps)
	m.stepper.TurnLeft(steps)
}

// TurnRight arcs right by angle degrees around the right wheel.
func (m *MeasureSteering) TurnRight(angle float64) {
	steps := m.calc.TurnSteps(angle)
	debug.Measured("turn_right", angle, steps, 0)
	m.stepper.TurnRight(steps)
}

// TurnRevLeft arcs left backward by angle degrees.
func (m *MeasureSteering) TurnRevLeft(angle float64) {
	steps := m.calc.TurnSteps(angle)
	debug.Measured("turn_rev_left", angle, 0, steps)
	m.stepper.TurnRevLeft(steps)
}

// TurnRevRight arcs right backward by angle degrees.
func (m *MeasureSteering) TurnRevRight(angle float64) {
	steps := m.calc.TurnSteps(angle)
	debug.Measured("turn_rev_right", angle, steps, 0)
	m.stepper.TurnRevRight(steps)
}
