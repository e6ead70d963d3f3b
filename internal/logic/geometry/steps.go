package geometry

import (
	"math"

	"github.com/malina-robot/malina/internal/config"
)

// StepsCalculator converts distances and angles to wheel encoder steps.
//
// The encoder counts stepsPerRev transitions per wheel revolution, so one
// step is a wheel arc of π·diameter/stepsPerRev. A spin rotates both wheels
// around the chassis center (rotation diameter = width); a turn pivots on the
// inner wheel so the outer wheel runs on a circle of radius = width.
type StepsCalculator struct {
	stepDistance float64 // cm of travel per encoder step
	width        float64 // cm between the wheels
}

// NewStepsCalculator creates a step calculator from raw chassis geometry.
func NewStepsCalculator(wheelDiameter, robotWidth float64, stepsPerRev int) *StepsCalculator {
	return &StepsCalculator{
		stepDistance: math.Pi * wheelDiameter / float64(stepsPerRev),
		width:        robotWidth,
	}
}

// NewStepsCalculatorFromConfig creates a step calculator from configuration.
func NewStepsCalculatorFromConfig(cfg *config.Config) *StepsCalculator {
	return NewStepsCalculator(cfg.Geometry.WheelDiameterCm, cfg.Geometry.RobotWidthCm, cfg.Geometry.StepsPerRev)
}

// StepDistance returns the wheel travel covered by one encoder step.
func (s *StepsCalculator) StepDistance() float64 {
	return s.stepDistance
}

// StepsFromDistance converts a straight distance to steps, rounded to nearest.
func (s *StepsCalculator) StepsFromDistance(distance float64) int {
	return int(math.Round(distance / s.stepDistance))
}

// ClampAngle saturates an angle to [0,360].
func ClampAngle(angle float64) float64 {
	if angle < 0 {
		return 0
	}
	if angle > 360 {
		return 360
	}
	return angle
}

// SpinStepsExact returns the unrounded step count of an in-place spin.
func (s *StepsCalculator) SpinStepsExact(angle float64) float64 {
	arc := ClampAngle(angle) / 360 * math.Pi * s.width
	return arc / s.stepDistance
}

// TurnStepsExact returns the unrounded outer wheel step count of an arcing turn.
func (s *StepsCalculator) TurnStepsExact(angle float64) float64 {
	arc := ClampAngle(angle) / 360 * 2 * math.Pi * s.width
	return arc / s.stepDistance
}

// SpinSteps converts a spin angle in degrees to steps per wheel.
func (s *StepsCalculator) SpinSteps(angle float64) int {
	return int(math.Round(s.SpinStepsExact(angle)))
}

// TurnSteps converts a turn angle in degrees to outer wheel steps.
func (s *StepsCalculator) TurnSteps(angle float64) int {
	return int(math.Round(s.TurnStepsExact(angle)))
}
