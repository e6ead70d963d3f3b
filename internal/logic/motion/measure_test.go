package motion

import (
	"fmt"
	"testing"

	"github.com/malina-robot/malina/internal/logic/geometry"
)

// fakeStepper records the step motions it is asked for.
type fakeStepper struct {
	calls []string
}

func (f *fakeStepper) record(name string, steps int) {
	f.calls = append(f.calls, fmt.Sprintf("%s(%d)", name, steps))
}

func (f *fakeStepper) Forward(steps int)      { f.record("Forward", steps) }
func (f *fakeStepper) Reverse(steps int)      { f.record("Reverse", steps) }
func (f *fakeStepper) SpinLeft(steps int)     { f.record("SpinLeft", steps) }
func (f *fakeStepper) SpinRight(steps int)    { f.record("SpinRight", steps) }
func (f *fakeStepper) TurnLeft(steps int)     { f.record("TurnLeft", steps) }
func (f *fakeStepper) TurnRight(steps int)    { f.record("TurnRight", steps) }
func (f *fakeStepper) TurnRevLeft(steps int)  { f.record("TurnRevLeft", steps) }
func (f *fakeStepper) TurnRevRight(steps int) { f.record("TurnRevRight", steps) }

func newTestMeasure() (*MeasureSteering, *fakeStepper) {
	stepper := &fakeStepper{}
	calc := geometry.NewStepsCalculator(6.55, 11.5, 16)
	return NewMeasureSteering(stepper, calc), stepper
}

func TestMeasureSteering_Conversions(t *testing.T) {
	cases := []struct {
		name string
		do   func(m *MeasureSteering)
		want string
	}{
		{"forward 30", func(m *MeasureSteering) { m.Forward(30) }, "Forward(23)"},
		{"forward 10", func(m *MeasureSteering) { m.Forward(10) }, "Forward(8)"},
		{"reverse 100", func(m *MeasureSteering) { m.Reverse(100) }, "Reverse(78)"},
		{"spin left 90", func(m *MeasureSteering) { m.SpinLeft(90) }, "SpinLeft(7)"},
		{"spin right 180", func(m *MeasureSteering) { m.SpinRight(180) }, "SpinRight(14)"},
		{"turn left 90", func(m *MeasureSteering) { m.TurnLeft(90) }, "TurnLeft(14)"},
		{"turn right 360", func(m *MeasureSteering) { m.TurnRight(360) }, "TurnRight(56)"},
		{"turn rev left 180", func(m *MeasureSteering) { m.TurnRevLeft(180) }, "TurnRevLeft(28)"},
		{"turn rev right 45", func(m *MeasureSteering) { m.TurnRevRight(45) }, "TurnRevRight(7)"},
		{"spin clamped", func(m *MeasureSteering) { m.SpinLeft(720) }, "SpinLeft(28)"},
		{"negative angle", func(m *MeasureSteering) { m.SpinRight(-90) }, "SpinRight(0)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, stepper := newTestMeasure()
			tc.do(m)
			if len(stepper.calls) != 1 || stepper.calls[0] != tc.want {
				t.Errorf("calls = %v, want [%s]", stepper.calls, tc.want)
			}
		})
	}
}

func TestMeasureSteering_NonPositiveDistanceDoesNothing(t *testing.T) {
	m, stepper := newTestMeasure()
	m.Forward(0)
	m.Forward(-5)
	m.Reverse(0)
	m.Reverse(-5)
	if len(stepper.calls) != 0 {
		t.Errorf("calls = %v, want none", stepper.calls)
	}
}

func TestMeasureSteering_DrivesStepSteering(t *testing.T) {
	left, right := newTogglingSensor(1), newTogglingSensor(1)
	ss, rec := newPollingSteering(t, left, right, nil, 0)
	m := NewMeasureSteering(ss, geometry.NewStepsCalculator(6.55, 11.5, 16))

	m.Forward(10)

	if left.Toggles() != 8 || right.Toggles() != 8 {
		t.Errorf("wheels counted %d/%d steps, want 8/8", left.Toggles(), right.Toggles())
	}
	if got := ops(rec.all()); len(got) != 6 {
		t.Errorf("events = %v, want start, two wheel stops and final stop", got)
	}
}
