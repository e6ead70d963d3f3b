package teleop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/logic/motion"
	"github.com/malina-robot/malina/internal/robot"
)

var (
	// ErrNotInitiated is returned for commands sent while the robot is off.
	ErrNotInitiated = errors.New("robot is not initiated")
	// ErrUnknownAction is returned for action names the dispatcher does not know.
	ErrUnknownAction = errors.New("unknown action")
	// ErrBusy is returned when a measured move is requested while another one runs.
	ErrBusy = errors.New("a measured move is already running")
)

// Speed commands.
const (
	SpeedUp   = "up"
	SpeedDown = "down"
	SpeedSet  = "set"
)

// MaxMoveDistance bounds a single measured straight move, in cm.
const MaxMoveDistance = 1000

// Robot is the part of *robot.Robot the dispatcher drives.
type Robot interface {
	IsInitiated() bool
	Status() robot.Status
	Steering() *motion.Steering
	Measure() *motion.MeasureSteering
}

var steeringActions = map[string]func(s *motion.Steering){
	"forward":        (*motion.Steering).Forward,
	"reverse":        (*motion.Steering).Reverse,
	"spin_left":      (*motion.Steering).SpinLeft,
	"spin_right":     (*motion.Steering).SpinRight,
	"turn_left":      func(s *motion.Steering) { s.TurnForwardLeft(motion.DefaultTurnPct) },
	"turn_right":     func(s *motion.Steering) { s.TurnForwardRight(motion.DefaultTurnPct) },
	"turn_rev_left":  func(s *motion.Steering) { s.TurnReverseLeft(motion.DefaultTurnPct) },
	"turn_rev_right": func(s *motion.Steering) { s.TurnReverseRight(motion.DefaultTurnPct) },
	"stop":           (*motion.Steering).Stop,
}

var measuredMoves = map[string]func(m *motion.MeasureSteering, v float64){
	"forward":        (*motion.MeasureSteering).Forward,
	"reverse":        (*motion.MeasureSteering).Reverse,
	"spin_left":      (*motion.MeasureSteering).SpinLeft,
	"spin_right":     (*motion.MeasureSteering).SpinRight,
	"turn_left":      (*motion.MeasureSteering).TurnLeft,
	"turn_right":     (*motion.MeasureSteering).TurnRight,
	"turn_rev_left":  (*motion.MeasureSteering).TurnRevLeft,
	"turn_rev_right": (*motion.MeasureSteering).TurnRevRight,
}

// Move is a measured move: a distance in cm for forward/reverse, an angle in
// degrees for spins and turns.
type Move struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
}

// Validate checks the kind and range of a move. Angles above 360 are accepted
// and saturated by the converter.
func (m Move) Validate() error {
	if _, ok := measuredMoves[m.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, m.Kind)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) || m.Value <= 0 {
		return fmt.Errorf("move %s: value must be a positive number, got %g", m.Kind, m.Value)
	}
	if (m.Kind == "forward" || m.Kind == "reverse") && m.Value > MaxMoveDistance {
		return fmt.Errorf("move %s: distance must be at most %d cm, got %g", m.Kind, MaxMoveDistance, m.Value)
	}
	return nil
}

// Dispatcher turns named teleoperation commands into robot operations.
// It is shared by the web, websocket and MQTT front ends.
type Dispatcher struct {
	robot Robot

	moveMu sync.Mutex // held while a measured move runs
}

// NewDispatcher creates a dispatcher driving r.
func NewDispatcher(r Robot) *Dispatcher {
	return &Dispatcher{robot: r}
}

// Actions lists the steering action names, sorted.
func Actions() []string {
	names := make([]string, 0, len(steeringActions))
	for name := range steeringActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the robot status.
func (d *Dispatcher) Status() robot.Status {
	return d.robot.Status()
}

// Steer runs a free-running steering action until the next command.
// It returns ErrBusy while a measured move runs.
func (d *Dispatcher) Steer(action string) error {
	fn, ok := steeringActions[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !d.robot.IsInitiated() {
		return ErrNotInitiated
	}
	// A free-running action would clear the per-wheel halts of a step-counted
	// move, or stop the wheels it is counting.
	if !d.moveMu.TryLock() {
		return ErrBusy
	}
	defer d.moveMu.Unlock()
	fn(d.robot.Steering())
	return nil
}

// WhenIdle runs fn unless a measured move is running, in which case it
// returns ErrBusy. No move can start while fn runs.
func (d *Dispatcher) WhenIdle(fn func() error) error {
	if !d.moveMu.TryLock() {
		return ErrBusy
	}
	defer d.moveMu.Unlock()
	return fn()
}

// Speed applies a speed command and returns the resulting speed. value is
// only used by SpeedSet. The running action is replayed at the new speed.
func (d *Dispatcher) Speed(action string, value int) (int, error) {
	if !d.robot.IsInitiated() {
		return d.robot.Steering().CurrentSpeed(), ErrNotInitiated
	}
	s := d.robot.Steering()
	switch action {
	case SpeedUp:
		return s.IncreaseSpeed(motion.SpeedIncrement), nil
	case SpeedDown:
		return s.DecreaseSpeed(motion.SpeedIncrement), nil
	case SpeedSet:
		return s.SetSpeed(value), nil
	default:
		return s.CurrentSpeed(), fmt.Errorf("%w: speed %q", ErrUnknownAction, action)
	}
}

// Measured runs m to completion on the caller's goroutine. ctx is only
// checked before the move starts: a started move always completes.
func (d *Dispatcher) Measured(ctx context.Context, m Move) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !d.robot.IsInitiated() {
		return ErrNotInitiated
	}
	if !d.moveMu.TryLock() {
		return ErrBusy
	}
	defer d.moveMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	debug.Live("Teleop: measured %s %.1f", m.Kind, m.Value)
	measuredMoves[m.Kind](d.robot.Measure(), m.Value)
	return nil
}

// Moving reports whether a measured move is running.
func (d *Dispatcher) Moving() bool {
	if d.moveMu.TryLock() {
		d.moveMu.Unlock()
		return false
	}
	return true
}
