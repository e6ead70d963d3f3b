package motion

import (
	"math"
	"sync"

	"github.com/malina-robot/malina/internal/debug"
)

const (
	// DefaultTurnPct is the slowed wheel ratio used by arcing turns.
	DefaultTurnPct = 50
	// SpeedIncrement is the default step of IncreaseSpeed and DecreaseSpeed.
	SpeedIncrement = 10
	// freqOffset is added to the lower wheel speed to get the PWM frequency in Hz.
	freqOffset = 5
)

// Channel drives one wheel. Duties are 0-100, freq in Hz.
type Channel interface {
	Set(dutyForward, dutyReverse, freq float64)
	Stop()
}

// ActionKind enumerates the steering primitives.
type ActionKind int

const (
	ActionStop ActionKind = iota
	ActionForward
	ActionReverse
	ActionSpinLeft
	ActionSpinRight
	ActionTurnForwardLeft
	ActionTurnForwardRight
	ActionTurnReverseLeft
	ActionTurnReverseRight
)

var actionNames = map[ActionKind]string{
	ActionStop:             "stop",
	ActionForward:          "forward",
	ActionReverse:          "reverse",
	ActionSpinLeft:         "spin_left",
	ActionSpinRight:        "spin_right",
	ActionTurnForwardLeft:  "turn_forward_left",
	ActionTurnForwardRight: "turn_forward_right",
	ActionTurnReverseLeft:  "turn_reverse_left",
	ActionTurnReverseRight: "turn_reverse_right",
}

func (k ActionKind) String() string {
	if n, ok := actionNames[k]; ok {
		return n
	}
	return "unknown"
}

// Action is a steering primitive plus its ratio. Pct is only used by turns:
// the wheel on the turn side runs at Pct percent of the current speed.
type Action struct {
	Kind ActionKind
	Pct  int
}

// IsTurn reports whether the action uses Pct.
func (a Action) IsTurn() bool {
	switch a.Kind {
	case ActionTurnForwardLeft, ActionTurnForwardRight, ActionTurnReverseLeft, ActionTurnReverseRight:
		return true
	}
	return false
}

// wheelCommand is what one wheel gets for an action.
type wheelCommand struct {
	speed   float64
	reverse bool
}

// commands computes both wheel commands for a at speed.
func (a Action) commands(speed int) (left, right wheelCommand) {
	full := float64(speed)
	slow := float64(ClampPercent(a.Pct)) / 100 * full
	switch a.Kind {
	case ActionForward:
		return wheelCommand{full, false}, wheelCommand{full, false}
	case ActionReverse:
		return wheelCommand{full, true}, wheelCommand{full, true}
	case ActionSpinLeft:
		return wheelCommand{full, true}, wheelCommand{full, false}
	case ActionSpinRight:
		return wheelCommand{full, false}, wheelCommand{full, true}
	case ActionTurnForwardLeft:
		return wheelCommand{slow, false}, wheelCommand{full, false}
	case ActionTurnForwardRight:
		return wheelCommand{full, false}, wheelCommand{slow, false}
	case ActionTurnReverseLeft:
		return wheelCommand{slow, true}, wheelCommand{full, true}
	case ActionTurnReverseRight:
		return wheelCommand{full, true}, wheelCommand{slow, true}
	}
	return wheelCommand{}, wheelCommand{}
}

// ClampPercent saturates v to [0,100].
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Steering drives the two wheels of a differential chassis. It remembers the
// last action so a speed change keeps the robot moving the same way.
type Steering struct {
	left, right Channel

	mu        sync.Mutex
	speed     int
	last      Action
	ran       bool
	haltLeft  bool // wheel silenced by StopLeft until the next action
	haltRight bool
}

// NewSteering creates a steering over two wheel channels.
func NewSteering(left, right Channel, initSpeed int) *Steering {
	return &Steering{left: left, right: right, speed: ClampPercent(initSpeed)}
}

// Do executes a at the current speed and records it for replay.
func (s *Steering) Do(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.IsTurn() {
		a.Pct = ClampPercent(a.Pct)
	} else {
		a.Pct = 0
	}
	s.last = a
	s.ran = true
	s.haltLeft, s.haltRight = false, false
	debug.Motion(a.Kind.String(), s.speed)
	s.apply(a)
}

func (s *Steering) apply(a Action) {
	if a.Kind == ActionStop {
		s.left.Stop()
		s.right.Stop()
		return
	}
	lf, rg := a.commands(s.speed)
	freq := math.Min(lf.speed, rg.speed) + freqOffset
	drive(s.left, lf, freq, s.haltLeft)
	drive(s.right, rg, freq, s.haltRight)
}

func drive(ch Channel, c wheelCommand, freq float64, halted bool) {
	switch {
	case halted:
		ch.Stop()
	case c.reverse:
		ch.Set(0, c.speed, freq)
	default:
		ch.Set(c.speed, 0, freq)
	}
}

// Stop zeroes both wheels.
func (s *Steering) Stop() { s.Do(Action{Kind: ActionStop}) }

// Forward drives both wheels forward at the current speed.
func (s *Steering) Forward() { s.Do(Action{Kind: ActionForward}) }

// Reverse drives both wheels backward at the current speed.
func (s *Steering) Reverse() { s.Do(Action{Kind: ActionReverse}) }

// SpinLeft rotates in place counterclockwise.
func (s *Steering) SpinLeft() { s.Do(Action{Kind: ActionSpinLeft}) }

// SpinRight rotates in place clockwise.
func (s *Steering) SpinRight() { s.Do(Action{Kind: ActionSpinRight}) }

// TurnForwardLeft arcs left: the left wheel runs at pct% of the speed.
func (s *Steering) TurnForwardLeft(pct int) { s.Do(Action{Kind: ActionTurnForwardLeft, Pct: pct}) }

// TurnForwardRight arcs right: the right wheel runs at pct% of the speed.
func (s *Steering) TurnForwardRight(pct int) { s.Do(Action{Kind: ActionTurnForwardRight, Pct: pct}) }

// TurnReverseLeft arcs left while backing up.
func (s *Steering) TurnReverseLeft(pct int) { s.Do(Action{Kind: ActionTurnReverseLeft, Pct: pct}) }

// TurnReverseRight arcs right while backing up.
func (s *Steering) TurnReverseRight(pct int) { s.Do(Action{Kind: ActionTurnReverseRight, Pct: pct}) }

// StopLeft silences the left wheel only. The last action is unchanged, and a
// speed change will not restart the wheel.
func (s *Steering) StopLeft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltLeft = true
	debug.Verbose("Steering: left wheel stopped")
	s.left.Stop()
}

// StopRight silences the right wheel only.
func (s *Steering) StopRight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltRight = true
	debug.Verbose("Steering: right wheel stopped")
	s.right.Stop()
}

// SetSpeed clamps v to [0,100], stores it and replays the last action.
func (s *Steering) SetSpeed(v int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSpeedLocked(v)
}

func (s *Steering) setSpeedLocked(v int) int {
	s.speed = ClampPercent(v)
	debug.Speed(s.speed)
	if s.ran {
		s.apply(s.last)
	}
	return s.speed
}

// IncreaseSpeed adds delta to the current speed.
func (s *Steering) IncreaseSpeed(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSpeedLocked(s.speed + delta)
}

// DecreaseSpeed subtracts delta from the current speed.
func (s *Steering) DecreaseSpeed(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSpeedLocked(s.speed - delta)
}

// CurrentSpeed returns the speed in percent.
func (s *Steering) CurrentSpeed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// LastAction returns the action replayed on speed changes.
func (s *Steering) LastAction() Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
