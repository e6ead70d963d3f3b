package motion

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/debug"
)

// DefaultPollInterval is the sensor polling period of step-counted motions.
const DefaultPollInterval = 2 * time.Millisecond

// pivotPct is the inner wheel ratio of a step-counted turn: it stands still.
const pivotPct = 0

// StepSteering runs Steering actions until each wheel has turned a given
// number of encoder steps, stopping each wheel on its own target.
//
// Motions block the caller until both targets are met and have no timeout:
// a dead sensor keeps the call spinning. Only one motion runs at a time.
type StepSteering struct {
	steering    *Steering
	left, right RotationSensor
	clk         clock.Clock
	interval    time.Duration

	// counted mode: edge callbacks feed the counters
	lfCounter, rgCounter *WheelCounter

	mu sync.Mutex
}

// NewStepSteering creates a controller polling both sensors every interval.
func NewStepSteering(steering *Steering, left, right RotationSensor, clk clock.Clock, interval time.Duration) *StepSteering {
	if clk == nil {
		clk = clock.New()
	}
	return &StepSteering{
		steering: steering,
		left:     left,
		right:    right,
		clk:      clk,
		interval: interval,
	}
}

// NewCountedStepSteering creates a controller counting steps from sensor
// edge callbacks. Sensors without edge support are polled by a goroutine.
func NewCountedStepSteering(steering *Steering, left, right EdgeSensor, clk clock.Clock, interval time.Duration) *StepSteering {
	s := NewStepSteering(steering, left, right, clk, interval)
	s.lfCounter = NewWheelCounter("left", left)
	s.rgCounter = NewWheelCounter("right", right)
	return s
}

// Steering returns the driven steering.
func (s *StepSteering) Steering() *Steering {
	return s.steering
}

// RunAndCount starts a and stops each wheel once it has counted its target.
// Negative targets are treated as 0. Both wheels are stopped on return.
func (s *StepSteering) RunAndCount(a Action, lfTarget, rgTarget int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lfTarget, rgTarget = max(lfTarget, 0), max(rgTarget, 0)
	debug.Verbose("StepSteering: %s left=%d right=%d steps", a.Kind, lfTarget, rgTarget)
	if s.lfCounter != nil {
		s.runCounted(a, lfTarget, rgTarget)
	} else {
		s.runPolling(a, lfTarget, rgTarget)
	}
	s.steering.Stop()
}

// runPolling samples both sensors in one loop so left and right bookkeeping
// never race.
func (s *StepSteering) runPolling(a Action, lfTarget, rgTarget int) {
	lfLast, rgLast := s.left.Activated(), s.right.Activated()
	var lfCount, rgCount int

	s.steering.Do(a)
	for lfCount < lfTarget || rgCount < rgTarget {
		if lfCount < lfTarget {
			if lvl := s.left.Activated(); lvl != lfLast {
				lfLast = lvl
				lfCount++
				debug.Steps("left", lfCount, lfTarget)
				if lfCount >= lfTarget {
					s.steering.StopLeft()
				}
			}
		}
		if rgCount < rgTarget {
			if lvl := s.right.Activated(); lvl != rgLast {
				rgLast = lvl
				rgCount++
				debug.Steps("right", rgCount, rgTarget)
				if rgCount >= rgTarget {
					s.steering.StopRight()
				}
			}
		}
		if lfCount < lfTarget || rgCount < rgTarget {
			s.clk.Sleep(s.interval)
		}
	}
}

// runCounted lets the two counters complete independently.
func (s *StepSteering) runCounted(a Action, lfTarget, rgTarget int) {
	done := make(chan struct{}, 2)
	finish := func(target int, stop func()) func() {
		return func() {
			if target > 0 {
				stop()
			}
			done <- struct{}{}
		}
	}

	s.lfCounter.Start(lfTarget, finish(lfTarget, s.steering.StopLeft))
	s.rgCounter.Start(rgTarget, finish(rgTarget, s.steering.StopRight))
	stopLeft := s.watch(s.lfCounter, lfTarget)
	stopRight := s.watch(s.rgCounter, rgTarget)

	s.steering.Do(a)
	<-done
	<-done

	stopLeft()
	stopRight()
}

// watch feeds c from edge callbacks, or from a polling goroutine when the
// sensor cannot report edges.
func (s *StepSteering) watch(c *WheelCounter, target int) (stop func()) {
	if target <= 0 {
		return func() {}
	}
	es := c.Sensor().(EdgeSensor)
	err := es.OnEdge(func(activated bool) { c.Observe(activated) })
	if err == nil {
		return es.RemoveCallbacks
	}
	debug.Verbose("StepSteering: %s edge callbacks unavailable (%v), polling", c.name, err)

	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := s.clk.Ticker(max(s.interval, time.Microsecond))
		defer ticker.Stop()
		for c.Running() {
			c.Poll()
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		close(quit)
		<-exited
	}
}

// Forward moves both wheels forward by steps.
func (s *StepSteering) Forward(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionForward}, steps, steps)
	}
}

// Reverse moves both wheels backward by steps.
func (s *StepSteering) Reverse(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionReverse}, steps, steps)
	}
}

// SpinLeft spins counterclockwise, steps on each wheel.
func (s *StepSteering) SpinLeft(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionSpinLeft}, steps, steps)
	}
}

// SpinRight spins clockwise, steps on each wheel.
func (s *StepSteering) SpinRight(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionSpinRight}, steps, steps)
	}
}

// TurnLeft pivots forward on the left wheel; the right wheel runs steps.
func (s *StepSteering) TurnLeft(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionTurnForwardLeft, Pct: pivotPct}, 0, steps)
	}
}

// TurnRight pivots forward on the right wheel; the left wheel runs steps.
func (s *StepSteering) TurnRight(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionTurnForwardRight, Pct: pivotPct}, steps, 0)
	}
}

// TurnRevLeft pivots backward on the left wheel; the right wheel runs steps.
func (s *StepSteering) TurnRevLeft(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionTurnReverseLeft, Pct: pivotPct}, 0, steps)
	}
}

// TurnRevRight pivots backward on the right wheel; the left wheel runs steps.
func (s *StepSteering) TurnRevRight(steps int) {
	if steps > 0 {
		s.RunAndCount(Action{Kind: ActionTurnReverseRight, Pct: pivotPct}, steps, 0)
	}
}
