package route

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/debug"
)

// Leg kinds. Straight legs take centimeters, spins and turns take degrees
// and a pause takes milliseconds.
const (
	KindForward      = "forward"
	KindReverse      = "reverse"
	KindSpinLeft     = "spin_left"
	KindSpinRight    = "spin_right"
	KindTurnLeft     = "turn_left"
	KindTurnRight    = "turn_right"
	KindTurnRevLeft  = "turn_rev_left"
	KindTurnRevRight = "turn_rev_right"
	KindPause        = "pause"
)

// Mover executes measured moves. *motion.MeasureSteering implements it.
type Mover interface {
	Forward(distance float64)
	Reverse(distance float64)
	SpinLeft(angle float64)
	SpinRight(angle float64)
	TurnLeft(angle float64)
	TurnRight(angle float64)
	TurnRevLeft(angle float64)
	TurnRevRight(angle float64)
}

var moves = map[string]func(m Mover, v float64){
	KindForward:      Mover.Forward,
	KindReverse:      Mover.Reverse,
	KindSpinLeft:     Mover.SpinLeft,
	KindSpinRight:    Mover.SpinRight,
	KindTurnLeft:     Mover.TurnLeft,
	KindTurnRight:    Mover.TurnRight,
	KindTurnRevLeft:  Mover.TurnRevLeft,
	KindTurnRevRight: Mover.TurnRevRight,
}

// Leg is one step of a route.
type Leg struct {
	Kind  string
	Value float64
}

func (l Leg) String() string {
	return l.Kind + " " + strconv.FormatFloat(l.Value, 'g', -1, 64)
}

// Parse reads a route such as "forward 30; spin_left 90; pause 500".
// Legs are separated by ';' or newlines and '#' starts a comment.
func Parse(s string) ([]Leg, error) {
	var legs []Leg
	for _, line := range strings.Split(s, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, part := range strings.Split(line, ";") {
			fields := strings.Fields(part)
			if len(fields) == 0 {
				continue
			}
			n := len(legs) + 1
			if len(fields) != 2 {
				return nil, fmt.Errorf("leg %d %q: want \"<kind> <value>\"", n, strings.TrimSpace(part))
			}
			kind := strings.ToLower(fields[0])
			if _, ok := moves[kind]; !ok && kind != KindPause {
				return nil, fmt.Errorf("leg %d: unknown kind %q", n, fields[0])
			}
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return nil, fmt.Errorf("leg %d: value must be a positive number, got %q", n, fields[1])
			}
			legs = append(legs, Leg{Kind: kind, Value: v})
		}
	}
	if len(legs) == 0 {
		return nil, fmt.Errorf("route is empty")
	}
	return legs, nil
}

// Route drives a Mover through a list of legs.
type Route struct {
	mover Mover
	clk   clock.Clock
}

// New creates a route runner. clk times pauses; nil means the wall clock.
func New(m Mover, clk clock.Clock) *Route {
	if clk == nil {
		clk = clock.New()
	}
	return &Route{mover: m, clk: clk}
}

// Run executes legs in order, waiting delay between two legs. A started leg
// always completes; ctx is checked between legs and during waits.
func (r *Route) Run(ctx context.Context, legs []Leg, delay time.Duration) error {
	debug.Section("Route")
	for i, leg := range legs {
		if err := ctx.Err(); err != nil {
			return err
		}
		debug.Step(i+1, leg.String())

		if leg.Kind == KindPause {
			if err := r.wait(ctx, time.Duration(leg.Value*float64(time.Millisecond))); err != nil {
				return err
			}
			continue
		}
		move, ok := moves[leg.Kind]
		if !ok {
			return fmt.Errorf("leg %d: unknown kind %q", i+1, leg.Kind)
		}
		move(r.mover, leg.Value)

		if i < len(legs)-1 && delay > 0 {
			if err := r.wait(ctx, delay); err != nil {
				return err
			}
		}
	}
	debug.Summary(fmt.Sprintf("Route complete: %d legs", len(legs)))
	return nil
}

func (r *Route) wait(ctx context.Context, d time.Duration) error {
	timer := r.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
