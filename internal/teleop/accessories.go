package teleop

import (
	"context"
	"errors"
	"fmt"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/led"
	"github.com/malina-robot/malina/internal/hw/servo"
)

// ErrNoDevice is returned for LED or servo names the robot does not carry.
var ErrNoDevice = errors.New("no such device")

// Light commands.
const (
	LightOn       = "on"
	LightOff      = "off"
	LightSet      = "set"
	LightBrighten = "brighten"
	LightDim      = "dim"
)

// Servo commands.
const (
	ServoSet  = "set"
	ServoUp   = "up"
	ServoDown = "down"
)

// Accessories is implemented by robots carrying LEDs or servos.
type Accessories interface {
	Light(name string) (*led.LED, bool)
	Servo(name string) (*servo.Servo, bool)
}

// Accessory is a light or servo command. Value is a brightness in percent
// for lights. For servos it is the angle of "set" and the optional delta of
// "up" and "down".
type Accessory struct {
	Name   string  `json:"name"`
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
}

// IsFade reports whether cmd is a light fade, which blocks until done.
func (cmd Accessory) IsFade() bool {
	return cmd.Action == LightBrighten || cmd.Action == LightDim
}

func (d *Dispatcher) accessories() (Accessories, error) {
	if !d.robot.IsInitiated() {
		return nil, ErrNotInitiated
	}
	acc, ok := d.robot.(Accessories)
	if !ok {
		return nil, ErrNoDevice
	}
	return acc, nil
}

// Light applies cmd to an LED and returns its brightness. Fades run on the
// caller's goroutine until done or ctx is cancelled.
func (d *Dispatcher) Light(ctx context.Context, cmd Accessory) (float64, error) {
	acc, err := d.accessories()
	if err != nil {
		return 0, err
	}
	l, ok := acc.Light(cmd.Name)
	if !ok {
		return 0, fmt.Errorf("%w: LED %q", ErrNoDevice, cmd.Name)
	}
	debug.Live("Teleop: light %s %s %.0f", cmd.Name, cmd.Action, cmd.Value)
	switch cmd.Action {
	case LightOn:
		l.On()
	case LightOff:
		l.Off()
	case LightSet:
		l.Set(cmd.Value)
	case LightBrighten:
		err = l.Brighten(ctx, led.DefaultFadeDelay, led.DefaultFadeStep)
	case LightDim:
		err = l.Dim(ctx, led.DefaultFadeDelay, led.DefaultFadeStep)
	default:
		err = fmt.Errorf("%w: light %q", ErrUnknownAction, cmd.Action)
	}
	return l.Intensity(), err
}

// Servo applies cmd to a servo and returns its angle. "up" and "down" turn by
// servo.DefaultIncrement unless Value is positive.
func (d *Dispatcher) Servo(cmd Accessory) (float64, error) {
	acc, err := d.accessories()
	if err != nil {
		return 0, err
	}
	s, ok := acc.Servo(cmd.Name)
	if !ok {
		return 0, fmt.Errorf("%w: servo %q", ErrNoDevice, cmd.Name)
	}
	delta := cmd.Value
	if delta <= 0 {
		delta = servo.DefaultIncrement
	}
	debug.Live("Teleop: servo %s %s %.0f", cmd.Name, cmd.Action, cmd.Value)
	switch cmd.Action {
	case ServoSet:
		return s.SetAngle(cmd.Value), nil
	case ServoUp:
		return s.IncreaseAngle(delta), nil
	case ServoDown:
		return s.DecreaseAngle(delta), nil
	default:
		return s.Angle(), fmt.Errorf("%w: servo %q", ErrUnknownAction, cmd.Action)
	}
}
