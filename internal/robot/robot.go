package robot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/malina-robot/malina/internal/config"
	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
	"github.com/malina-robot/malina/internal/hw/led"
	"github.com/malina-robot/malina/internal/hw/motor"
	"github.com/malina-robot/malina/internal/hw/sensor"
	"github.com/malina-robot/malina/internal/hw/servo"
	"github.com/malina-robot/malina/internal/logic/geometry"
	"github.com/malina-robot/malina/internal/logic/motion"
)

// Status is the externally visible robot state.
type Status struct {
	Initiated    bool   `json:"is_initiated"`
	CurrentSpeed int    `json:"current_speed"`
	Action       string `json:"action,omitempty"`
	Telemetry    bool   `json:"telemetry,omitempty"`
}

// Reading is one telemetry sample.
type Reading struct {
	Sensor string      `json:"sensor"` // "distance", "switch" or an obstacle name
	Value  interface{} `json:"value"`  // cm for distance, activation otherwise
}

type initStep struct {
	name string
	fn   func() error
}

// Robot owns every component of the chassis and the motion layers built on them.
// Nothing moves until Init succeeds.
type Robot struct {
	cfg *config.Config

	leftMotor, rightMotor *motor.Motor
	leftLine, rightLine   *sensor.Digital
	obstacles             []*sensor.Digital
	sw                    *sensor.Digital
	distance              *sensor.Distance
	lights                []*led.LED
	servos                []*servo.Servo
	steering              *motion.Steering
	steps                 *motion.StepSteering
	measure               *motion.MeasureSteering

	mu        sync.Mutex
	initiated bool
	telemetry bool
}

// New wires the components described by cfg on driver g. clk times PWM,
// step polling and distance measurements; nil means the wall clock.
func New(cfg *config.Config, g gpio.Driver, clk clock.Clock) *Robot {
	if clk == nil {
		clk = clock.New()
	}
	r := &Robot{cfg: cfg}

	r.leftMotor = motor.NewMotor(g, motor.Config{
		Name:       "left",
		ForwardPin: cfg.Motors.Left.ForwardPin,
		ReversePin: cfg.Motors.Left.ReversePin,
		Correction: cfg.Motors.Left.Correction,
	}, clk)
	r.rightMotor = motor.NewMotor(g, motor.Config{
		Name:       "right",
		ForwardPin: cfg.Motors.Right.ForwardPin,
		ReversePin: cfg.Motors.Right.ReversePin,
		Correction: cfg.Motors.Right.Correction,
	}, clk)
	r.steering = motion.NewSteering(r.leftMotor, r.rightMotor, cfg.Defaults.InitSpeed)

	r.leftLine = sensor.NewDigital(g, cfg.WheelSensors.LeftPin, "wheel_left")
	r.rightLine = sensor.NewDigital(g, cfg.WheelSensors.RightPin, "wheel_right")
	left, right := sensor.NewWheel(r.leftLine), sensor.NewWheel(r.rightLine)
	if cfg.Defaults.CountingMode == config.CountingInterrupt {
		r.steps = motion.NewCountedStepSteering(r.steering, left, right, clk, cfg.PollInterval())
	} else {
		r.steps = motion.NewStepSteering(r.steering, left, right, clk, cfg.PollInterval())
	}
	r.measure = motion.NewMeasureSteering(r.steps, geometry.NewStepsCalculatorFromConfig(cfg))

	if pin := cfg.Sensors.ObstacleLeftPin; pin > 0 {
		r.obstacles = append(r.obstacles, sensor.NewDigital(g, pin, "obstacle_left"))
	}
	if pin := cfg.Sensors.ObstacleRightPin; pin > 0 {
		r.obstacles = append(r.obstacles, sensor.NewDigital(g, pin, "obstacle_right"))
	}
	if pin := cfg.Sensors.DistancePin; pin > 0 {
		r.distance = sensor.NewDistance(g, pin, clk)
	}
	if pin := cfg.Sensors.SwitchPin; pin > 0 {
		r.sw = sensor.NewSwitch(g, pin, "switch")
	}

	if pin := cfg.LEDs.FrontPin; pin > 0 {
		r.lights = append(r.lights, led.New(g, pin, "front", clk))
	}
	if pin := cfg.LEDs.RearPin; pin > 0 {
		r.lights = append(r.lights, led.New(g, pin, "rear", clk))
	}
	for _, sc := range []struct {
		name string
		pin  int
	}{{"pan", cfg.Servos.PanPin}, {"tilt", cfg.Servos.TiltPin}} {
		if sc.pin <= 0 {
			continue
		}
		r.servos = append(r.servos, servo.New(g, servo.Config{
			Name:     sc.name,
			Pin:      sc.pin,
			MinSteps: cfg.Servos.MinSteps,
			MaxSteps: cfg.Servos.MaxSteps,
			MaxAngle: cfg.Servos.MaxAngle,
		}, clk))
	}
	return r
}

// Steering returns the free-running differential drive.
func (r *Robot) Steering() *motion.Steering {
	return r.steering
}

// Steps returns the step-synchronized controller.
func (r *Robot) Steps() *motion.StepSteering {
	return r.steps
}

// Measure returns the distance and angle controller.
func (r *Robot) Measure() *motion.MeasureSteering {
	return r.measure
}

// Light returns the LED called name ("front" or "rear").
func (r *Robot) Light(name string) (*led.LED, bool) {
	for _, l := range r.lights {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

// Servo returns the servo called name ("pan" or "tilt").
func (r *Robot) Servo(name string) (*servo.Servo, bool) {
	for _, s := range r.servos {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Init claims every pin, stops the wheels and restores the initial speed.
// A failed Init releases what it already claimed.
func (r *Robot) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initiated {
		return nil
	}
	debug.Info("Robot: initializing")

	steps := []initStep{
		{"left motor", r.leftMotor.Init},
		{"right motor", r.rightMotor.Init},
		{"left wheel sensor", r.leftLine.Init},
		{"right wheel sensor", r.rightLine.Init},
	}
	for _, o := range r.obstacles {
		steps = append(steps, initStep{o.Name(), o.Init})
	}
	if r.sw != nil {
		steps = append(steps, initStep{"switch", r.sw.Init})
	}
	for _, l := range r.lights {
		steps = append(steps, initStep{l.Name() + " LED", l.Init})
	}
	for _, s := range r.servos {
		steps = append(steps, initStep{s.Name() + " servo", s.Init})
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			err = fmt.Errorf("init %s: %w", s.name, err)
			return multierr.Append(err, r.releaseLocked())
		}
	}

	r.steering.SetSpeed(r.cfg.Defaults.InitSpeed)
	r.steering.Stop()
	r.initiated = true
	debug.Info("Robot: initiated at speed %d", r.steering.CurrentSpeed())
	return nil
}

// Cleanup stops the robot and releases every pin. Errors of all components
// are combined.
func (r *Robot) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initiated {
		return nil
	}
	r.steering.Stop()
	err := r.releaseLocked()
	r.initiated = false
	debug.Info("Robot: cleaned up")
	return err
}

func (r *Robot) releaseLocked() error {
	r.stopTelemetryLocked()
	r.leftLine.Cleanup()
	r.rightLine.Cleanup()
	for _, o := range r.obstacles {
		o.Cleanup()
	}
	if r.sw != nil {
		r.sw.Cleanup()
	}
	for _, l := range r.lights {
		l.Cleanup()
	}
	err := multierr.Combine(
		r.leftMotor.Cleanup(),
		r.rightMotor.Cleanup(),
	)
	for _, s := range r.servos {
		err = multierr.Append(err, s.Cleanup())
	}
	return err
}

// IsInitiated reports whether Init succeeded and Cleanup was not called since.
func (r *Robot) IsInitiated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initiated
}

// Status returns a snapshot of the robot state.
func (r *Robot) Status() Status {
	r.mu.Lock()
	initiated, telemetry := r.initiated, r.telemetry
	r.mu.Unlock()
	return Status{
		Initiated:    initiated,
		CurrentSpeed: r.steering.CurrentSpeed(),
		Action:       r.steering.LastAction().Kind.String(),
		Telemetry:    telemetry,
	}
}

// StartTelemetry streams distance readings, obstacle and switch changes to fn until
// StopTelemetry or Cleanup. Sensors that cannot report edges are skipped.
func (r *Robot) StartTelemetry(fn func(Reading)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initiated {
		return errors.New("robot is not initiated")
	}
	if r.telemetry {
		return nil
	}
	r.telemetry = true

	inputs := r.obstacles
	if r.sw != nil {
		inputs = append(inputs[:len(inputs):len(inputs)], r.sw)
	}
	var errs error
	for _, o := range inputs {
		name := o.Name()
		err := o.OnEdge(func(activated bool) {
			fn(Reading{Sensor: name, Value: activated})
		})
		if errors.Is(err, sensor.ErrNoEdges) {
			debug.Verbose("Robot: %s has no edge support, not streamed", name)
			continue
		}
		errs = multierr.Append(errs, err)
	}
	if r.distance != nil {
		r.distance.Start(r.cfg.DistanceInterval(), func(cm float64) {
			fn(Reading{Sensor: "distance", Value: cm})
		})
	}
	debug.Verbose("Robot: telemetry started")
	return errs
}

// StopTelemetry stops the streams started by StartTelemetry.
func (r *Robot) StopTelemetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTelemetryLocked()
}

func (r *Robot) stopTelemetryLocked() {
	if !r.telemetry {
		return
	}
	r.telemetry = false
	if r.distance != nil {
		r.distance.Stop()
	}
	for _, o := range r.obstacles {
		o.RemoveCallbacks()
	}
	if r.sw != nil {
		r.sw.RemoveCallbacks()
	}
	debug.Verbose("Robot: telemetry stopped")
}
