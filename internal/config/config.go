package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file accepted by Load.
const MaxConfigFileBytes = 64 * 1024

// Counting modes for step-synchronized motions.
const (
	CountingPolling   = "polling"
	CountingInterrupt = "interrupt"
)

// GPIO driver names.
const (
	DriverMock   = "mock"
	DriverRPi    = "rpio"
	DriverPeriph = "periph"
)

// MotorConfig holds the pins of one wheel's H-bridge channel.
type MotorConfig struct {
	ForwardPin int     `yaml:"forward_pin"` // BCM pin driving the wheel forward
	ReversePin int     `yaml:"reverse_pin"` // BCM pin driving the wheel backward
	Correction float64 `yaml:"correction"`  // calibration percentage (0-100) slowing this wheel
}

// MotorsConfig groups both wheels.
type MotorsConfig struct {
	Left  MotorConfig `yaml:"left"`
	Right MotorConfig `yaml:"right"`
}

// WheelSensorsConfig holds the rotation detector pins.
type WheelSensorsConfig struct {
	LeftPin  int `yaml:"left_pin"`
	RightPin int `yaml:"right_pin"`
}

// GeometryConfig describes the chassis.
type GeometryConfig struct {
	WheelDiameterCm float64 `yaml:"wheel_diameter_cm"`
	RobotWidthCm    float64 `yaml:"robot_width_cm"` // distance between the wheels
	StepsPerRev     int     `yaml:"steps_per_rev"`  // detector transitions per wheel revolution
}

// SensorsConfig holds the optional obstacle and distance sensors. Pin 0 = not fitted.
type SensorsConfig struct {
	ObstacleLeftPin    int `yaml:"obstacle_left_pin"`
	ObstacleRightPin   int `yaml:"obstacle_right_pin"`
	DistancePin        int `yaml:"distance_pin"`
	DistanceIntervalMs int `yaml:"distance_interval_ms"`
	SwitchPin          int `yaml:"switch_pin"` // push button, pulled up
}

// LEDsConfig holds the white LED pins. Pin 0 = not fitted.
type LEDsConfig struct {
	FrontPin int `yaml:"front_pin"`
	RearPin  int `yaml:"rear_pin"`
}

// ServosConfig describes the pan/tilt head. Pin 0 = not fitted.
// Pulse widths are in 10µs steps.
type ServosConfig struct {
	PanPin   int     `yaml:"pan_pin"`
	TiltPin  int     `yaml:"tilt_pin"`
	MinSteps int     `yaml:"min_steps"`
	MaxSteps int     `yaml:"max_steps"`
	MaxAngle float64 `yaml:"max_angle"`
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	InitSpeed      int    `yaml:"init_speed"`       // speed applied when the robot is initiated (0-100)
	PollIntervalMs int    `yaml:"poll_interval_ms"` // step counter polling period
	CountingMode   string `yaml:"counting_mode"`    // "polling" or "interrupt"
	DebugLevel     int    `yaml:"debug_level"`      // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	GPIODriver     string `yaml:"gpio_driver"`      // "mock", "rpio" or "periph"
	MockGPIO       bool   `yaml:"mock_gpio"`        // shorthand for gpio_driver: mock
}

// MQTTConfig configures the optional MQTT teleoperation bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Config aggregates all application configuration.
type Config struct {
	Motors       MotorsConfig       `yaml:"motors"`
	WheelSensors WheelSensorsConfig `yaml:"wheel_sensors"`
	Geometry     GeometryConfig     `yaml:"geometry"`
	Sensors      SensorsConfig      `yaml:"sensors"`
	LEDs         LEDsConfig         `yaml:"leds"`
	Servos       ServosConfig       `yaml:"servos"`
	Defaults     DefaultsConfig     `yaml:"defaults"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
}

// ValidateConfigPath accepts only .yaml files located directly in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Motors.Left.ForwardPin <= 0 || c.Motors.Left.ReversePin <= 0 {
		return fmt.Errorf("motors.left forward_pin and reverse_pin are required")
	}
	if c.Motors.Right.ForwardPin <= 0 || c.Motors.Right.ReversePin <= 0 {
		return fmt.Errorf("motors.right forward_pin and reverse_pin are required")
	}
	for name, corr := range map[string]float64{"left": c.Motors.Left.Correction, "right": c.Motors.Right.Correction} {
		if corr < 0 || corr > 100 {
			return fmt.Errorf("motors.%s.correction must be between 0 and 100, got %.2f", name, corr)
		}
	}
	if c.WheelSensors.LeftPin <= 0 || c.WheelSensors.RightPin <= 0 {
		return fmt.Errorf("wheel_sensors left_pin and right_pin are required")
	}
	if c.Geometry.RobotWidthCm <= 0 {
		return fmt.Errorf("geometry.robot_width_cm must be > 0")
	}
	if c.Geometry.WheelDiameterCm < 0 {
		return fmt.Errorf("geometry.wheel_diameter_cm must be > 0, got %.2f", c.Geometry.WheelDiameterCm)
	}
	if c.Geometry.WheelDiameterCm == 0 {
		c.Geometry.WheelDiameterCm = 6.55
	}
	if c.Geometry.StepsPerRev <= 0 {
		c.Geometry.StepsPerRev = 16
	}

	if c.Sensors.DistanceIntervalMs <= 0 {
		c.Sensors.DistanceIntervalMs = 1000
	}
	if c.Sensors.DistanceIntervalMs < 200 {
		c.Sensors.DistanceIntervalMs = 200 // the echo needs time to settle
	}

	if c.Servos.MinSteps <= 0 {
		c.Servos.MinSteps = 50
	}
	if c.Servos.MaxSteps <= 0 {
		c.Servos.MaxSteps = 250
	}
	if c.Servos.MinSteps >= c.Servos.MaxSteps {
		return fmt.Errorf("servos.min_steps (%d) must be below servos.max_steps (%d)", c.Servos.MinSteps, c.Servos.MaxSteps)
	}
	if c.Servos.MaxAngle <= 0 {
		c.Servos.MaxAngle = 180
	}

	if c.Defaults.InitSpeed < 0 || c.Defaults.InitSpeed > 100 {
		return fmt.Errorf("defaults.init_speed must be between 0 and 100, got %d", c.Defaults.InitSpeed)
	}
	if c.Defaults.InitSpeed == 0 {
		c.Defaults.InitSpeed = 20
	}
	if c.Defaults.PollIntervalMs <= 0 {
		c.Defaults.PollIntervalMs = 2
	}
	switch c.Defaults.CountingMode {
	case "":
		c.Defaults.CountingMode = CountingPolling
	case CountingPolling, CountingInterrupt:
	default:
		return fmt.Errorf("defaults.counting_mode must be %q or %q, got %q", CountingPolling, CountingInterrupt, c.Defaults.CountingMode)
	}
	if c.Defaults.MockGPIO {
		c.Defaults.GPIODriver = DriverMock
	}
	switch c.Defaults.GPIODriver {
	case "":
		c.Defaults.GPIODriver = DriverRPi
	case DriverMock, DriverRPi, DriverPeriph:
	default:
		return fmt.Errorf("defaults.gpio_driver %q is not supported", c.Defaults.GPIODriver)
	}

	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "malina"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "malina"
	}
	return nil
}

// PollInterval returns the step counter polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Defaults.PollIntervalMs) * time.Millisecond
}

// DistanceInterval returns the period between two ultrasonic measurements.
func (c *Config) DistanceInterval() time.Duration {
	return time.Duration(c.Sensors.DistanceIntervalMs) * time.Millisecond
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}
