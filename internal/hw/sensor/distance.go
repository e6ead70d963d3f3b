package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
)

const (
	// triggerPulse is the length of the ranging request.
	triggerPulse = 10 * time.Microsecond
	// echoTimeout bounds both the wait for the echo and the echo itself.
	echoTimeout = 100 * time.Millisecond
	// MinMeasureInterval keeps successive pings from overlapping.
	MinMeasureInterval = 200 * time.Millisecond
	// halfSpeedOfSound in cm/s: the echo travels there and back.
	halfSpeedOfSound = 17150
)

// ErrNoEcho is returned when the ranger never answers.
var ErrNoEcho = errors.New("no echo from distance sensor")

// Distance is a single pin ultrasonic ranger: the pin is pulsed as output
// then switched to input to time the echo.
type Distance struct {
	gpio gpio.Driver
	pin  int
	clk  clock.Clock

	mu     sync.Mutex // serializes measurements
	runMu  sync.Mutex
	quit   chan struct{}
	exited chan struct{}
}

// NewDistance creates a ranger on pin.
func NewDistance(g gpio.Driver, pin int, clk clock.Clock) *Distance {
	if clk == nil {
		clk = clock.New()
	}
	return &Distance{gpio: g, pin: pin, clk: clk}
}

// Measure returns the distance to the nearest obstacle in centimeters.
func (d *Distance) Measure() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.gpio.SetupPin(d.pin, gpio.Output); err != nil {
		return 0, err
	}
	if err := d.gpio.WritePin(d.pin, gpio.High); err != nil {
		return 0, err
	}
	d.clk.Sleep(triggerPulse)
	if err := d.gpio.WritePin(d.pin, gpio.Low); err != nil {
		return 0, err
	}
	if err := d.gpio.SetupPin(d.pin, gpio.Input); err != nil {
		return 0, err
	}

	start, err := d.waitFor(gpio.High)
	if err != nil {
		return 0, err
	}
	end, err := d.waitFor(gpio.Low)
	if err != nil && !errors.Is(err, ErrNoEcho) {
		return 0, err
	}
	cm := end.Sub(start).Seconds() * halfSpeedOfSound
	debug.Trace("Distance sensor: %.1f cm", cm)
	return cm, nil
}

// waitFor spins until the pin reaches level and returns when it did.
// On timeout it returns the time of the last read with ErrNoEcho.
func (d *Distance) waitFor(level gpio.Level) (time.Time, error) {
	begin := d.clk.Now()
	now := begin
	for now.Sub(begin) < echoTimeout {
		lvl, err := d.gpio.ReadPin(d.pin)
		now = d.clk.Now()
		if err != nil {
			return now, fmt.Errorf("distance sensor read: %w", err)
		}
		if lvl == level {
			return now, nil
		}
	}
	return now, ErrNoEcho
}

// Start measures every interval (at least MinMeasureInterval) in a goroutine
// and hands each reading to fn. Failed readings are logged and skipped.
func (d *Distance) Start(interval time.Duration, fn func(cm float64)) {
	if interval < MinMeasureInterval {
		interval = MinMeasureInterval
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.quit != nil {
		return
	}
	d.quit = make(chan struct{})
	d.exited = make(chan struct{})
	go d.loop(interval, fn, d.quit, d.exited)
}

// Stop ends background measurement and waits for the goroutine.
func (d *Distance) Stop() {
	d.runMu.Lock()
	quit, exited := d.quit, d.exited
	d.quit, d.exited = nil, nil
	d.runMu.Unlock()
	if quit != nil {
		close(quit)
		<-exited
	}
}

// Running reports whether background measurement is active.
func (d *Distance) Running() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.quit != nil
}

func (d *Distance) loop(interval time.Duration, fn func(float64), quit, exited chan struct{}) {
	defer close(exited)
	ticker := d.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		cm, err := d.Measure()
		if err != nil {
			debug.Error(err)
		} else {
			fn(cm)
		}
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
	}
}
