// Package led drives the white LEDs. They sit between the supply and the
// pin, so a high duty means a dim LED.
package led

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/malina-robot/malina/internal/hw/gpio"
	"github.com/malina-robot/malina/internal/hw/pwm"
)

// Frequency is the PWM frequency of the LEDs in Hz.
const Frequency = 100

// Default fade parameters.
const (
	DefaultFadeStep  = 5
	DefaultFadeDelay = 100 * time.Millisecond
)

// LED is one PWM dimmed white LED. Every command is a no-op until Init
// succeeds and after Cleanup.
type LED struct {
	gpio gpio.Driver
	clk  clock.Clock
	pin  int
	name string

	mu          sync.Mutex
	out         pwm.Output
	intensity   float64
	initialized bool
}

// New creates an uninitialized LED on pin. clk times software PWM and fades.
func New(g gpio.Driver, pin int, name string, clk clock.Clock) *LED {
	if clk == nil {
		clk = clock.New()
	}
	return &LED{gpio: g, clk: clk, pin: pin, name: name}
}

// Name returns the LED name used in logs and commands.
func (l *LED) Name() string {
	return l.name
}

// Init claims the pin and leaves the LED off.
func (l *LED) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return nil
	}
	out, err := pwm.New(l.gpio, l.pin, l.clk)
	if err != nil {
		return fmt.Errorf("led %s pin %d: %w", l.name, l.pin, err)
	}
	l.out = out
	l.initialized = true
	l.setLocked(0)
	return nil
}

// Cleanup switches the LED off and releases it.
func (l *LED) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return
	}
	l.setLocked(0)
	l.initialized = false
	l.out = nil
}

// Set sets the brightness in percent, clamped to [0,100].
func (l *LED) Set(intensity float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return
	}
	l.setLocked(intensity)
}

func (l *LED) setLocked(intensity float64) {
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 100 {
		intensity = 100
	}
	l.intensity = intensity
	debug.Trace("LED %s: intensity %.0f", l.name, intensity)
	if err := l.out.Set(100-intensity, Frequency); err != nil {
		debug.Error(fmt.Errorf("led %s: %w", l.name, err))
	}
}

// On sets full brightness.
func (l *LED) On() { l.Set(100) }

// Off switches the LED off.
func (l *LED) Off() { l.Set(0) }

// Intensity returns the last brightness set.
func (l *LED) Intensity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intensity
}

// Brighten fades from off to full brightness in step percent increments,
// waiting delay between two of them.
func (l *LED) Brighten(ctx context.Context, delay time.Duration, step int) error {
	return l.fade(ctx, delay, step, 0, 1)
}

// Dim fades from full brightness to off.
func (l *LED) Dim(ctx context.Context, delay time.Duration, step int) error {
	return l.fade(ctx, delay, step, 100, -1)
}

func (l *LED) fade(ctx context.Context, delay time.Duration, step, from, dir int) error {
	if step <= 0 {
		return fmt.Errorf("led %s: fade step must be > 0, got %d", l.name, step)
	}
	for v := from; v >= 0 && v <= 100; v += dir * step {
		l.Set(float64(v))
		timer := l.clk.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
