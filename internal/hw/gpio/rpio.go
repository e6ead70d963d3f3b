package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/malina-robot/malina/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmCycleLen is the duty resolution used for hardware PWM.
const pwmCycleLen = 1000

// edgePollInterval is how often the edge detect register is checked.
const edgePollInterval = time.Millisecond

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	mu    sync.Mutex
	pins  map[int]rpio.Pin
	modes map[int]PinMode
	pwm   map[int]bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins:  make(map[int]rpio.Pin),
		modes: make(map[int]PinMode),
		pwm:   make(map[int]bool),
	}, nil
}

// HardwarePWMPin reports whether a BCM pin can be routed to a PWM channel.
func HardwarePWMPin(pin int) bool {
	switch pin {
	case 12, 13, 18, 19:
		return true
	}
	return false
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup(pin, mode)
}

func (r *RPiDriver) setup(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p
	r.modes[pin] = mode
	delete(r.pwm, pin)

	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pins[pin]
	if !ok || r.pwm[pin] {
		// Pin not setup yet (or left in PWM mode), setup as output
		if err := r.setup(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.setup(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// SetPWM drives one of the PWM capable pins in hardware.
// The PWM clock must stay above 4688 Hz, so the motor frequency is
// multiplied by the cycle length.
func (r *RPiDriver) SetPWM(pin int, dutyPct, freqHz float64) error {
	if !HardwarePWMPin(pin) {
		return ErrPWMUnsupported
	}
	debug.GPIO("SetPWM", pin, fmt.Sprintf("%.1f%%@%.0fHz", dutyPct, freqHz))
	r.mu.Lock()
	defer r.mu.Unlock()

	p := rpio.Pin(pin)
	if !r.pwm[pin] {
		p.Mode(rpio.Pwm)
		r.pins[pin] = p
		r.pwm[pin] = true
	}
	p.Freq(int(freqHz * pwmCycleLen))
	p.DutyCycle(uint32(dutyPct*pwmCycleLen/100), pwmCycleLen)
	return nil
}

// WatchEdges enables edge detection on pin and polls the event register.
func (r *RPiDriver) WatchEdges(pin int, fn func(Level)) (func(), error) {
	r.mu.Lock()
	mode := Input
	if r.modes[pin] == InputPullUp {
		mode = InputPullUp
	}
	if err := r.setup(pin, mode); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	p := r.pins[pin]
	p.Detect(rpio.AnyEdge)
	r.mu.Unlock()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(edgePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			detected := p.EdgeDetected()
			state := p.Read()
			r.mu.Unlock()
			if detected {
				fn(state == rpio.High)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
			r.mu.Lock()
			p.Detect(rpio.NoEdge)
			r.mu.Unlock()
		})
	}, nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}
