package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/malina-robot/malina/internal/debug"
	"go.uber.org/multierr"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// edgeWaitTimeout bounds one WaitForEdge call so a stop request is noticed.
const edgeWaitTimeout = 100 * time.Millisecond

// PeriphDriver drives GPIOs through periph.io, which also works on boards
// other than the Raspberry Pi and uses kernel edge interrupts.
type PeriphDriver struct {
	mu    sync.Mutex
	pins  map[int]pgpio.PinIO
	pulls map[int]pgpio.Pull
}

// NewPeriphDriver initializes the periph host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing real GPIO driver (periph.io)")
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphDriver{pins: make(map[int]pgpio.PinIO), pulls: make(map[int]pgpio.Pull)}, nil
}

func (d *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	if p, ok := d.pins[pin]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return nil, fmt.Errorf("no GPIO%d on this board", pin)
	}
	d.pins[pin] = p
	return p, nil
}

func (d *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		d.pulls[pin] = pgpio.Float
		return p.In(pgpio.Float, pgpio.NoEdge)
	case InputPullUp:
		d.pulls[pin] = pgpio.PullUp
		return p.In(pgpio.PullUp, pgpio.NoEdge)
	case Output:
		return p.Out(pgpio.Low)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (d *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	return p.Out(pgpio.Level(level))
}

func (d *PeriphDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	d.mu.Lock()
	p, err := d.lookup(pin)
	d.mu.Unlock()
	if err != nil {
		return Low, err
	}
	return Level(p.Read()), nil
}

// SetPWM uses the pin's PWM support (hardware or DMA driven, depending on the host).
func (d *PeriphDriver) SetPWM(pin int, dutyPct, freqHz float64) error {
	debug.GPIO("SetPWM", pin, fmt.Sprintf("%.1f%%@%.0fHz", dutyPct, freqHz))
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	duty := pgpio.Duty(dutyPct / 100 * float64(pgpio.DutyMax))
	freq := physic.Frequency(freqHz * float64(physic.Hertz))
	if err := p.PWM(duty, freq); err != nil {
		return fmt.Errorf("%w: %v", ErrPWMUnsupported, err)
	}
	return nil
}

// WatchEdges configures pin for both edges, keeping its pull, and blocks on
// WaitForEdge in a goroutine.
func (d *PeriphDriver) WatchEdges(pin int, fn func(Level)) (func(), error) {
	d.mu.Lock()
	p, err := d.lookup(pin)
	pull, ok := d.pulls[pin]
	if !ok {
		pull = pgpio.Float
	}
	if err == nil {
		err = p.In(pull, pgpio.BothEdges)
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-done:
				return
			default:
			}
			if p.WaitForEdge(edgeWaitTimeout) {
				fn(Level(p.Read()))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
			if err := p.In(pull, pgpio.NoEdge); err != nil {
				debug.Error(err)
			}
		})
	}, nil
}

func (d *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph driver)")
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs error
	for pin, p := range d.pins {
		debug.Verbose("Halting pin %d", pin)
		errs = multierr.Append(errs, p.Halt())
	}
	return errs
}
