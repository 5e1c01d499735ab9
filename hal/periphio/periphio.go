// Package periphio implements hal.Board against real hardware via
// periph.io/x/conn/v3 and periph.io/x/host/v3, the way driver/wshat.go and
// lcd.go look up named GPIO pins on a Raspberry Pi after host.Init(). It is
// the backend behind cmd/mcu-host, for running the core firmware on a
// Linux SBC acting as the printer's controller instead of a bare-metal MCU.
package periphio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/tendergrid/mcufw/hal"
)

// Board adapts named periph.io pins to hal.Board. Pins are looked up by
// their periph.io name (e.g. "GPIO6") through gpioreg, the same registry
// driver/wshat.go's bcm283x constants resolve into.
type Board struct {
	pwmPeriod time.Duration

	mu   sync.Mutex
	pwms []*pwmOut
}

// Open initializes the periph.io host drivers for the current platform.
// Call it once at process start, before any Board method.
func Open() error {
	_, err := host.Init()
	return err
}

// NewBoard returns a Board that drives software PWM at the given period.
// periph.io/x/conn/v3/gpio's PinOut interface no longer guarantees hardware
// PWM on every pin, so PWMOut always falls back to a plain Out() toggled at
// pwmPeriod, matching the portable subset of what driver/wshat.go relies on.
func NewBoard(pwmPeriod time.Duration) *Board {
	return &Board{pwmPeriod: pwmPeriod}
}

// DigitalOut implements hal.Board.
func (b *Board) DigitalOut(name string) (hal.DigitalOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphio: unknown pin %q", name)
	}
	out, ok := p.(gpio.PinOut)
	if !ok {
		return nil, fmt.Errorf("periphio: pin %q is not an output", name)
	}
	if err := out.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("periphio: configuring %q: %w", name, err)
	}
	return &digitalOut{pin: out}, nil
}

// DigitalIn implements hal.Board.
func (b *Board) DigitalIn(name string) (hal.DigitalIn, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphio: unknown pin %q", name)
	}
	in, ok := p.(gpio.PinIn)
	if !ok {
		return nil, fmt.Errorf("periphio: pin %q is not an input", name)
	}
	if err := in.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("periphio: configuring %q: %w", name, err)
	}
	return &digitalIn{pin: in}, nil
}

// AnalogIn implements hal.Board.
func (b *Board) AnalogIn(name string) (hal.AnalogIn, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphio: unknown pin %q", name)
	}
	adc, ok := p.(analog.ADC)
	if !ok {
		return nil, fmt.Errorf("periphio: pin %q is not an ADC", name)
	}
	if err := adc.ADC(); err != nil {
		return nil, fmt.Errorf("periphio: configuring %q: %w", name, err)
	}
	return &analogIn{pin: adc}, nil
}

// PWMOut implements hal.Board with software-toggled PWM over a plain
// digital output.
func (b *Board) PWMOut(name string) (hal.PWMOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphio: unknown pin %q", name)
	}
	out, ok := p.(gpio.PinOut)
	if !ok {
		return nil, fmt.Errorf("periphio: pin %q is not an output", name)
	}
	if err := out.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("periphio: configuring %q: %w", name, err)
	}
	pw := &pwmOut{pin: out, period: b.pwmPeriod, stop: make(chan struct{})}
	b.mu.Lock()
	b.pwms = append(b.pwms, pw)
	b.mu.Unlock()
	go pw.run()
	return pw, nil
}

// Close stops every software PWM goroutine this board has started, driving
// their pins low first so a heater never keeps toggling after the process
// that owns it begins shutting down.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pw := range b.pwms {
		pw.pin.Out(gpio.Low)
		close(pw.stop)
	}
	b.pwms = nil
}

type digitalOut struct{ pin gpio.PinOut }

func (d *digitalOut) Set(l hal.Level) error { return d.pin.Out(l) }
func (d *digitalOut) Name() string          { return d.pin.String() }

type digitalIn struct{ pin gpio.PinIn }

func (d *digitalIn) Read() (hal.Level, error) { return d.pin.Read(), nil }
func (d *digitalIn) Name() string             { return d.pin.String() }

// analogIn wraps a periph.io ADC-capable pin.
type analogIn struct{ pin analog.ADC }

func (a *analogIn) Measure() (int32, error) {
	return a.pin.Measure(), nil
}

func (a *analogIn) Range() (int32, int32) {
	return a.pin.Range()
}

func (a *analogIn) Name() string { return a.pin.String() }

// pwmOut drives a digital output at a fixed period with a mutable duty
// cycle, the minimal software PWM shape needed when no hardware PWM pin is
// available.
type pwmOut struct {
	pin    gpio.PinOut
	period time.Duration

	mu   sync.Mutex
	duty float64
	stop chan struct{}
}

func (p *pwmOut) SetDuty(d float64) error {
	p.mu.Lock()
	p.duty = d
	p.mu.Unlock()
	return nil
}

func (p *pwmOut) Name() string { return p.pin.String() }

func (p *pwmOut) run() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		p.mu.Lock()
		d := p.duty
		p.mu.Unlock()
		on := time.Duration(d * float64(p.period))
		off := p.period - on
		if on > 0 {
			p.pin.Out(gpio.High)
			sleep(on, p.stop)
		}
		if off > 0 {
			p.pin.Out(gpio.Low)
			sleep(off, p.stop)
		}
		if on == 0 && off == 0 {
			sleep(p.period, p.stop)
		}
	}
}

// sleep waits for d or an early stop signal, so Close doesn't have to wait
// out a full PWM period before a goroutine notices it.
func sleep(d time.Duration, stop chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}
