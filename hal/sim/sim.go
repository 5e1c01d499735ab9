// Package sim implements the simulator backend for hal.Board: an in-memory
// model of GPIO/ADC/PWM pins whose state is guarded by mutexes, the
// same request-serialization shape driver/mjolnir/sim.go uses for its
// engraver device simulator. It is the backend behind cmd/mcu-sim and the
// one component tests exercise directly, and it can record every output
// transition to a Trace for the golden-file comparisons spec.md §6/§8 call
// for.
package sim

import (
	"sync"

	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/tick"
)

// Board is a software model of a machine's pins. All access goes through a
// single mutex; the simulator isn't time-critical the way real ISR-shared
// state is; spec.md's single-producer/single-consumer discipline still
// applies one layer up, in the stepper and ADC packages themselves.
type Board struct {
	clock tick.Source
	trace *Trace

	mu   sync.Mutex
	outs map[string]*outPin
	ins  map[string]*inPin
	adcs map[string]*adcChan
	pwms map[string]*pwmChan
}

// NewBoard returns an empty simulated board whose trace recorder, if any,
// timestamps every recorded transition using clock.
func NewBoard(clock tick.Source, trace *Trace) *Board {
	return &Board{
		clock: clock,
		trace: trace,
		outs:  make(map[string]*outPin),
		ins:   make(map[string]*inPin),
		adcs:  make(map[string]*adcChan),
		pwms:  make(map[string]*pwmChan),
	}
}

// DigitalOut implements hal.Board.
func (b *Board) DigitalOut(name string) (hal.DigitalOut, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.outs[name]
	if !ok {
		p = &outPin{name: name, board: b, level: hal.Low}
		b.outs[name] = p
	}
	return p, nil
}

// DigitalIn implements hal.Board.
func (b *Board) DigitalIn(name string) (hal.DigitalIn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.ins[name]
	if !ok {
		p = &inPin{name: name}
		b.ins[name] = p
	}
	return p, nil
}

// AnalogIn implements hal.Board.
func (b *Board) AnalogIn(name string) (hal.AnalogIn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.adcs[name]
	if !ok {
		c = &adcChan{name: name, min: 0, max: 1 << 16}
		b.adcs[name] = c
	}
	return c, nil
}

// PWMOut implements hal.Board.
func (b *Board) PWMOut(name string) (hal.PWMOut, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pwms[name]
	if !ok {
		p = &pwmChan{n: name}
		b.pwms[name] = p
	}
	return p, nil
}

// SetInput drives a named digital input pin, simulating an endstop or
// similar sense line toggling. Tests and the simulator frontend call this;
// firmware code never does.
func (b *Board) SetInput(name string, level hal.Level) {
	in, _ := b.DigitalIn(name)
	in.(*inPin).set(level)
}

// SetRaw drives a named ADC channel's raw reading, simulating a thermistor
// or its disconnection.
func (b *Board) SetRaw(name string, raw int32) {
	a, _ := b.AnalogIn(name)
	a.(*adcChan).setRaw(raw)
}

// PWMDuty returns the last duty cycle a heater's simulated PWM output was
// set to, for test assertions.
func (b *Board) PWMDuty(name string) float64 {
	p, _ := b.PWMOut(name)
	return p.(*pwmChan).duty()
}

// OutputLevel returns a digital output's last driven level, for test
// assertions.
func (b *Board) OutputLevel(name string) hal.Level {
	p, _ := b.DigitalOut(name)
	return p.(*outPin).get()
}

type outPin struct {
	name  string
	board *Board
	mu    sync.Mutex
	level hal.Level
}

func (p *outPin) Set(l hal.Level) error {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
	if p.board.trace != nil {
		p.board.trace.Record(p.board.clock.Now(), p.name, l)
	}
	return nil
}

func (p *outPin) get() hal.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *outPin) Name() string { return p.name }

type inPin struct {
	mu    sync.Mutex
	name  string
	level hal.Level
}

func (p *inPin) Read() (hal.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

func (p *inPin) set(l hal.Level) {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
}

func (p *inPin) Name() string { return p.name }

type adcChan struct {
	mu       sync.Mutex
	name     string
	raw      int32
	min, max int32
}

func (c *adcChan) Measure() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw, nil
}

func (c *adcChan) Range() (int32, int32) {
	return c.min, c.max
}

func (c *adcChan) setRaw(raw int32) {
	c.mu.Lock()
	c.raw = raw
	c.mu.Unlock()
}

func (c *adcChan) Name() string { return c.name }

type pwmChan struct {
	mu sync.Mutex
	d  float64
	n  string
}

func (p *pwmChan) SetDuty(d float64) error {
	p.mu.Lock()
	p.d = d
	p.mu.Unlock()
	return nil
}

func (p *pwmChan) duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.d
}

func (p *pwmChan) Name() string { return p.n }
