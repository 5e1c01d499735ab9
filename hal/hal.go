// Package hal defines the hardware abstraction the core firmware programs
// against: digital output/input pins, analog inputs, and PWM outputs. Two
// backends implement it: hal/sim (a mutex-guarded software model used by
// the simulator and unit tests, grounded on driver/mjolnir's Simulator) and
// hal/periphio (real hardware via periph.io/x/conn/v3 and
// periph.io/x/host/v3, grounded on driver/wshat and lcd's use of
// periph.io/x/conn/v3/gpio and periph.io/x/host/v3/bcm283x).
//
// Component code (stepper, thermal, safety) never imports periph.io or the
// simulator directly; it only sees these interfaces, matching spec.md §5's
// "GPIO ports are partitioned by role at configuration time" ownership
// model.
package hal

import "periph.io/x/conn/v3/gpio"

// Level is re-exported from periph.io/x/conn/v3/gpio so callers configuring
// pins don't need to import periph.io themselves.
type Level = gpio.Level

const (
	Low  = gpio.Low
	High = gpio.High
)

// DigitalOut is a single GPIO output pin: step, dir, enable, or a heater's
// raw enable line.
type DigitalOut interface {
	// Set drives the pin to the given level.
	Set(Level) error
	// Name returns a human-readable pin identifier for logging.
	Name() string
}

// DigitalIn is a single GPIO input pin: an endstop or similar sense line.
type DigitalIn interface {
	// Read returns the pin's current level.
	Read() (Level, error)
	Name() string
}

// AnalogIn is a single ADC channel, matching the physical-plausibility
// semantics periph.io/x/conn/v3/analog.ADC defines: a raw integer sample
// and the [min,max] range the hardware can report.
type AnalogIn interface {
	// Measure returns the current raw ADC code.
	Measure() (int32, error)
	// Range returns the [min, max] raw codes the underlying converter can
	// report, used only for diagnostics; plausibility bounds in spec.md §3
	// are configured per-channel independently of the hardware's own range.
	Range() (int32, int32)
	Name() string
}

// PWMOut is a single PWM-capable output, driving a heater's power switch
// at a 0..1 duty cycle.
type PWMOut interface {
	// SetDuty sets the fractional duty cycle in [0,1]. A value of 0 must
	// deterministically drive the physical line to its off level, since the
	// safety monitor relies on duty=0 being "surely off" (spec.md §8
	// property 7).
	SetDuty(duty float64) error
	Name() string
}

// Board groups the handles a single session's configuration phase
// allocates from; it is the minimal interface cmd/mcu-sim and cmd/mcu-host
// need to hand pins to the registry.
type Board interface {
	DigitalOut(name string) (DigitalOut, error)
	DigitalIn(name string) (DigitalIn, error)
	AnalogIn(name string) (AnalogIn, error)
	PWMOut(name string) (PWMOut, error)
}
