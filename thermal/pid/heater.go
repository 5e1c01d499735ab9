// Package pid implements the per-heater PID controller of spec.md §4.5
// (C6): target tracking, anti-windup, the heater lifecycle state machine,
// and the runaway/overtemperature interlocks that notify the safety
// monitor. No PID library appears anywhere in the retrieval pack for this
// class of control loop; the formula is implemented from the spec
// directly, following the teacher's plain-struct, no-interface style for
// closed-shape state machines (spec.md §9).
package pid

import (
	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/thermal/sense"
	"github.com/tendergrid/mcufw/tick"
)

// State is a heater's lifecycle state, per spec.md §3's "Heater lifecycle:
// Disabled -> Armed(target>0) -> Tracking -> Disabled ... -> Fault".
type State uint8

const (
	Disabled State = iota
	Armed
	Tracking
	Fault
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Armed:
		return "armed"
	case Tracking:
		return "tracking"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Config is a heater's static configuration, set once at handshake time.
type Config struct {
	Oid    uint8
	PWM    hal.PWMOut
	Enable hal.DigitalOut // optional; some boards gate the heater MOSFET separately
	Sensor *sense.Channel

	Kp, Ki, Kd float64
	IMax       float64
	MaxDuty    float64
	MaxTempC   float64
	MinTempC   float64

	WindowTicks uint32
	MinDeltaC   float64
	TargetHoldC float64

	// OnTrip is called exactly once per Fault transition, so the safety
	// monitor can fold it into a shutdown with the right reason code.
	OnTrip func(oid uint8, reason string)
}

// Heater is the runtime state of one PID-controlled heater.
type Heater struct {
	Config

	state   State
	target  float64
	current float64

	integral    float64
	lastErr     float64
	haveLastErr bool
	lastTick    tick.Tick
	haveLastTick bool

	armedAt       tick.Tick
	armedBaseline float64
	reachedTarget bool

	belowSince    tick.Tick
	hasBelowSince bool
}

// NewHeater returns a Disabled heater ready for SetTarget.
func NewHeater(cfg Config) *Heater {
	h := &Heater{Config: cfg}
	h.applyDuty(0)
	return h
}

// State returns the heater's current lifecycle state.
func (h *Heater) State() State { return h.state }

// CurrentC returns the last temperature reading used by the loop.
func (h *Heater) CurrentC() float64 { return h.current }

// SetTarget sets the heater's target temperature, per spec.md §4.5's
// "when target is set, record armed_at" runaway-arming rule. A target of
// zero drives the heater to Disabled immediately regardless of prior
// state, per spec.md §8 property 5 — except out of Fault, which is
// terminal until reset.
func (h *Heater) SetTarget(now tick.Tick, target float64) {
	if h.state == Fault {
		return
	}
	h.target = target
	if target <= 0 {
		h.state = Disabled
		h.applyDuty(0)
		return
	}
	h.state = Armed
	h.armedAt = now
	h.armedBaseline = h.current
	h.reachedTarget = false
	h.hasBelowSince = false
}

// Service runs one PID period for the heater (spec.md §4.5). now is the
// current tick; dtTicks is the actual elapsed ticks since the previous
// call, used instead of a nominal period so scheduler jitter doesn't
// distort the integral/derivative terms.
func (h *Heater) Service(now tick.Tick, dtTicks uint32) {
	if h.state == Disabled || h.state == Fault {
		return
	}
	if h.Sensor != nil && h.Sensor.Faulted() {
		h.trip("sensor_fault")
		return
	}
	if h.Sensor != nil {
		h.current = h.Sensor.TempC()
	}
	if h.current > h.MaxTempC {
		h.trip("max_temp")
		return
	}
	if h.current < h.MinTempC {
		h.trip("min_temp")
		return
	}

	dt := float64(dtTicks) / tick.Frequency
	err := h.target - h.current

	tentativeIntegral := clamp(h.integral+err*dt, -h.IMax, h.IMax)
	deriv := 0.0
	if h.haveLastErr && dt > 0 {
		deriv = (err - h.lastErr) / dt
	}
	u := h.Kp*err + h.Ki*tentativeIntegral + h.Kd*deriv
	duty := clamp(u, 0, h.MaxDuty)

	saturatedHigh := duty >= h.MaxDuty && err > 0
	saturatedLow := duty <= 0 && err < 0
	if !saturatedHigh && !saturatedLow {
		h.integral = tentativeIntegral
	}

	h.lastErr = err
	h.haveLastErr = true
	h.lastTick = now
	h.haveLastTick = true
	h.applyDuty(duty)

	h.checkRunaway(now)
}

func (h *Heater) checkRunaway(now tick.Tick) {
	if h.state == Armed {
		elapsed := uint32(now.Sub(h.armedAt))
		delta := h.current - h.armedBaseline
		withinHold := (h.target - h.current) <= h.TargetHoldC
		if delta >= h.MinDeltaC || withinHold {
			h.reachedTarget = true
			h.state = Tracking
			return
		}
		if elapsed >= h.WindowTicks {
			h.trip("thermal_runaway")
		}
		return
	}
	if h.state != Tracking {
		return
	}
	if h.current < h.target-h.TargetHoldC {
		if !h.hasBelowSince {
			h.belowSince = now
			h.hasBelowSince = true
		}
		if uint32(now.Sub(h.belowSince)) >= h.WindowTicks {
			h.trip("thermal_runaway")
		}
		return
	}
	h.hasBelowSince = false
}

// ForceOff drives PWM and enable to their off levels unconditionally, for
// the safety monitor's emergency shutdown sequence (spec.md §4.6 step 1).
// It does not touch the lifecycle state, so a heater already in Fault
// stays there.
func (h *Heater) ForceOff() {
	h.applyDuty(0)
}

func (h *Heater) trip(reason string) {
	h.state = Fault
	h.applyDuty(0)
	if h.OnTrip != nil {
		h.OnTrip(h.Oid, reason)
	}
}

func (h *Heater) applyDuty(duty float64) {
	if h.PWM != nil {
		h.PWM.SetDuty(duty)
	}
	if duty == 0 && h.Enable != nil {
		h.Enable.Set(hal.Low)
	} else if h.Enable != nil {
		h.Enable.Set(hal.High)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
