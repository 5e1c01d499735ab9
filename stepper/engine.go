// Package stepper implements the stepper pulse engine (C4) of spec.md
// §4.3: a per-axis timed event queue driving GPIO edges at tick
// resolution. The control-flow shape — a non-blocking callback
// that drains a ring buffer of pending work and reports back how much it
// consumed — is grounded on stepper/stepper.go's fillBuffer/Driver.Run
// split in the source material, adapted from continuous bspline-curve
// following to the spec's run-length StepEvent model.
package stepper

import (
	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/tick"
)

// Engine services every configured axis from a single timer-comparator
// interrupt context, per spec.md §4.3's scheduling loop. It is the only
// component that preempts the cooperative task scheduler (spec.md §5); it
// never blocks and never allocates on its hot path.
type Engine struct {
	Axes []*Axis

	// MaxIdle bounds how far into the future the comparator is reprogrammed
	// when no axis has pending work, so the ISR keeps running often enough
	// to notice newly queued events.
	MaxIdle uint32
	// EpsilonLate is the lateness, in ticks, beyond which a missed
	// deadline is a stepper_overrun rather than ordinary jitter.
	EpsilonLate uint32

	// OnOverrun is called (not from within a lock, safe to act on
	// immediately) when an axis misses its deadline by more than
	// EpsilonLate, per spec.md §4.3 step 4. The safety monitor wires this
	// to its shutdown authority.
	OnOverrun func(oid uint8)
	// OnTrigger is called when an axis halts because it reached an
	// asserted endstop while moving toward it, per spec.md §4.3 "End-stop
	// check".
	OnTrigger func(oid uint8)

	masked bool
}

// Service runs one interrupt-context pass over every axis at tick now. The
// caller is responsible for invoking it no later than the tick returned by
// the previous call's NextDeadline — on real hardware that's the timer
// comparator firing; in the simulator and in tests it's an explicit loop.
func (e *Engine) Service(now tick.Tick) {
	if e.masked {
		return
	}
	for _, a := range e.Axes {
		e.serviceAxis(a, now)
	}
}

// Mask disables the stepper timer interrupt, per spec.md §4.6 emergency
// shutdown step 3. The mask is never cleared; only a new Engine (a full
// reset) services axes again.
func (e *Engine) Mask() { e.masked = true }

// EmergencyHalt clears every axis's queue and, per each axis's
// DisableOnEstop policy bit (spec.md §9 open question), de-energizes its
// enable pin or leaves it asserted to hold position. It does not mask the
// timer itself; callers combine it with Mask per the shutdown sequence.
func (e *Engine) EmergencyHalt() {
	for _, a := range e.Axes {
		a.ClearQueue()
		if a.DisableOnEstop && a.Enable != nil {
			a.Enable.Set(hal.Low)
		}
	}
}

// NextDeadline returns the soonest tick any axis needs servicing at,
// clamped to now+MaxIdle, i.e. the value the hardware comparator should be
// reprogrammed to (spec.md §4.3 step 3).
func (e *Engine) NextDeadline(now tick.Tick) tick.Tick {
	deadline := now.Add(int32(e.MaxIdle))
	for _, a := range e.Axes {
		if a.Invalid() || a.halted {
			continue
		}
		if a.pulse == pulseHigh && a.pulseUntil.Before(deadline) {
			deadline = a.pulseUntil
		}
		if a.hasCurrent && a.nextEdge.Before(deadline) {
			deadline = a.nextEdge
		} else if !a.hasCurrent && a.queue.len() > 0 {
			// An axis with queued work but no current event wants to be
			// serviced promptly so it can start its first event.
			deadline = now
		}
	}
	return deadline
}

func (e *Engine) serviceAxis(a *Axis, now tick.Tick) {
	if a.Invalid() {
		return
	}

	// Phase 1: clear any pulse whose minimum high time has elapsed.
	if a.pulse == pulseHigh && !a.pulseUntil.After(now) {
		a.Step.Set(hal.Low)
		a.pulse = pulseIdle
	}

	// Phase 2: endstop sampling, independent of pulse timing.
	e.checkEndstop(a, now)
	if a.halted {
		return
	}

	// Phase 3: pull in a new event if the axis is idle.
	if !a.hasCurrent {
		qe, ok := a.queue.pop()
		if !ok {
			return
		}
		start := now
		if qe.hasSettle && tick.Tick(qe.settleUntil).After(start) {
			start = tick.Tick(qe.settleUntil)
		}
		a.current = qe
		a.curDir = qe.dir
		a.stepInCur = 0
		a.nextEdge = start
		a.hasCurrent = true
	}

	// Phase 4: overrun detection, per spec.md §4.3 step 4.
	if late := now.Sub(a.nextEdge); late > int32(e.EpsilonLate) {
		a.setInvalid()
		a.ClearQueue()
		if e.OnOverrun != nil {
			e.OnOverrun(a.Oid)
		}
		return
	}

	// Phase 5: emit the edge if it's due (next_t - now <= epsilon).
	if a.nextEdge.Sub(now) > 1 {
		return
	}

	a.Step.Set(hal.High)
	a.pulse = pulseHigh
	a.pulseUntil = now.Add(int32(a.PulseWidth))

	if a.curDir {
		a.position++
	} else {
		a.position--
	}
	gap := int32(a.current.event.IntervalTicks) + int32(a.current.event.Add)*int32(a.stepInCur)
	if gap < 0 {
		gap = 0
	}
	a.stepInCur++

	if a.stepInCur >= a.current.event.Count {
		a.hasCurrent = false
		return
	}
	a.nextEdge = a.nextEdge.Add(gap)
}

// checkEndstop samples the axis's endstop pin (if any) through a 3-sample
// consensus filter and halts the axis if it is moving toward an asserted
// switch, per spec.md §4.3.
func (e *Engine) checkEndstop(a *Axis, now tick.Tick) {
	if a.Endstop == nil || !a.hasCurrent {
		return
	}
	level, err := a.Endstop.Read()
	if err != nil {
		return
	}
	asserted := level == a.EndstopLevel
	a.endstopSamples[a.endstopIdx%len(a.endstopSamples)] = asserted
	a.endstopIdx++
	if a.endstopIdx < len(a.endstopSamples) {
		return
	}
	consensus := true
	for _, s := range a.endstopSamples {
		consensus = consensus && s
	}
	if !consensus || a.curDir != a.EndstopDir {
		return
	}
	a.ClearQueue()
	a.halted = true
	if e.OnTrigger != nil {
		e.OnTrigger(a.Oid)
	}
}

// Resume clears an axis's halted-by-endstop state, allowing new events to
// be serviced again. A fresh Enqueue call does this automatically.
func (a *Axis) Resume() {
	a.halted = false
	a.endstopIdx = 0
}
