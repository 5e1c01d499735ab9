package stepper

import (
	"errors"
	"sync/atomic"

	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/tick"
)

// StepEvent is a run-length-encoded sequence of pulses, per spec.md §3: the
// first interval is IntervalTicks and each subsequent one is incremented by
// Add, compatible with the host planner's acceleration output.
type StepEvent struct {
	IntervalTicks uint32
	Count         uint16
	Add           int16
}

var (
	ErrQueueFull     = errors.New("stepper: queue_full")
	ErrBadSchedule   = errors.New("stepper: enqueue outside lookahead/horizon bounds")
	ErrAxisInvalid   = errors.New("stepper: axis is in the invalid state, reset required")
	ErrAxisDisabled  = errors.New("stepper: axis has no configured driver pins")
)

// Config is an axis's static, configuration-time-only setup. None of it
// changes after the handshake configures the axis (spec.md §3 "immutable
// until shutdown").
type Config struct {
	Oid uint8

	Step, Dir, Enable hal.DigitalOut
	Endstop           hal.DigitalIn
	// EndstopLevel is the pin level that means the switch is asserted.
	EndstopLevel hal.Level
	// EndstopDir is the logical direction ("positive" per Enqueue's dir
	// argument) that moves the axis toward its endstop.
	EndstopDir bool
	// DisableOnEstop is the per-axis policy bit spec.md §9 calls for: some
	// axes must stay energized during an e-stop to hold position.
	DisableOnEstop bool

	MinStepInterval uint32
	// PulseWidth is the minimum step-pin high time in ticks.
	PulseWidth uint32
	// DirSetupTicks is the mandatory settle delay after a direction change,
	// before the next edge may fire.
	DirSetupTicks uint32

	MinLookahead     uint32
	MaxScheduleHoriz uint32
}

// pulseState tracks the two-phase set-now/clear-later step pulse emission
// spec.md §4.3 describes.
type pulseState uint8

const (
	pulseIdle pulseState = iota
	pulseHigh
)

// Axis is the per-axis runtime state of spec.md §3's "Stepper state". All
// fields below the config are owned by the scheduling/ISR loop except
// position, which the ISR writes and tasks read as an atomic snapshot.
type Axis struct {
	Config

	queue ring

	position int32 // atomic

	invalid uint32 // atomic bool

	// ISR-owned scheduling state; never touched by a task.
	hasCurrent bool
	current    queuedEvent
	stepInCur  uint16
	nextEdge   tick.Tick
	curDir     bool

	pulse      pulseState
	pulseUntil tick.Tick

	// endstop consensus filter (spec.md §4.3 "3-sample consensus filter").
	endstopSamples [3]bool
	endstopIdx     int
	halted         bool

	// lastEnqueuedDir is compared at each Enqueue to decide whether a
	// direction-change settle delay applies.
	lastEnqueuedDir bool
	haveLastDir     bool
}

// NewAxis returns an Axis configured per cfg, enabled and idle.
func NewAxis(cfg Config) *Axis {
	a := &Axis{Config: cfg}
	if a.Enable != nil {
		a.Enable.Set(hal.High)
	}
	return a
}

// Invalid reports whether the axis has been marked invalid by an
// out-of-spec pulse request (spec.md §3).
func (a *Axis) Invalid() bool {
	return atomic.LoadUint32(&a.invalid) != 0
}

func (a *Axis) setInvalid() {
	atomic.StoreUint32(&a.invalid, 1)
}

// Position returns an atomic snapshot of the axis's step position, per
// spec.md §4.3 "get_position(oid) returns an atomic snapshot".
func (a *Axis) Position() int32 {
	return atomic.LoadInt32(&a.position)
}

// QueueLen returns the number of events currently queued, for diagnostics
// and tests.
func (a *Axis) QueueLen() int {
	return a.queue.len()
}

// Enqueue appends ev to the axis's event queue, moving in logical direction
// dir (true/false map to the two latched GPIO states). now is the
// scheduler's current tick, used to validate the lookahead/horizon bounds
// of spec.md §3.
//
// Direction is latched on the GPIO pin immediately, matching "direction is
// latched on GPIO at enqueue time per event" (spec.md §4.3): a command
// handler calling Enqueue is exactly the task-level context that owns the
// dir pin before the event ever reaches the ISR.
func (a *Axis) Enqueue(now tick.Tick, dir bool, ev StepEvent) error {
	if a.Invalid() {
		return ErrAxisInvalid
	}
	if a.Step == nil || a.Dir == nil {
		return ErrAxisDisabled
	}
	if a.queue.full() {
		return ErrQueueFull
	}

	qe := queuedEvent{event: ev, dir: dir}
	if !a.haveLastDir || dir != a.lastEnqueuedDir {
		level := hal.Low
		if dir {
			level = hal.High
		}
		a.Dir.Set(level)
		qe.settleUntil = uint32(now) + a.DirSetupTicks
		qe.hasSettle = true
		a.lastEnqueuedDir = dir
		a.haveLastDir = true
	}

	// Validate the first edge of this event lands within the lookahead and
	// horizon bounds. We approximate "next edge" conservatively using the
	// event's own first interval added to now, since the exact queue
	// drain time depends on events ahead of it in the queue and is the
	// ISR's business, not the enqueuing task's.
	firstEdge := uint32(now) + ev.IntervalTicks
	if qe.hasSettle && qe.settleUntil > firstEdge {
		firstEdge = qe.settleUntil
	}
	delta := firstEdge - uint32(now)
	if delta < a.MinLookahead || delta > a.MaxScheduleHoriz {
		return ErrBadSchedule
	}

	if !a.queue.push(qe) {
		return ErrQueueFull
	}
	a.Resume()
	return nil
}

// ClearQueue drops all pending events without affecting position or the
// enable pin, used by an endstop trigger and by emergency shutdown.
func (a *Axis) ClearQueue() {
	a.queue.clear()
	a.hasCurrent = false
}
