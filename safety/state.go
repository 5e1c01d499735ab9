// Package safety implements the safety monitor of spec.md §4.6 (C7): the
// process-wide atomic SystemState, software/hardware watchdog checkins,
// and the emergency shutdown sequence with unconditional authority over
// the stepper and heater subsystems.
package safety

import (
	"fmt"
	"sync/atomic"
)

// Kind is one of the four SystemState values of spec.md §3.
type Kind uint8

const (
	Booting Kind = iota
	Ready
	Running
	ShuttingDown
)

func (k Kind) String() string {
	switch k {
	case Booting:
		return "booting"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Reason identifies why the system entered Shutdown, per the reason-code
// enumeration of spec.md §4.6/§7.
type Reason struct {
	Code     string
	Oid      uint8
	HasOid   bool
	TaskName string
}

func (r Reason) String() string {
	switch {
	case r.HasOid:
		return fmt.Sprintf("%s(%d)", r.Code, r.Oid)
	case r.TaskName != "":
		return fmt.Sprintf("%s(%s)", r.Code, r.TaskName)
	default:
		return r.Code
	}
}

const (
	ReasonHostTimeout     = "host_timeout"
	ReasonStepperOverrun  = "stepper_overrun"
	ReasonSensorFault     = "sensor_fault"
	ReasonThermalRunaway  = "thermal_runaway"
	ReasonMaxTemp         = "max_temp"
	ReasonMinTemp         = "min_temp"
	ReasonTaskWatchdog    = "task_watchdog"
	ReasonCommandM112     = "command"
	ReasonParseErrorFatal = "parse_error_fatal"
	ReasonInternalError   = "internal_error"
)

type record struct {
	kind   Kind
	reason Reason
}

// State is the single process-wide SystemState of spec.md §3: atomic,
// one-way into Shutdown, read by every subsystem and written only through
// the transition methods below.
type State struct {
	v atomic.Pointer[record]
}

// NewState returns a State initialized to Booting.
func NewState() *State {
	s := &State{}
	s.v.Store(&record{kind: Booting})
	return s
}

// Kind returns the current state kind.
func (s *State) Kind() Kind { return s.v.Load().kind }

// Reason returns the shutdown reason, valid only when Kind() == ShuttingDown.
func (s *State) Reason() Reason { return s.v.Load().reason }

// SetReady transitions Booting -> Ready. No-op once past Booting.
func (s *State) SetReady() {
	for {
		cur := s.v.Load()
		if cur.kind != Booting {
			return
		}
		if s.v.CompareAndSwap(cur, &record{kind: Ready}) {
			return
		}
	}
}

// SetRunning transitions Ready -> Running. No-op once past Ready, since a
// CompareAndSwap against the wrong prior pointer always fails safely.
func (s *State) SetRunning() {
	for {
		cur := s.v.Load()
		if cur.kind != Ready {
			return
		}
		if s.v.CompareAndSwap(cur, &record{kind: Running}) {
			return
		}
	}
}

// Shutdown transitions unconditionally into Shutdown with reason, unless
// the system is already shutting down. It returns true exactly once, for
// the caller that performed the transition — the safety monitor uses this
// to run the emergency sequence exactly one time regardless of how many
// faults fire concurrently (spec.md §7 "single, serialized shutdown").
func (s *State) Shutdown(reason Reason) bool {
	for {
		cur := s.v.Load()
		if cur.kind == ShuttingDown {
			return false
		}
		next := &record{kind: ShuttingDown, reason: reason}
		if s.v.CompareAndSwap(cur, next) {
			return true
		}
	}
}
