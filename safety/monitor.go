package safety

import "github.com/tendergrid/mcufw/tick"

// Heaters is the minimal authority the safety monitor needs over C6 during
// an emergency shutdown.
type Heaters interface {
	ForceAllOff()
}

// Steppers is the minimal authority the safety monitor needs over C4
// during an emergency shutdown.
type Steppers interface {
	EmergencyHalt()
	Mask()
}

// Responder lets the safety monitor queue a shutdown notification for
// transmission, per spec.md §4.6 step 4.
type Responder interface {
	QueueShutdown(reason Reason)
}

// TaskWatchdog tracks one cooperative task's last checkin tick against its
// configured budget, per spec.md §4.6 "poll each other task's software
// watchdog".
type TaskWatchdog struct {
	Name        string
	BudgetTicks uint32

	lastCheckin tick.Tick
	haveCheckin bool
}

// Checkin records that Name made progress at now. Tasks call this from
// their own loop; the monitor never calls it on a task's behalf.
func (w *TaskWatchdog) Checkin(now tick.Tick) {
	w.lastCheckin = now
	w.haveCheckin = true
}

func (w *TaskWatchdog) overdue(now tick.Tick) bool {
	if !w.haveCheckin {
		return false
	}
	return uint32(now.Sub(w.lastCheckin)) > w.BudgetTicks
}

// Monitor is the C7 safety task: it pets the hardware watchdog, polls
// every registered TaskWatchdog, and executes the emergency shutdown
// sequence exactly once when State transitions to Shutdown.
type Monitor struct {
	State *State

	HWPetPeriod uint32
	PetHW       func(now tick.Tick)

	Tasks []*TaskWatchdog

	Heaters   Heaters
	Steppers  Steppers
	Responder Responder

	lastPet    tick.Tick
	havePet    bool
	ranSequence bool
}

// Service runs one pass of the safety monitor's 10 ms-deadline loop
// (spec.md §4.6): pet the watchdog, check every task's budget, and run
// the emergency sequence idempotently if the state has shifted to
// Shutdown.
func (m *Monitor) Service(now tick.Tick) {
	if m.PetHW != nil && (!m.havePet || uint32(now.Sub(m.lastPet)) >= m.HWPetPeriod) {
		m.PetHW(now)
		m.lastPet = now
		m.havePet = true
	}

	if m.State.Kind() != ShuttingDown {
		for _, w := range m.Tasks {
			if w.overdue(now) {
				m.State.Shutdown(Reason{Code: ReasonTaskWatchdog, TaskName: w.Name})
				break
			}
		}
	}

	if m.State.Kind() == ShuttingDown {
		m.runSequenceOnce(now)
	}
}

// Trip forces an immediate shutdown with reason, from any subsystem that
// detects a safety-critical condition directly (stepper overrun, sensor
// fault, thermal runaway, an M112 command, a fatal parse error).
func (m *Monitor) Trip(reason Reason) {
	m.State.Shutdown(reason)
}

// runSequenceOnce performs spec.md §4.6's emergency shutdown steps 1-4
// exactly once: heaters off, steppers halted and masked, the shutdown
// response queued through Responder, and a watchdog pet. Step 5 (rejecting
// further commands) is the responsibility of the command dispatcher, which
// consults m.State on every received command.
func (m *Monitor) runSequenceOnce(now tick.Tick) {
	if m.ranSequence {
		return
	}
	m.ranSequence = true
	if m.Heaters != nil {
		m.Heaters.ForceAllOff()
	}
	if m.Steppers != nil {
		m.Steppers.EmergencyHalt()
		m.Steppers.Mask()
	}
	if m.Responder != nil {
		m.Responder.QueueShutdown(m.State.Reason())
	}
	if m.PetHW != nil {
		m.PetHW(now)
		m.lastPet = now
		m.havePet = true
	}
}
