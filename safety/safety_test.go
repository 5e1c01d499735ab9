package safety

import (
	"testing"

	"github.com/tendergrid/mcufw/tick"
)

type countingHeaters struct{ calls int }

func (h *countingHeaters) ForceAllOff() { h.calls++ }

type countingSteppers struct{ halts, masks int }

func (s *countingSteppers) EmergencyHalt() { s.halts++ }
func (s *countingSteppers) Mask()          { s.masks++ }

type recordingResponder struct{ reasons []Reason }

func (r *recordingResponder) QueueShutdown(reason Reason) { r.reasons = append(r.reasons, reason) }

func TestStateTransitionsOneWay(t *testing.T) {
	s := NewState()
	if s.Kind() != Booting {
		t.Fatalf("initial kind = %v, want Booting", s.Kind())
	}
	s.SetReady()
	if s.Kind() != Ready {
		t.Fatalf("kind after SetReady = %v, want Ready", s.Kind())
	}
	s.SetRunning()
	if s.Kind() != Running {
		t.Fatalf("kind after SetRunning = %v, want Running", s.Kind())
	}

	first := s.Shutdown(Reason{Code: ReasonHostTimeout})
	if !first {
		t.Fatal("first Shutdown call should report true")
	}
	if s.Kind() != ShuttingDown {
		t.Fatalf("kind after Shutdown = %v, want ShuttingDown", s.Kind())
	}
	second := s.Shutdown(Reason{Code: ReasonStepperOverrun})
	if second {
		t.Fatal("second Shutdown call should report false (already shut down)")
	}
	if got := s.Reason().Code; got != ReasonHostTimeout {
		t.Errorf("reason = %q, want the first reason to stick", got)
	}

	// Once shut down, SetReady/SetRunning must not move the state back.
	s.SetReady()
	s.SetRunning()
	if s.Kind() != ShuttingDown {
		t.Fatal("Shutdown is not one-way")
	}
}

func TestReasonString(t *testing.T) {
	r := Reason{Code: ReasonSensorFault, Oid: 7, HasOid: true}
	if got, want := r.String(), "sensor_fault(7)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	r2 := Reason{Code: ReasonTaskWatchdog, TaskName: "adc"}
	if got, want := r2.String(), "task_watchdog(adc)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestEmergencySequenceRunsExactlyOnce(t *testing.T) {
	heaters := &countingHeaters{}
	steppers := &countingSteppers{}
	responder := &recordingResponder{}
	pets := 0

	m := &Monitor{
		State:       NewState(),
		Heaters:     heaters,
		Steppers:    steppers,
		Responder:   responder,
		HWPetPeriod: 1000,
		PetHW:       func(tick.Tick) { pets++ },
	}
	m.State.SetReady()
	m.State.SetRunning()

	m.Trip(Reason{Code: ReasonStepperOverrun})
	for i := 0; i < 5; i++ {
		m.Service(tick.Tick(i * 100))
	}

	if heaters.calls != 1 {
		t.Errorf("ForceAllOff calls = %d, want 1", heaters.calls)
	}
	if steppers.halts != 1 || steppers.masks != 1 {
		t.Errorf("EmergencyHalt/Mask calls = %d/%d, want 1/1", steppers.halts, steppers.masks)
	}
	if len(responder.reasons) != 1 || responder.reasons[0].Code != ReasonStepperOverrun {
		t.Errorf("QueueShutdown calls = %v, want one stepper_overrun", responder.reasons)
	}
	if pets == 0 {
		t.Error("hardware watchdog never petted")
	}
}

func TestTaskWatchdogOverdueTripsShutdown(t *testing.T) {
	m := &Monitor{State: NewState()}
	m.State.SetReady()
	m.State.SetRunning()
	w := &TaskWatchdog{Name: "adc", BudgetTicks: 500}
	m.Tasks = []*TaskWatchdog{w}

	w.Checkin(0)
	m.Service(100) // within budget
	if m.State.Kind() == ShuttingDown {
		t.Fatal("tripped shutdown before budget exceeded")
	}

	m.Service(700) // 700 - 0 > 500
	if m.State.Kind() != ShuttingDown {
		t.Fatal("did not trip shutdown after watchdog overdue")
	}
	if got := m.State.Reason(); got.Code != ReasonTaskWatchdog || got.TaskName != "adc" {
		t.Errorf("reason = %+v, want task_watchdog(adc)", got)
	}
}
