// Package firmware wires C1-C8 together into the cooperative scheduler of
// spec.md §5: the proto_rx/proto_tx/adc/pid/safety tasks, the startup
// handshake of spec.md §6, and the command dictionary that routes decoded
// commands into the stepper, thermal, and registry subsystems. This is the
// `System` a cmd/ binary constructs and drives.
package firmware

import (
	"github.com/tendergrid/mcufw/command"
	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/proto"
	"github.com/tendergrid/mcufw/registry"
	"github.com/tendergrid/mcufw/safety"
	"github.com/tendergrid/mcufw/stepper"
	"github.com/tendergrid/mcufw/thermal/pid"
	"github.com/tendergrid/mcufw/thermal/sense"
	"github.com/tendergrid/mcufw/tick"
)

// milli is the fixed-point scale used to carry degrees-Celsius and PID gain
// quantities over the VLQ grammar, which has no floating-point kind
// (spec.md §6 "Command grammar"). 1000 milli-units = 1.0 of the unit,
// matching the resolution a 16-bit ADC and a thermistor curve can usefully
// resolve.
const milli = 1000

func fixedToFloat(v int32) float64 { return float64(v) / milli }
func floatToFixed(f float64) int32 { return int32(f * milli) }

// System is the assembled firmware core: every component from the module
// map, wired through the object registry and the command dictionary.
type System struct {
	Board hal.Board
	Clock tick.Source

	Reg     *registry.Registry
	Engine  *stepper.Engine
	Sampler *sense.Sampler
	PID     *pid.Controller
	State   *safety.State
	Monitor *safety.Monitor

	Rx      *proto.Receiver
	Session *proto.Session
	Tx      *proto.Transmitter
	Dict    *command.Dictionary
	Disp    *command.Dispatcher

	outbox []byte // queued response content awaiting a frame slot

	configured bool
	configCRC  uint32
	moveCount  uint32
}

// New assembles a System against board, ready to receive the host
// handshake. clock supplies every tick-dependent subsystem.
func New(board hal.Board, clock tick.Source) *System {
	s := &System{
		Board:   board,
		Clock:   clock,
		Reg:     &registry.Registry{},
		Engine:  &stepper.Engine{MaxIdle: tick.Frequency / 100, EpsilonLate: 2},
		Sampler: &sense.Sampler{},
		PID:     &pid.Controller{Period: tick.Frequency * 3 / 10}, // 300ms reference period
		State:   safety.NewState(),
		Rx:      proto.NewReceiver(),
		Tx:      proto.NewTransmitter(),
	}
	s.Session = proto.NewSession(s.Rx)
	s.Sampler.OnFault = func(oid uint8, faulted bool) {
		if !faulted {
			return
		}
		s.Monitor.Trip(safety.Reason{Code: safety.ReasonSensorFault, Oid: oid, HasOid: true})
	}
	s.Engine.OnOverrun = func(oid uint8) {
		s.Monitor.Trip(safety.Reason{Code: safety.ReasonStepperOverrun, Oid: oid, HasOid: true})
	}
	s.Engine.OnTrigger = func(oid uint8) {
		s.queueResponse(encodeTrigger(oid))
	}
	s.Monitor = &safety.Monitor{
		State:       s.State,
		HWPetPeriod: tick.Frequency / 20,
		Heaters:     s.PID,
		Steppers:    s.Engine,
		Responder:   responderFunc(s.queueShutdown),
	}
	s.Dict = command.New(s.buildDictionary())
	s.Disp = &command.Dispatcher{Dict: s.Dict}
	return s
}

type responderFunc func(reason safety.Reason)

func (f responderFunc) QueueShutdown(reason safety.Reason) { f(reason) }

func (s *System) queueShutdown(reason safety.Reason) {
	buf := []byte("shutdown:")
	buf = append(buf, reason.String()...)
	s.queueResponse(buf)
}

func encodeTrigger(oid uint8) []byte {
	return []byte{'t', 'r', 'i', 'g', 'g', 'e', 'r', ':', oid}
}

func (s *System) queueResponse(content []byte) {
	s.outbox = append(s.outbox, content...)
}

// Boot transitions Booting -> Ready, per spec.md §3.
func (s *System) Boot() {
	s.State.SetReady()
}

// FeedByte advances the protocol receiver by one byte, per spec.md §4.1.
// It runs the full receive-to-dispatch pipeline for any frame the byte
// completes and returns frames ready for transmission (the dispatch's ack
// plus any queued responses), or nil if nothing is ready yet.
func (s *System) FeedByte(now tick.Tick, b byte) [][]byte {
	switch s.Rx.Feed(b) {
	case proto.Frame:
		return s.handleFrame(now)
	default:
		return nil
	}
}

func (s *System) handleFrame(now tick.Tick) [][]byte {
	outcome, ackSeq, content := s.Session.Accept()
	if outcome == proto.Stale {
		return nil
	}

	s.State.SetRunning()

	if outcome == proto.Dispatch {
		if s.State.Kind() == safety.ShuttingDown {
			s.dispatchWhileShutdown(content)
		} else {
			for _, r := range s.Disp.Dispatch(content) {
				s.queueResponse(r)
			}
		}
	}

	var frames [][]byte
	if f, err := proto.Encode(ackSeq, nil); err == nil {
		frames = append(frames, f)
	}
	if f := s.drainOutbox(now); f != nil {
		frames = append(frames, f)
	}
	return frames
}

// drainOutbox sends the next queued response chunk, if the transmitter has
// no frame already in flight. Only one frame may be outstanding at a time
// (spec.md §4.1), so any remainder stays queued until the in-flight frame
// is acked and PollRetransmit or the next handleFrame call drains it.
func (s *System) drainOutbox(now tick.Tick) []byte {
	if len(s.outbox) == 0 || !s.Tx.Idle() {
		return nil
	}
	chunk := s.outbox
	if len(chunk) > proto.MaxContentLen {
		chunk = chunk[:proto.MaxContentLen]
	}
	f, err := s.Tx.Send(now, chunk)
	if err != nil {
		return nil
	}
	s.outbox = s.outbox[len(chunk):]
	return f
}

// dispatchWhileShutdown rejects every command except get_status and
// identify, per spec.md §4.6 step 5.
func (s *System) dispatchWhileShutdown(content []byte) {
	id, ok := firstCommandID(content)
	if !ok {
		return
	}
	if id == cmdGetStatus || id == cmdIdentify {
		for _, r := range s.Disp.Dispatch(content) {
			s.queueResponse(r)
		}
		return
	}
	s.queueShutdown(s.State.Reason())
}

// firstCommandID peeks the leading VLQ command ID without consuming it,
// so dispatchWhileShutdown can gate a whole frame on its first command.
func firstCommandID(content []byte) (uint32, bool) {
	var v uint32
	for i := 0; i < len(content) && i < 5; i++ {
		b := content[i]
		v |= uint32(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, true
		}
	}
	return 0, false
}

// Tick drives every periodic task — ADC sampling, PID, and the safety
// monitor — for the caller's cooperative scheduler loop, and runs the
// stepper ISR pass. It returns the tick the caller should next call Tick
// at, the minimum of every subsystem's own deadline.
func (s *System) Tick(now tick.Tick) tick.Tick {
	s.Engine.Service(now)

	next := s.Engine.NextDeadline(now)
	if adcNext := s.Sampler.Service(now); adcNext.Before(next) {
		next = adcNext
	}
	if pidNext := s.PID.Service(now); pidNext.Before(next) {
		next = pidNext
	}
	s.Monitor.Service(now)
	return next
}

// PollRetransmit returns a frame to resend if the transmitter's retry
// deadline has passed, or the next queued response if the transmitter sits
// idle with outbox work waiting (an OnTrigger/shutdown notification queued
// outside of a received frame's response cycle). Tripping host_timeout
// shutdown if retries are exhausted. Separated from Tick so transport code
// can write the result.
func (s *System) PollRetransmit(now tick.Tick) []byte {
	f, err := s.Tx.Poll(now)
	if err != nil {
		s.Monitor.Trip(safety.Reason{Code: safety.ReasonHostTimeout})
		return nil
	}
	if f != nil {
		return f
	}
	return s.drainOutbox(now)
}

// Ack processes an acknowledgment for an outbound frame, per spec.md §4.1,
// and immediately sends the next queued response chunk, if any, now that
// the transmitter has freed its single in-flight slot.
func (s *System) Ack(seq uint8) []byte {
	s.Tx.Ack(seq)
	return s.drainOutbox(s.Clock.Now())
}
