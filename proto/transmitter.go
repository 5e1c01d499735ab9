package proto

import (
	"errors"

	"github.com/tendergrid/mcufw/tick"
)

// ErrHostTimeout is returned by Poll once a pending frame has been
// retransmitted RetxMax times without an ack, per §4.1: "exhaustion
// transitions the system to Shutdown(host_timeout)".
var ErrHostTimeout = errors.New("proto: host_timeout: ack not received after max retransmissions")

// defaultRetxInterval and defaultRetxMax are the values the spec's open
// question leaves unpinned; 50ms/5 retries is consistent with a
// 250kbaud-1Mbaud serial link (spec.md §9), expressed here in ticks of the
// reference 50MHz clock.
const (
	DefaultRetxInterval = tick.Frequency / 20 // 50ms
	DefaultRetxMax      = 5
)

// Transmitter owns the single outbound frame in flight, grounded on
// driver/mjolnir's single writeMut-guarded in-flight write and
// driver/tmc2209's fixed retry/timeout budget around an unacknowledged
// datagram.
type Transmitter struct {
	RetxInterval uint32
	RetxMax      int

	seq     uint8
	pending []byte
	sentAt  tick.Tick
	retries int
}

// NewTransmitter returns a Transmitter configured with the default
// retransmission budget.
func NewTransmitter() *Transmitter {
	return &Transmitter{RetxInterval: DefaultRetxInterval, RetxMax: DefaultRetxMax}
}

// Send frames content under the next outbound sequence number and arms the
// retransmit timer. It fails if a previous frame is still unacked.
func (t *Transmitter) Send(now tick.Tick, content []byte) ([]byte, error) {
	if t.pending != nil {
		return nil, errors.New("proto: previous frame still unacked")
	}
	f, err := Encode(t.seq, content)
	if err != nil {
		return nil, err
	}
	t.pending = f
	t.sentAt = now
	t.retries = 0
	return f, nil
}

// Ack clears the in-flight frame if seq matches its sequence number.
func (t *Transmitter) Ack(seq uint8) {
	if t.pending == nil {
		return
	}
	if (t.pending[1] & 0x0f) == seq&0x0f {
		t.pending = nil
		t.seq = (t.seq + 1) & 0x0f
	}
}

// Poll checks whether the in-flight frame's retransmit deadline has passed.
// It returns the frame bytes to resend, or nil if no action is needed. If
// the retry budget is exhausted it returns ErrHostTimeout.
func (t *Transmitter) Poll(now tick.Tick) ([]byte, error) {
	if t.pending == nil {
		return nil, nil
	}
	if !now.After(t.sentAt.Add(int32(t.RetxInterval))) {
		return nil, nil
	}
	if t.retries >= t.RetxMax {
		return nil, ErrHostTimeout
	}
	t.retries++
	t.sentAt = now
	return t.pending, nil
}

// Idle reports whether there is no frame awaiting acknowledgment.
func (t *Transmitter) Idle() bool {
	return t.pending == nil
}
