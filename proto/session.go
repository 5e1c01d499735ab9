package proto

// Session applies §4.1's sequence discipline on top of a Receiver: it
// tracks expected_seq, decides whether a just-decoded frame is a fresh
// dispatch, a retransmission (re-ack but no re-dispatch), or stale noise to
// ignore outright.
type Session struct {
	rx           *Receiver
	expectedSeq  uint8
	haveExpected bool
}

// NewSession wraps rx with a fresh sequence tracker.
func NewSession(rx *Receiver) *Session {
	return &Session{rx: rx}
}

// Outcome classifies a fully-received frame for the caller.
type Outcome int

const (
	// Dispatch means the frame is new and its content should be handed to
	// the command dispatcher.
	Dispatch Outcome = iota
	// Retransmit means the frame is a duplicate of the last one accepted;
	// its content must be re-acked but not re-dispatched.
	Retransmit
	// Stale means the frame's sequence number is neither the expected one
	// nor the previous one, and must be silently ignored: the host will
	// retransmit on its own timeout.
	Stale
)

// Accept processes one successfully CRC-checked frame (as reported by
// Receiver.Feed returning Frame) and returns how the caller should treat it.
// ackSeq is the sequence number the caller should place in its next
// outbound ack frame.
func (s *Session) Accept() (outcome Outcome, ackSeq uint8, content []byte) {
	seq, ok := s.rx.Seq()
	content = s.rx.Content()
	if !ok {
		return Stale, s.lastAck(), content
	}
	switch {
	case !s.haveExpected || seq == s.expectedSeq:
		s.expectedSeq = (seq + 1) & 0x0f
		s.haveExpected = true
		return Dispatch, seq, content
	case seq == (s.expectedSeq-1)&0x0f:
		return Retransmit, seq, content
	default:
		return Stale, s.lastAck(), content
	}
}

func (s *Session) lastAck() uint8 {
	if !s.haveExpected {
		return 0
	}
	return (s.expectedSeq - 1) & 0x0f
}
