package proto

// rxState is the receive state machine of §4.1: Hunt, LenRead, Body(n),
// CrcCheck. CrcCheck is folded into the tail of Body here since the CRC and
// trailing sync are just the last three bytes of a known-length frame.
type rxState int

const (
	stateHunt rxState = iota
	stateLen
	stateBody
)

// Receiver is the byte-level frame decoder. It holds no buffer ownership
// beyond its own accumulation slice, matching §4.1's "hold no locks across
// suspension other than a single receive buffer owned by the reader task".
type Receiver struct {
	state rxState
	buf   [maxFrameLen]byte
	want  int
}

// NewReceiver returns a Receiver ready to read the LEN byte of the first
// frame. A sync byte sent ahead of that frame is skipped.
func NewReceiver() *Receiver {
	return &Receiver{state: stateLen}
}

// Result is what Feed reports after consuming one byte.
type Result int

const (
	// None means the byte was consumed with no frame-level event yet.
	None Result = iota
	// Frame means a complete, CRC-valid frame is available via Receiver.Seq
	// and Receiver.Content.
	Frame
	// BadCRC means a length-plausible frame failed its CRC check (the
	// receiver then reads the next LEN byte) or did not end in the sync
	// byte (the receiver then hunts for the next sync).
	BadCRC
	// BadLen means a LEN byte outside [5,64] was seen; resync initiated.
	BadLen
)

// Feed consumes one received byte and advances the state machine.
func (r *Receiver) Feed(b byte) Result {
	switch r.state {
	case stateHunt:
		if b == Sync {
			r.state = stateLen
		}
		return None
	case stateLen:
		if b == Sync {
			// A sync byte between frames is a separator, never a LEN.
			return None
		}
		if b < minFrameLen || b > maxFrameLen {
			r.state = stateHunt
			return BadLen
		}
		r.buf[0] = b
		r.want = int(b) - 1
		r.state = stateBody
		return None
	case stateBody:
		idx := int(r.buf[0]) - r.want
		r.buf[idx] = b
		r.want--
		if r.want > 0 {
			return None
		}
		r.state = stateLen
		n := int(r.buf[0])
		if r.buf[n-1] != Sync {
			// Not a valid frame boundary at all; the byte we just consumed
			// isn't necessarily the real sync either, so go back to
			// hunting instead of assuming alignment.
			r.state = stateHunt
			return BadCRC
		}
		want := crc16(r.buf[:n-3])
		got := uint16(r.buf[n-3])<<8 | uint16(r.buf[n-2])
		if want != got {
			r.state = stateLen
			return BadCRC
		}
		return Frame
	}
	panic("proto: unreachable receiver state")
}

// Seq returns the sender sequence number (0..15) of the most recently
// completed Frame result. The result is undefined unless Feed just returned
// Frame.
func (r *Receiver) Seq() (uint8, bool) {
	seqByte := r.buf[1]
	if seqByte&0xf0 != seqTag {
		return 0, false
	}
	return seqByte & 0x0f, true
}

// Content returns the CONTENT bytes of the most recently completed Frame
// result. The returned slice aliases the receiver's internal buffer and is
// only valid until the next call to Feed.
func (r *Receiver) Content() []byte {
	n := int(r.buf[0])
	return r.buf[2 : n-3]
}

// Reset returns the receiver to Hunt, discarding any partial frame. Used
// after a fatal transport error such as a UART framing error.
func (r *Receiver) Reset() {
	r.state = stateHunt
	r.want = 0
}
