package proto

import "errors"

// Wire constants for the frame layout:
//
//	[LEN:1][SEQ:1][CONTENT:LEN-5][CRC16:2][SYNC:1=0x7E]
const (
	Sync = 0x7e

	minFrameLen = 5
	maxFrameLen = 64

	// seqTag is the fixed upper nibble of the SEQ byte.
	seqTag = 0x10
)

// MaxContentLen is the largest CONTENT payload a single frame can carry.
const MaxContentLen = maxFrameLen - minFrameLen

var (
	ErrContentTooLong = errors.New("proto: content exceeds frame capacity")
	ErrBadSeq         = errors.New("proto: sequence nibble out of range")
)

// Encode builds a complete wire frame carrying seq (0..15) and content.
func Encode(seq uint8, content []byte) ([]byte, error) {
	if len(content) > MaxContentLen {
		return nil, ErrContentTooLong
	}
	if seq > 0x0f {
		return nil, ErrBadSeq
	}
	n := minFrameLen + len(content)
	f := make([]byte, n)
	f[0] = byte(n)
	f[1] = seqTag | seq
	copy(f[2:], content)
	crc := crc16(f[:n-3])
	f[n-3] = byte(crc >> 8)
	f[n-2] = byte(crc)
	f[n-1] = Sync
	return f, nil
}
