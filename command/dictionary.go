// Package command implements the VLQ command grammar and the compile-time
// command dictionary of spec.md §4.2/§6: a dictionary-driven decoder that
// turns a packed stream of VLQ-encoded command IDs and parameters into
// handler calls, plus the "identify" dictionary publication used by the
// host handshake.
package command

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
)

// Kind identifies one of the four parameter kinds the grammar supports.
// The set is closed and known at build time, so it is a tagged variant
// rather than an interface (spec.md §9 design note).
type Kind uint8

const (
	KindU32 Kind = iota
	KindI32
	KindString
	KindByteArray
)

func (k Kind) String() string {
	switch k {
	case KindU32:
		return "u32"
	case KindI32:
		return "i32"
	case KindString:
		return "string"
	case KindByteArray:
		return "byte_array"
	default:
		return "unknown"
	}
}

// Value is a decoded parameter, a fixed-shape tagged union matching Kind.
type Value struct {
	Kind  Kind
	U32   uint32
	I32   int32
	Str   string
	Bytes []byte
}

// Handler is invoked exactly once per decoded command (spec.md §4.2
// "Dispatch contract"). It must return without blocking; long work is
// queued elsewhere and acknowledged asynchronously. The returned bytes, if
// non-nil, are the encoded response content to enqueue for transmission.
type Handler func(args []Value) []byte

// Entry is one compile-time dictionary row: a command ID, its parameter
// schema, and the handler that decodes and acts on it.
type Entry struct {
	ID     uint32
	Name   string
	Params []Kind
	Handle Handler
}

// Dictionary is the compile-time command table, built once at firmware
// startup via New and never mutated afterwards.
type Dictionary struct {
	byID map[uint32]Entry
	// ordered mirrors the entries in declaration order, used for the
	// identify response and for Hash, so dictionary hashes are stable.
	ordered []Entry
}

// New builds a Dictionary from entries. It panics on a duplicate command
// ID, which is a build-time programmer error, not a runtime fault.
func New(entries []Entry) *Dictionary {
	d := &Dictionary{byID: make(map[uint32]Entry, len(entries)), ordered: entries}
	for _, e := range entries {
		if _, dup := d.byID[e.ID]; dup {
			panic("command: duplicate command id in dictionary")
		}
		d.byID[e.ID] = e
	}
	return d
}

// Lookup returns the entry for id, if any.
func (d *Dictionary) Lookup(id uint32) (Entry, bool) {
	e, ok := d.byID[id]
	return e, ok
}

// dictEntryWire is the CBOR-serializable shape of one dictionary entry,
// published to the host during the identify handshake (spec.md §6).
type dictEntryWire struct {
	ID     uint32   `cbor:"id"`
	Name   string   `cbor:"name"`
	Params []string `cbor:"params"`
}

// Encode serializes the [offset, offset+count) slice of the dictionary with
// CBOR, the binary format already used elsewhere in this codebase for
// fixed, compile-time structures, rather than a hand-rolled scheme.
func (d *Dictionary) Encode(offset, count uint32) ([]byte, error) {
	entries := d.ordered
	if int(offset) > len(entries) {
		offset = uint32(len(entries))
	}
	end := offset + count
	if end > uint32(len(entries)) {
		end = uint32(len(entries))
	}
	wire := make([]dictEntryWire, 0, end-offset)
	for _, e := range entries[offset:end] {
		params := make([]string, len(e.Params))
		for i, p := range e.Params {
			params[i] = p.String()
		}
		wire = append(wire, dictEntryWire{ID: e.ID, Name: e.Name, Params: params})
	}
	return cbor.Marshal(wire)
}

// Hash returns the compile-time dictionary hash the host compares against
// after "identify", per spec.md §4.2. It is a SHA-256 over the full
// dictionary's CBOR encoding, truncated to 32 bits since the wire format
// only needs a cheap mismatch check, not cryptographic strength.
func (d *Dictionary) Hash() uint32 {
	blob, err := d.Encode(0, uint32(len(d.ordered)))
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(blob)
	return binary.BigEndian.Uint32(sum[:4])
}

// Len returns the number of entries in the dictionary.
func (d *Dictionary) Len() int {
	return len(d.ordered)
}
