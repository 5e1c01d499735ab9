// Package registry implements the oid/object registry of spec.md §3/§4.8
// (C8): a fixed-size table mapping host-assigned small integer handles to
// firmware-owned resources, configured once during the handshake and
// immutable thereafter. The shape is grounded on
// periph.io/x/conn/v3/conn/pins's name registry (Register/ByName over a
// fixed map), generalized from string names to numeric oids and sized at
// startup instead of growing unbounded, per spec.md §9's "no dynamic
// allocation" design note.
package registry

import "fmt"

// Kind tags what sort of resource an oid refers to. The set is closed and
// known at configuration time (spec.md §9), so this is a tagged enum
// rather than an open interface hierarchy.
type Kind uint8

const (
	KindStepper Kind = iota
	KindADC
	KindHeater
	KindEndstop
)

func (k Kind) String() string {
	switch k {
	case KindStepper:
		return "stepper"
	case KindADC:
		return "adc"
	case KindHeater:
		return "heater"
	case KindEndstop:
		return "endstop"
	default:
		return "unknown"
	}
}

// MaxOid is the largest representable oid, per spec.md §3 ("0..255").
const MaxOid = 255

// ErrBadOid is returned for any oid outside [0,255], for lookups against an
// oid that was never allocated, or for a kind mismatch.
var ErrBadOid = fmt.Errorf("registry: bad_oid")

// Registry is a fixed-size, write-once-per-slot table of oid -> resource.
// It owns every stepper, ADC, and heater record for the lifetime of the
// session (spec.md §3 "Ownership"); callers outside the owning subsystem
// hold only the oid, never the record, and must look it up by kind.
type Registry struct {
	entries [MaxOid + 1]entry
}

type entry struct {
	used bool
	kind Kind
	res  any
}

// Allocate assigns resource res of the given kind to oid. It fails if oid
// is out of range or already allocated — re-configuration requires a full
// reset (spec.md §3 "Object ID ... immutable until shutdown").
func (r *Registry) Allocate(oid uint8, kind Kind, res any) error {
	if int(oid) >= len(r.entries) {
		return ErrBadOid
	}
	if r.entries[oid].used {
		return fmt.Errorf("registry: oid %d already allocated", oid)
	}
	r.entries[oid] = entry{used: true, kind: kind, res: res}
	return nil
}

// Lookup returns the resource registered at oid if it exists and matches
// kind.
func (r *Registry) Lookup(oid uint8, kind Kind) (any, error) {
	if int(oid) >= len(r.entries) {
		return nil, ErrBadOid
	}
	e := r.entries[oid]
	if !e.used {
		return nil, ErrBadOid
	}
	if e.kind != kind {
		return nil, fmt.Errorf("registry: oid %d is a %v, not a %v", oid, e.kind, kind)
	}
	return e.res, nil
}

// Each calls fn for every allocated oid of the given kind, in oid order.
// Used by the safety monitor to sweep every heater/stepper without knowing
// their oids in advance.
func (r *Registry) Each(kind Kind, fn func(oid uint8, res any)) {
	for oid, e := range r.entries {
		if e.used && e.kind == kind {
			fn(uint8(oid), e.res)
		}
	}
}

// Reset clears every slot, used only when the MCU is fully reinitialized
// (spec.md §6 "Persisted state layout: none").
func (r *Registry) Reset() {
	r.entries = [MaxOid + 1]entry{}
}
