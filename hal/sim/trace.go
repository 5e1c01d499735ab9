package sim

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/tick"
)

// Trace records every GPIO output transition to a JSON Lines stream, the
// "JSON trace file of all GPIO transitions for offline golden-file
// verification" spec.md §6 calls for on the simulator build.
type Trace struct {
	mu sync.Mutex
	enc *json.Encoder
}

// event is one recorded transition.
type event struct {
	Tick  uint32 `json:"tick"`
	Pin   string `json:"pin"`
	Level string `json:"level"`
}

// NewTrace returns a Trace writing JSON Lines to w.
func NewTrace(w io.Writer) *Trace {
	return &Trace{enc: json.NewEncoder(w)}
}

// Record appends one transition. Errors are not surfaced to the firmware
// hot path, matching "never block the ISR on I/O"; a broken trace file
// degrades observability, not correctness.
func (t *Trace) Record(at tick.Tick, pin string, level hal.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := "Low"
	if level == hal.High {
		l = "High"
	}
	t.enc.Encode(event{Tick: uint32(at), Pin: pin, Level: l})
}
