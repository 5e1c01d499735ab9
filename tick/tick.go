// Package tick implements the firmware's monotonic clock: a free-running
// 32-bit tick counter and the wrap-safe arithmetic needed to compare
// absolute tick values scheduled far enough apart to wrap around.
package tick

// Tick is an absolute point on the firmware's monotonic clock, counted in
// ticks of the reference 50 MHz virtual clock. Values wrap at 2^32 and must
// only ever be compared with Before/After/Sub, never with plain <, >, -.
type Tick uint32

// Frequency is the reference firmware clock rate in Hz.
const Frequency = 50_000_000

// Before reports whether t happens strictly before o, tolerating a single
// wraparound the way (a - b) as i32 < 0 does in the source material.
func (t Tick) Before(o Tick) bool {
	return int32(t-o) < 0
}

// After reports whether t happens strictly after o.
func (t Tick) After(o Tick) bool {
	return int32(t-o) > 0
}

// Sub returns the signed distance from o to t, i.e. t - o interpreted as a
// wrap-safe delta. It is only meaningful for ticks within 2^31 of each other.
func (t Tick) Sub(o Tick) int32 {
	return int32(t - o)
}

// Add returns the tick d ticks after t. d may be negative.
func (t Tick) Add(d int32) Tick {
	return Tick(int32(t) + d)
}

// Source is anything that can report the current tick. Tasks and the ISR
// both read it; the only implementation in production is a free-running
// hardware timer, but tests and the simulator supply a Virtual clock.
type Source interface {
	Now() Tick
}

// Virtual is a software clock driven by an external stepper, used by the
// simulator and by unit tests in place of the real hardware timer.
type Virtual struct {
	now Tick
}

// Now implements Source.
func (v *Virtual) Now() Tick {
	return v.now
}

// Advance moves the virtual clock forward by d ticks and returns the new
// value. d must be non-negative; the firmware clock never runs backwards.
func (v *Virtual) Advance(d uint32) Tick {
	v.now = v.now.Add(int32(d))
	return v.now
}

// Set forces the virtual clock to an absolute value, used by tests that
// need to exercise wraparound near the 2^32 boundary.
func (v *Virtual) Set(t Tick) {
	v.now = t
}
