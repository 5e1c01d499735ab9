package sense

import (
	"container/heap"
	"sync/atomic"

	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/tick"
)

// Channel is one configured ADC channel, per spec.md §3's "ADC channel"
// record. The latest sample is published through raw/sampledAt/seq using
// a seqlock-style protocol: publish bumps seq to odd, writes the value and
// tick, then bumps seq to even; Read retries until it observes a stable
// even sequence, giving readers torn-read tolerance without a mutex on
// the sampler's hot path (spec.md §4.4).
type Channel struct {
	Oid uint8
	Pin hal.AnalogIn

	MinRaw, MaxRaw int32
	SamplePeriod   uint32
	FaultLatency   uint32

	Curve Curve

	nextSample tick.Tick

	seq       atomic.Uint32
	raw       int32
	sampledAt uint32

	faultSince    tick.Tick
	hasFaultSince bool
	faulted       atomic.Bool
}

func (c *Channel) publish(raw int32, at tick.Tick) {
	c.seq.Add(1)
	c.raw = raw
	c.sampledAt = uint32(at)
	c.seq.Add(1)
}

// Read returns the latest published (raw, tick) pair, retrying internally
// until it observes a consistent snapshot.
func (c *Channel) Read() (int32, tick.Tick) {
	for {
		s1 := c.seq.Load()
		if s1%2 != 0 {
			continue
		}
		raw, at := c.raw, c.sampledAt
		s2 := c.seq.Load()
		if s1 == s2 {
			return raw, tick.Tick(at)
		}
	}
}

// TempC returns the latest sample converted through the channel's curve.
func (c *Channel) TempC() float64 {
	raw, _ := c.Read()
	return c.Curve.Convert(raw)
}

// Faulted reports whether raw samples have been outside [MinRaw, MaxRaw]
// for at least FaultLatency ticks (spec.md §4.4).
func (c *Channel) Faulted() bool { return c.faulted.Load() }

// heap item support for the sampler's next-sample-tick priority queue.
type chanHeap []*Channel

func (h chanHeap) Len() int            { return len(h) }
func (h chanHeap) Less(i, j int) bool  { return h[i].nextSample.Before(h[j].nextSample) }
func (h chanHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *chanHeap) Push(x interface{}) { *h = append(*h, x.(*Channel)) }
func (h *chanHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Sampler drives every configured channel's round-robin sampling,
// ordered by next_sample_tick in a single priority queue as spec.md §4.4
// describes.
type Sampler struct {
	pending chanHeap
	// OnFault is called whenever a channel's fault state changes, so the
	// safety monitor and PID loop can react (spec.md §4.4 "C7 trips a
	// shutdown of any heater linked to this oid").
	OnFault func(oid uint8, faulted bool)
}

// Add registers ch with the sampler, scheduling its first sample at now.
func (s *Sampler) Add(ch *Channel, now tick.Tick) {
	ch.nextSample = now
	heap.Push(&s.pending, ch)
}

// Service samples every channel whose next_sample_tick has arrived,
// publishing results and updating fault state. Returns the tick the
// caller should next invoke Service at.
func (s *Sampler) Service(now tick.Tick) tick.Tick {
	for len(s.pending) > 0 && !s.pending[0].nextSample.After(now) {
		ch := heap.Pop(&s.pending).(*Channel)
		s.sampleOne(ch, now)
		ch.nextSample = now.Add(int32(ch.SamplePeriod))
		heap.Push(&s.pending, ch)
	}
	if len(s.pending) == 0 {
		return now
	}
	return s.pending[0].nextSample
}

func (s *Sampler) sampleOne(ch *Channel, now tick.Tick) {
	raw, err := ch.Pin.Measure()
	if err != nil {
		raw = ch.MinRaw - 1 // force plausibility failure on a hardware read error
	}
	ch.publish(raw, now)

	plausible := raw >= ch.MinRaw && raw <= ch.MaxRaw
	if plausible {
		ch.hasFaultSince = false
		if ch.faulted.Load() {
			// Sticky: the spec does not describe auto-recovery from a
			// declared sensor fault, only the transient-excursion clear of
			// fault_since before FaultLatency is reached.
		}
		return
	}
	if !ch.hasFaultSince {
		ch.faultSince = now
		ch.hasFaultSince = true
	}
	if !ch.faulted.Load() && now.Sub(ch.faultSince) >= int32(ch.FaultLatency) {
		ch.faulted.Store(true)
		if s.OnFault != nil {
			s.OnFault(ch.Oid, true)
		}
	}
}
