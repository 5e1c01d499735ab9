package sense

import (
	"testing"

	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/tick"
)

type fakeADC struct {
	raw      int32
	err      error
	min, max int32
}

func (f *fakeADC) Measure() (int32, error)  { return f.raw, f.err }
func (f *fakeADC) Range() (int32, int32)    { return f.min, f.max }
func (f *fakeADC) Name() string             { return "fake" }

var _ hal.AnalogIn = (*fakeADC)(nil)

func TestTableConvertMonotone(t *testing.T) {
	c := Curve{Kind: CurveTable, Table: []TableEntry{
		{Raw: 100, TempC: 0},
		{Raw: 500, TempC: 50},
		{Raw: 900, TempC: 100},
	}}
	if got := c.Convert(300); got != 25 {
		t.Errorf("Convert(300) = %v, want 25", got)
	}
	if got := c.Convert(0); got != 0 {
		t.Errorf("Convert(below range) = %v, want clamp to 0", got)
	}
	if got := c.Convert(2000); got != 100 {
		t.Errorf("Convert(above range) = %v, want clamp to 100", got)
	}
}

func TestSteinhartMonotone(t *testing.T) {
	c := Curve{Kind: CurveSteinhart, A: 0.0008, B: 0.0002, C: 0.0000001, SeriesOhms: 4700, AdcMax: 4096}
	lo := c.Convert(1000)
	hi := c.Convert(3000)
	// The thermistor sits on the ground side of the divider: a higher raw
	// code means more resistance, which for an NTC means a lower temperature.
	if !(lo > hi) {
		t.Errorf("Steinhart not monotone (decreasing) in raw: Convert(1000)=%v, Convert(3000)=%v", lo, hi)
	}
}

func TestChannelReadRoundTrip(t *testing.T) {
	ch := &Channel{MinRaw: 0, MaxRaw: 4095}
	ch.publish(1234, tick.Tick(500))
	raw, at := ch.Read()
	if raw != 1234 || at != 500 {
		t.Errorf("Read() = (%d, %d), want (1234, 500)", raw, at)
	}
}

func TestFaultAfterLatency(t *testing.T) {
	adc := &fakeADC{raw: 100, min: 0, max: 4095}
	ch := &Channel{Oid: 3, Pin: adc, MinRaw: 0, MaxRaw: 4095, SamplePeriod: 100, FaultLatency: 300}
	var faults []bool
	s := &Sampler{OnFault: func(oid uint8, faulted bool) {
		if oid != 3 {
			t.Errorf("OnFault oid = %d, want 3", oid)
		}
		faults = append(faults, faulted)
	}}
	s.Add(ch, 0)

	adc.raw = 5000 // out of plausible range
	now := tick.Tick(0)
	for i := 0; i < 3; i++ {
		now = s.Service(now)
		if ch.Faulted() {
			t.Fatalf("faulted too early at tick %d", now)
		}
	}
	now = s.Service(now)
	if !ch.Faulted() {
		t.Fatalf("expected fault declared by tick %d", now)
	}
	if len(faults) != 1 || !faults[0] {
		t.Errorf("OnFault calls = %v, want exactly one true", faults)
	}
}

func TestTransientExcursionClears(t *testing.T) {
	adc := &fakeADC{raw: 5000, min: 0, max: 4095}
	ch := &Channel{Oid: 1, Pin: adc, MinRaw: 0, MaxRaw: 4095, SamplePeriod: 100, FaultLatency: 1000}
	s := &Sampler{}
	s.Add(ch, 0)

	now := tick.Tick(0)
	now = s.Service(now) // out of range, fault_since set

	adc.raw = 100 // back in range before fault_latency elapses
	now = s.Service(now)
	if ch.hasFaultSince {
		t.Error("transient excursion did not clear fault_since")
	}
	if ch.Faulted() {
		t.Error("channel should not be faulted after clearing excursion")
	}
}
