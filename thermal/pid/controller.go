package pid

import "github.com/tendergrid/mcufw/tick"

// Controller runs every configured heater's Service call on the fixed
// pid_period cadence of spec.md §4.5 (reference: 300 ms), from the
// firmware's cooperative `pid` task.
type Controller struct {
	Heaters []*Heater
	Period  uint32

	lastTick tick.Tick
	haveLast bool
}

// Service runs every heater once Period ticks have passed since the
// previous run (and on the first call), and returns the tick the caller
// should next invoke Service at. Calls before that tick do nothing.
func (c *Controller) Service(now tick.Tick) tick.Tick {
	if c.haveLast && now.Before(c.lastTick.Add(int32(c.Period))) {
		return c.lastTick.Add(int32(c.Period))
	}
	var dt uint32
	if c.haveLast {
		dt = uint32(now.Sub(c.lastTick))
	}
	c.lastTick = now
	c.haveLast = true

	for _, h := range c.Heaters {
		h.Service(now, dt)
	}
	return now.Add(int32(c.Period))
}

// ForceAllOff drives every heater's PWM and enable line off, for the
// safety monitor's emergency shutdown sequence (spec.md §4.6 step 1).
func (c *Controller) ForceAllOff() {
	for _, h := range c.Heaters {
		h.ForceOff()
	}
}

// ByOid returns the heater configured with the given oid, or nil.
func (c *Controller) ByOid(oid uint8) *Heater {
	for _, h := range c.Heaters {
		if h.Oid == oid {
			return h
		}
	}
	return nil
}
