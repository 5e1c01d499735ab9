// Package sense implements the ADC sampler and raw-to-temperature
// conversion of spec.md §4.4 (C5): round-robin channel sampling feeding a
// lock-free single-writer/multi-reader latest-value publication, and the
// two fixed conversion strategies spec.md §9 calls for modeling "as tagged
// variants with fixed shape, not open-ended interfaces".
package sense

import "math"

// CurveKind selects one of the two closed conversion strategies. There is
// no third kind and none is expected; a switch over Kind, not an
// interface, is the shape spec.md §9 asks for.
type CurveKind uint8

const (
	CurveTable CurveKind = iota
	CurveSteinhart
)

// TableEntry is one point of a monotone piecewise-linear lookup table.
type TableEntry struct {
	Raw   int32
	TempC float64
}

// Curve converts a raw ADC code to a temperature in degrees Celsius, using
// either a lookup table or the Steinhart-Hart equation over a voltage
// divider with a thermistor and a fixed series (shunt) resistor — the two
// modes spec.md §4.4 names, fixed per channel at configuration time.
type Curve struct {
	Kind CurveKind

	// Table mode: entries sorted by ascending Raw, 16-64 points per
	// spec.md §4.4.
	Table []TableEntry

	// Steinhart-Hart mode.
	A, B, C    float64
	SeriesOhms float64
	AdcMax     int32
}

// Convert maps a raw ADC sample to degrees Celsius.
func (c Curve) Convert(raw int32) float64 {
	switch c.Kind {
	case CurveSteinhart:
		return c.convertSteinhart(raw)
	default:
		return c.convertTable(raw)
	}
}

func (c Curve) convertTable(raw int32) float64 {
	t := c.Table
	if len(t) == 0 {
		return 0
	}
	if raw <= t[0].Raw {
		return t[0].TempC
	}
	if raw >= t[len(t)-1].Raw {
		return t[len(t)-1].TempC
	}
	for i := 1; i < len(t); i++ {
		if raw > t[i].Raw {
			continue
		}
		lo, hi := t[i-1], t[i]
		frac := float64(raw-lo.Raw) / float64(hi.Raw-lo.Raw)
		return lo.TempC + frac*(hi.TempC-lo.TempC)
	}
	return t[len(t)-1].TempC
}

// convertSteinhart derives thermistor resistance from the divider formed
// by SeriesOhms and the ADC's full-scale code, then applies the
// Steinhart-Hart equation.
func (c Curve) convertSteinhart(raw int32) float64 {
	if raw <= 0 {
		raw = 1
	}
	if raw >= c.AdcMax {
		raw = c.AdcMax - 1
	}
	r := c.SeriesOhms * float64(raw) / float64(c.AdcMax-raw)
	lnR := math.Log(r)
	invT := c.A + c.B*lnR + c.C*lnR*lnR*lnR
	kelvin := 1 / invT
	return kelvin - 273.15
}
