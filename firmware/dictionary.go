package firmware

import (
	"encoding/binary"

	"github.com/tendergrid/mcufw/command"
	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/registry"
	"github.com/tendergrid/mcufw/safety"
	"github.com/tendergrid/mcufw/stepper"
	"github.com/tendergrid/mcufw/thermal/pid"
	"github.com/tendergrid/mcufw/thermal/sense"
)

// Command IDs. Small and dense, as spec.md §4.2 expects of a VLQ-friendly
// dictionary.
const (
	cmdIdentify = iota
	cmdGetConfig
	cmdAllocateOids
	cmdConfigStepper
	cmdConfigEndstop
	cmdConfigADCTable
	cmdConfigADCSteinhart
	cmdConfigHeater
	cmdFinalizeConfig
	cmdQueueStep
	cmdSetHeaterTarget
	cmdGetPosition
	cmdGetUptime
	cmdGetStatus
	cmdEmergencyStop
	cmdGetHeaterTemp
)

// Response tags prefix every handler's returned content, so the host can
// dispatch on response kind the same way it dispatches on command ID.
const (
	tagIdentify byte = iota + 1
	tagConfig
	tagOK
	tagError
	tagPosition
	tagUptime
	tagStatus
	tagHeaterTemp
)

func encodeOK() []byte { return []byte{tagOK} }

func encodeError(code string) []byte {
	return append([]byte{tagError}, code...)
}

func encodeConfig(isConfig bool, crc, moveCount uint32, shutdown bool) []byte {
	buf := make([]byte, 1+1+4+4+1)
	buf[0] = tagConfig
	if isConfig {
		buf[1] = 1
	}
	binary.BigEndian.PutUint32(buf[2:], crc)
	binary.BigEndian.PutUint32(buf[6:], moveCount)
	if shutdown {
		buf[10] = 1
	}
	return buf
}

func encodeUint32Tagged(tag byte, v uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = tag
	binary.BigEndian.PutUint32(buf[1:], v)
	return buf
}

func encodeInt32Tagged(tag byte, v int32) []byte {
	return encodeUint32Tagged(tag, uint32(v))
}

func encodeStatus(kind safety.Kind, reason safety.Reason) []byte {
	buf := []byte{tagStatus, byte(kind)}
	buf = append(buf, reason.String()...)
	return buf
}

// buildDictionary assembles the compile-time command table, per spec.md
// §4.2. Handlers close over s and never block, satisfying the "exactly one
// handler invocation ... no suspension points" dispatch contract.
func (s *System) buildDictionary() []command.Entry {
	return []command.Entry{
		{ID: cmdIdentify, Name: "identify", Params: []command.Kind{command.KindU32, command.KindU32}, Handle: func(a []command.Value) []byte {
			blob, err := s.Dict.Encode(a[0].U32, a[1].U32)
			if err != nil {
				return encodeError("identify_failed")
			}
			return append([]byte{tagIdentify}, blob...)
		}},
		{ID: cmdGetConfig, Name: "get_config", Params: nil, Handle: func(a []command.Value) []byte {
			return encodeConfig(s.configured, s.configCRC, s.moveCount, s.State.Kind() == safety.ShuttingDown)
		}},
		{ID: cmdAllocateOids, Name: "allocate_oids", Params: []command.Kind{command.KindU32}, Handle: func(a []command.Value) []byte {
			return encodeOK()
		}},
		{ID: cmdConfigStepper, Name: "config_stepper", Params: []command.Kind{
			command.KindU32, command.KindString, command.KindString, command.KindString,
			command.KindU32, command.KindU32, command.KindU32, command.KindU32, command.KindU32,
		}, Handle: s.handleConfigStepper},
		{ID: cmdConfigEndstop, Name: "config_endstop", Params: []command.Kind{
			command.KindU32, command.KindU32, command.KindString, command.KindU32, command.KindU32,
		}, Handle: s.handleConfigEndstop},
		{ID: cmdConfigADCTable, Name: "config_adc_table", Params: []command.Kind{
			command.KindU32, command.KindString, command.KindI32, command.KindI32,
			command.KindU32, command.KindU32, command.KindByteArray,
		}, Handle: s.handleConfigADCTable},
		{ID: cmdConfigADCSteinhart, Name: "config_adc_steinhart", Params: []command.Kind{
			command.KindU32, command.KindString, command.KindI32, command.KindI32,
			command.KindU32, command.KindU32, command.KindI32, command.KindI32, command.KindI32,
			command.KindU32, command.KindU32,
		}, Handle: s.handleConfigADCSteinhart},
		{ID: cmdConfigHeater, Name: "config_heater", Params: []command.Kind{
			command.KindU32, command.KindString, command.KindU32,
			command.KindI32, command.KindI32, command.KindI32, command.KindI32,
			command.KindI32, command.KindI32, command.KindI32,
			command.KindU32, command.KindI32, command.KindI32,
		}, Handle: s.handleConfigHeater},
		{ID: cmdFinalizeConfig, Name: "finalize_config", Params: []command.Kind{command.KindU32}, Handle: func(a []command.Value) []byte {
			s.configCRC = a[0].U32
			s.configured = true
			return encodeOK()
		}},
		{ID: cmdQueueStep, Name: "queue_step", Params: []command.Kind{
			command.KindU32, command.KindU32, command.KindU32, command.KindU32, command.KindI32,
		}, Handle: s.handleQueueStep},
		{ID: cmdSetHeaterTarget, Name: "set_heater_target", Params: []command.Kind{command.KindU32, command.KindI32}, Handle: s.handleSetHeaterTarget},
		{ID: cmdGetPosition, Name: "get_position", Params: []command.Kind{command.KindU32}, Handle: s.handleGetPosition},
		{ID: cmdGetUptime, Name: "get_uptime", Params: nil, Handle: func(a []command.Value) []byte {
			return encodeUint32Tagged(tagUptime, uint32(s.Clock.Now()))
		}},
		{ID: cmdGetStatus, Name: "get_status", Params: nil, Handle: func(a []command.Value) []byte {
			return encodeStatus(s.State.Kind(), s.State.Reason())
		}},
		{ID: cmdEmergencyStop, Name: "emergency_stop", Params: nil, Handle: func(a []command.Value) []byte {
			s.Monitor.Trip(safety.Reason{Code: safety.ReasonCommandM112})
			return encodeOK()
		}},
		{ID: cmdGetHeaterTemp, Name: "get_heater_temp", Params: []command.Kind{command.KindU32}, Handle: func(a []command.Value) []byte {
			h := s.PID.ByOid(uint8(a[0].U32))
			if h == nil {
				return encodeError("bad_oid")
			}
			return encodeInt32Tagged(tagHeaterTemp, floatToFixed(h.CurrentC()))
		}},
	}
}

func (s *System) handleConfigStepper(a []command.Value) []byte {
	oid := uint8(a[0].U32)
	step, err1 := s.Board.DigitalOut(a[1].Str)
	dir, err2 := s.Board.DigitalOut(a[2].Str)
	enablePin, err3 := s.Board.DigitalOut(a[3].Str)
	if err1 != nil || err2 != nil || err3 != nil {
		return encodeError("bad_pin")
	}
	axis := stepper.NewAxis(stepper.Config{
		Oid:              oid,
		Step:             step,
		Dir:              dir,
		Enable:           enablePin,
		PulseWidth:       a[4].U32,
		DirSetupTicks:    a[5].U32,
		MinLookahead:     a[6].U32,
		MaxScheduleHoriz: a[7].U32,
		DisableOnEstop:   a[8].U32 != 0,
	})
	if err := s.Reg.Allocate(oid, registry.KindStepper, axis); err != nil {
		return encodeError("bad_oid")
	}
	s.Engine.Axes = append(s.Engine.Axes, axis)
	return encodeOK()
}

func (s *System) handleConfigEndstop(a []command.Value) []byte {
	axisOid := uint8(a[0].U32)
	endstopOid := uint8(a[1].U32)
	pin, err := s.Board.DigitalIn(a[2].Str)
	if err != nil {
		return encodeError("bad_pin")
	}
	if err := s.Reg.Allocate(endstopOid, registry.KindEndstop, pin); err != nil {
		return encodeError("bad_oid")
	}
	res, err := s.Reg.Lookup(axisOid, registry.KindStepper)
	if err != nil {
		return encodeError("bad_oid")
	}
	axis := res.(*stepper.Axis)
	axis.Endstop = pin
	axis.EndstopLevel = levelFromU32(a[3].U32)
	axis.EndstopDir = a[4].U32 != 0
	return encodeOK()
}

func (s *System) handleConfigADCTable(a []command.Value) []byte {
	oid := uint8(a[0].U32)
	pinName, minRaw, maxRaw, period, faultLatency, raw := a[1].Str, a[2].I32, a[3].I32, a[4].U32, a[5].U32, a[6].Bytes
	pin, err := s.Board.AnalogIn(pinName)
	if err != nil {
		return encodeError("bad_pin")
	}
	if len(raw)%8 != 0 {
		return encodeError("parse_error")
	}
	table := make([]sense.TableEntry, 0, len(raw)/8)
	for i := 0; i+8 <= len(raw); i += 8 {
		r := int32(binary.BigEndian.Uint32(raw[i:]))
		milliC := int32(binary.BigEndian.Uint32(raw[i+4:]))
		table = append(table, sense.TableEntry{Raw: r, TempC: fixedToFloat(milliC)})
	}
	ch := &sense.Channel{
		Oid: oid, Pin: pin, MinRaw: minRaw, MaxRaw: maxRaw,
		SamplePeriod: period, FaultLatency: faultLatency,
		Curve: sense.Curve{Kind: sense.CurveTable, Table: table},
	}
	if err := s.Reg.Allocate(oid, registry.KindADC, ch); err != nil {
		return encodeError("bad_oid")
	}
	s.Sampler.Add(ch, s.Clock.Now())
	return encodeOK()
}

func (s *System) handleConfigADCSteinhart(a []command.Value) []byte {
	oid := uint8(a[0].U32)
	pinName := a[1].Str
	minRaw, maxRaw := a[2].I32, a[3].I32
	period, faultLatency := a[4].U32, a[5].U32
	milliA, milliB, milliC := a[6].I32, a[7].I32, a[8].I32
	seriesOhms, adcMax := a[9].U32, a[10].U32
	pin, err := s.Board.AnalogIn(pinName)
	if err != nil {
		return encodeError("bad_pin")
	}
	ch := &sense.Channel{
		Oid: oid, Pin: pin, MinRaw: minRaw, MaxRaw: maxRaw,
		SamplePeriod: period, FaultLatency: faultLatency,
		Curve: sense.Curve{
			Kind: sense.CurveSteinhart,
			// Steinhart-Hart coefficients need finer resolution than
			// milli-units give; scale by 1e7 instead of 1e3 over the wire.
			A: float64(milliA) / 1e7, B: float64(milliB) / 1e7, C: float64(milliC) / 1e7,
			SeriesOhms: float64(seriesOhms), AdcMax: int32(adcMax),
		},
	}
	if err := s.Reg.Allocate(oid, registry.KindADC, ch); err != nil {
		return encodeError("bad_oid")
	}
	s.Sampler.Add(ch, s.Clock.Now())
	return encodeOK()
}

func (s *System) handleConfigHeater(a []command.Value) []byte {
	oid := uint8(a[0].U32)
	pwmName := a[1].Str
	sensorOid := uint8(a[2].U32)
	kp, ki, kd := fixedToFloat(a[3].I32), fixedToFloat(a[4].I32), fixedToFloat(a[5].I32)
	iMax, maxDuty := fixedToFloat(a[6].I32), fixedToFloat(a[7].I32)
	maxTempC, minTempC := fixedToFloat(a[8].I32), fixedToFloat(a[9].I32)
	windowTicks := a[10].U32
	minDeltaC, targetHoldC := fixedToFloat(a[11].I32), fixedToFloat(a[12].I32)

	pwm, err := s.Board.PWMOut(pwmName)
	if err != nil {
		return encodeError("bad_pin")
	}
	var sensor *sense.Channel
	if res, err := s.Reg.Lookup(sensorOid, registry.KindADC); err == nil {
		sensor = res.(*sense.Channel)
	}
	h := pid.NewHeater(pid.Config{
		Oid: oid, PWM: pwm, Sensor: sensor,
		Kp: kp, Ki: ki, Kd: kd, IMax: iMax, MaxDuty: maxDuty,
		MaxTempC: maxTempC, MinTempC: minTempC,
		WindowTicks: windowTicks, MinDeltaC: minDeltaC, TargetHoldC: targetHoldC,
		OnTrip: func(oid uint8, reason string) {
			s.Monitor.Trip(safety.Reason{Code: reason, Oid: oid, HasOid: true})
		},
	})
	if err := s.Reg.Allocate(oid, registry.KindHeater, h); err != nil {
		return encodeError("bad_oid")
	}
	s.PID.Heaters = append(s.PID.Heaters, h)
	return encodeOK()
}

func (s *System) handleQueueStep(a []command.Value) []byte {
	oid := uint8(a[0].U32)
	dir := a[1].U32 != 0
	ev := stepper.StepEvent{IntervalTicks: a[2].U32, Count: uint16(a[3].U32), Add: int16(a[4].I32)}
	res, err := s.Reg.Lookup(oid, registry.KindStepper)
	if err != nil {
		return encodeError("bad_oid")
	}
	axis := res.(*stepper.Axis)
	if err := axis.Enqueue(s.Clock.Now(), dir, ev); err != nil {
		switch err {
		case stepper.ErrQueueFull:
			return encodeError("queue_full")
		case stepper.ErrAxisInvalid:
			return encodeError("invalid_state")
		default:
			return encodeError("bad_schedule")
		}
	}
	s.moveCount++
	return encodeOK()
}

func (s *System) handleSetHeaterTarget(a []command.Value) []byte {
	oid := uint8(a[0].U32)
	target := fixedToFloat(a[1].I32)
	h := s.PID.ByOid(oid)
	if h == nil {
		return encodeError("bad_oid")
	}
	if h.State() == pid.Fault {
		return encodeError("invalid_state")
	}
	h.SetTarget(s.Clock.Now(), target)
	return encodeOK()
}

func (s *System) handleGetPosition(a []command.Value) []byte {
	oid := uint8(a[0].U32)
	res, err := s.Reg.Lookup(oid, registry.KindStepper)
	if err != nil {
		return encodeError("bad_oid")
	}
	axis := res.(*stepper.Axis)
	return encodeInt32Tagged(tagPosition, axis.Position())
}

func levelFromU32(v uint32) hal.Level {
	if v != 0 {
		return hal.High
	}
	return hal.Low
}
