package firmware

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/tendergrid/mcufw/command"
	"github.com/tendergrid/mcufw/hal"
	"github.com/tendergrid/mcufw/hal/sim"
	"github.com/tendergrid/mcufw/proto"
	"github.com/tendergrid/mcufw/safety"
	"github.com/tendergrid/mcufw/tick"
)

// Local wire encoders mirroring the VLQ grammar (command/vlq.go), needed
// here only to build test frames; production code never encodes commands,
// only decodes them.

func putVLQ(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			return append(buf, b)
		}
	}
}

func putI32(buf []byte, v int32) []byte {
	return putVLQ(buf, uint32(v<<1)^uint32(v>>31))
}

func putString(buf []byte, s string) []byte {
	buf = putVLQ(buf, uint32(len(s)))
	return append(buf, s...)
}

func putByteArray(buf []byte, b []byte) []byte {
	buf = putVLQ(buf, uint32(len(b)))
	return append(buf, b...)
}

func frameContent(f []byte) []byte {
	return f[2 : len(f)-3]
}

// feedFrame drives every byte of content through s under seq, returning the
// frames the device queued for transmission.
func feedFrame(t *testing.T, s *System, now tick.Tick, seq uint8, content []byte) [][]byte {
	t.Helper()
	f, err := proto.Encode(seq, content)
	if err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	var got [][]byte
	for _, b := range f {
		got = append(got, s.FeedByte(now, b)...)
	}
	return got
}

// ackAll acknowledges every non-ack response frame in frames (anything past
// index 0, the protocol-level ack), freeing the transmitter's single
// in-flight slot so a subsequent drainOutbox call can proceed.
func ackAll(s *System, frames [][]byte) {
	for _, f := range frames[1:] {
		s.Ack(f[1] & 0x0f)
	}
}

func newTestSystem() (*System, *sim.Board, *tick.Virtual) {
	clock := &tick.Virtual{}
	board := sim.NewBoard(clock, nil)
	s := New(board, clock)
	s.Boot()
	return s, board, clock
}

func TestIdentifyReturnsDictionaryBlob(t *testing.T) {
	s, _, clock := newTestSystem()

	content := putVLQ(nil, cmdIdentify)
	content = putVLQ(content, 0)
	content = putVLQ(content, 100)

	frames := feedFrame(t, s, clock.Now(), 0, content)
	if len(frames) < 2 {
		t.Fatalf("got %d frames, want an ack plus a response", len(frames))
	}
	resp := frameContent(frames[1])
	if len(resp) == 0 || resp[0] != tagIdentify {
		t.Fatalf("response tag = %v, want tagIdentify prefix", resp)
	}
}

func TestGetConfigBeforeAndAfterFinalize(t *testing.T) {
	s, _, clock := newTestSystem()

	frames := feedFrame(t, s, clock.Now(), 0, putVLQ(nil, cmdGetConfig))
	resp := frameContent(frames[1])
	if resp[0] != tagConfig || resp[1] != 0 {
		t.Fatalf("get_config before finalize: is_config byte = %d, want 0", resp[1])
	}
	ackAll(s, frames)

	content := putVLQ(nil, cmdFinalizeConfig)
	content = putVLQ(content, 0xdeadbeef)
	frames = feedFrame(t, s, clock.Now(), 1, content)
	ackAll(s, frames)

	frames = feedFrame(t, s, clock.Now(), 2, putVLQ(nil, cmdGetConfig))
	resp = frameContent(frames[1])
	if resp[1] != 1 {
		t.Fatalf("get_config after finalize: is_config byte = %d, want 1", resp[1])
	}
}

func configStepperContent(oid uint8, step, dir, enable string) []byte {
	c := putVLQ(nil, cmdConfigStepper)
	c = putVLQ(c, uint32(oid))
	c = putString(c, step)
	c = putString(c, dir)
	c = putString(c, enable)
	c = putVLQ(c, 10)         // pulse width
	c = putVLQ(c, 5)          // dir setup ticks
	c = putVLQ(c, 0)          // min lookahead
	c = putVLQ(c, 1_000_000)  // max schedule horizon
	c = putVLQ(c, 0)          // disable on estop
	return c
}

func queueStepContent(oid uint8, dir bool, interval uint32, count uint16, add int16) []byte {
	c := putVLQ(nil, cmdQueueStep)
	c = putVLQ(c, uint32(oid))
	d := uint32(0)
	if dir {
		d = 1
	}
	c = putVLQ(c, d)
	c = putVLQ(c, interval)
	c = putVLQ(c, uint32(count))
	c = putI32(c, int32(add))
	return c
}

func TestConfigStepperQueueStepAndPosition(t *testing.T) {
	s, board, clock := newTestSystem()

	content := append(configStepperContent(0, "step0", "dir0", "en0"), queueStepContent(0, true, 1000, 3, 0)...)
	frames := feedFrame(t, s, clock.Now(), 0, content)
	resp := frameContent(frames[1])
	if !bytes.Equal(resp, []byte{tagOK, tagOK}) {
		t.Fatalf("config_stepper+queue_step response = %v, want two OKs", resp)
	}
	ackAll(s, frames)

	if lvl := board.OutputLevel("en0"); lvl != hal.High {
		t.Fatalf("enable pin = %v, want High after NewAxis", lvl)
	}

	for i := 0; i < 5000; i++ {
		now := clock.Advance(1)
		s.Tick(now)
	}

	frames = feedFrame(t, s, clock.Now(), 1, putVLQ(putVLQ(nil, cmdGetPosition), 0))
	resp = frameContent(frames[1])
	if resp[0] != tagPosition {
		t.Fatalf("get_position response tag = %d, want tagPosition", resp[0])
	}
	pos := int32(resp[1])<<24 | int32(resp[2])<<16 | int32(resp[3])<<8 | int32(resp[4])
	if pos != 3 {
		t.Fatalf("axis position = %d, want 3", pos)
	}
}

func TestEmergencyStopRejectsFurtherCommandsExceptStatus(t *testing.T) {
	s, _, clock := newTestSystem()

	frames := feedFrame(t, s, clock.Now(), 0, putVLQ(nil, cmdEmergencyStop))
	ackAll(s, frames)
	if s.State.Kind() != safety.ShuttingDown {
		t.Fatalf("state = %v, want ShuttingDown after m112", s.State.Kind())
	}

	frames = feedFrame(t, s, clock.Now(), 1, putVLQ(nil, cmdGetStatus))
	resp := frameContent(frames[1])
	if resp[0] != tagStatus {
		t.Fatalf("get_status still rejected during shutdown: %v", resp)
	}
	ackAll(s, frames)

	before := s.moveCount
	frames = feedFrame(t, s, clock.Now(), 2, queueStepContent(0, true, 1000, 1, 0))
	resp = frameContent(frames[1])
	if bytes.Equal(resp, []byte{tagOK}) {
		t.Fatal("queue_step should not be honored while shutting down")
	}
	if s.moveCount != before {
		t.Fatal("queue_step must not take effect while shutting down")
	}
}

func TestUnknownCommandGetsUnknownCommandResponse(t *testing.T) {
	s, _, clock := newTestSystem()

	badID := uint32(9999)
	frames := feedFrame(t, s, clock.Now(), 0, putVLQ(nil, badID))
	resp := frameContent(frames[1])
	want := command.EncodeUnknownCommand(badID)
	if !bytes.Equal(resp, want) {
		t.Fatalf("response = %v, want %v", resp, want)
	}
}

// tableBytes packs (raw, milliC) pairs the way handleConfigADCTable expects
// its byte_array parameter, matching the big-endian int32 layout it decodes.
func tableBytes(entries ...[2]int32) []byte {
	buf := make([]byte, 0, 8*len(entries))
	var tmp [4]byte
	for _, e := range entries {
		binary.BigEndian.PutUint32(tmp[:], uint32(e[0]))
		buf = append(buf, tmp[:]...)
		binary.BigEndian.PutUint32(tmp[:], uint32(e[1]))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func TestHeaterRunawayTripsShutdown(t *testing.T) {
	s, board, clock := newTestSystem()
	// Run the PID loop every 1000 ticks instead of the 300ms reference
	// period, so the 200,000-tick runaway window elapses inside the loop below.
	s.PID.Period = 1000

	// A flat table: every raw code reads back as a fixed 20C, modeling a
	// sensor stuck at room temperature while the heater is commanded hot.
	flatTable := tableBytes([2]int32{0, floatToFixed(20)}, [2]int32{4095, floatToFixed(20)})
	adcContent := putVLQ(nil, cmdConfigADCTable)
	adcContent = putVLQ(adcContent, 0)
	adcContent = putString(adcContent, "therm0")
	adcContent = putI32(adcContent, 0)
	adcContent = putI32(adcContent, 4095)
	adcContent = putVLQ(adcContent, 1000)
	adcContent = putVLQ(adcContent, 5000)
	adcContent = putByteArray(adcContent, flatTable)

	heaterContent := putVLQ(nil, cmdConfigHeater)
	heaterContent = putVLQ(heaterContent, 1)
	heaterContent = putString(heaterContent, "heat0")
	heaterContent = putVLQ(heaterContent, 0)
	heaterContent = putI32(heaterContent, floatToFixed(1.0))
	heaterContent = putI32(heaterContent, floatToFixed(0.1))
	heaterContent = putI32(heaterContent, floatToFixed(0))
	heaterContent = putI32(heaterContent, floatToFixed(100))
	heaterContent = putI32(heaterContent, floatToFixed(1))
	heaterContent = putI32(heaterContent, floatToFixed(300))
	heaterContent = putI32(heaterContent, floatToFixed(0))
	heaterContent = putVLQ(heaterContent, 200_000)
	heaterContent = putI32(heaterContent, floatToFixed(1))
	heaterContent = putI32(heaterContent, floatToFixed(2))

	// The two config commands together exceed proto.MaxContentLen, so each
	// goes in its own frame.
	frames := feedFrame(t, s, clock.Now(), 0, adcContent)
	resp := frameContent(frames[1])
	if !bytes.Equal(resp, []byte{tagOK}) {
		t.Fatalf("config_adc_table response = %v, want OK", resp)
	}
	ackAll(s, frames)

	frames = feedFrame(t, s, clock.Now(), 1, heaterContent)
	resp = frameContent(frames[1])
	if !bytes.Equal(resp, []byte{tagOK}) {
		t.Fatalf("config_heater response = %v, want OK", resp)
	}
	ackAll(s, frames)

	board.SetRaw("therm0", 2000) // within [MinRaw,MaxRaw]; the flat table keeps TempC at 20 regardless

	target := putVLQ(nil, cmdSetHeaterTarget)
	target = putVLQ(target, 1)
	target = putI32(target, floatToFixed(50))
	frames = feedFrame(t, s, clock.Now(), 2, target)
	ackAll(s, frames)

	for i := 0; i < 300_000; i++ {
		now := clock.Advance(1)
		s.Tick(now)
	}

	if s.State.Kind() != safety.ShuttingDown {
		t.Fatalf("state = %v, want ShuttingDown after thermal runaway", s.State.Kind())
	}
	if got := s.State.Reason().Code; got != "thermal_runaway" {
		t.Fatalf("reason = %q, want thermal_runaway", got)
	}
}
