// command mcu-host runs the firmware core on a Linux single-board computer
// acting as the printer's controller, driving real GPIO/ADC/PWM through
// hal/periphio instead of a bare-metal MCU, and talking to the slicer/host
// software over a real serial link via github.com/tarm/serial the way
// driver/mjolnir.Open does for the engraver.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tarm/serial"

	"github.com/tendergrid/mcufw/firmware"
	"github.com/tendergrid/mcufw/hal/periphio"
	"github.com/tendergrid/mcufw/proto"
	"github.com/tendergrid/mcufw/tick"
)

var (
	device     = flag.String("device", "/dev/ttyACM0", "serial device connected to the host")
	baud       = flag.Int("baud", 250000, "serial baud rate")
	pwmPeriod  = flag.Duration("pwm-period", 2*time.Millisecond, "software PWM period for heater outputs")
	tickPeriod = flag.Duration("tick", time.Millisecond, "wall-clock interval between scheduler Tick calls")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcu-host: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := periphio.Open(); err != nil {
		return fmt.Errorf("init periph.io host: %w", err)
	}

	port, err := serial.OpenPort(&serial.Config{Name: *device, Baud: *baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", *device, err)
	}
	defer port.Close()

	clock := &wallClock{start: time.Now()}
	board := periphio.NewBoard(*pwmPeriod)
	defer board.Close()
	fw := firmware.New(board, clock)
	fw.Boot()

	byteCh := make(chan byte, 256)
	go func() {
		defer close(byteCh)
		buf := make([]byte, 256)
		for {
			n, err := port.Read(buf)
			for i := 0; i < n; i++ {
				byteCh <- buf[i]
			}
			if err != nil {
				return
			}
		}
	}()

	ackRx := proto.NewReceiver()
	var frameBuf []byte
	write := func(frames ...[]byte) {
		for _, f := range frames {
			if f == nil {
				continue
			}
			port.Write(f)
		}
	}

	ticker := time.NewTicker(*tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-byteCh:
			if !ok {
				return fmt.Errorf("serial link closed")
			}
			frameBuf = append(frameBuf, b)
			switch ackRx.Feed(b) {
			case proto.Frame:
				content := ackRx.Content()
				if len(content) == 0 {
					frameBuf = nil
					seq, _ := ackRx.Seq()
					write(fw.Ack(seq))
				} else {
					fb := frameBuf
					frameBuf = nil
					var frames [][]byte
					for _, fbb := range fb {
						frames = append(frames, fw.FeedByte(clock.Now(), fbb)...)
					}
					write(frames...)
				}
			case proto.BadCRC, proto.BadLen:
				frameBuf = nil
			}
		case <-ticker.C:
			now := clock.Now()
			fw.Tick(now)
			write(fw.PollRetransmit(now))
		}
	}
}

// wallClock maps real elapsed time onto the firmware's 50MHz tick
// reference; see cmd/mcu-sim for the same adapter against hal/sim.
type wallClock struct{ start time.Time }

func (c *wallClock) Now() tick.Tick {
	return tick.Tick(uint32(time.Since(c.start).Nanoseconds() / (time.Second.Nanoseconds() / tick.Frequency)))
}
