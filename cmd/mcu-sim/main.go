// command mcu-sim runs the firmware core against the in-memory hal/sim
// backend behind a Unix domain socket, standing in for the real UART link
// so the host side (cmd/bridge, or a host-side test harness) can drive and
// observe the firmware without any hardware attached. Every GPIO
// transition can optionally be recorded to a JSON Lines trace file for
// offline golden-file comparison, per spec.md §6/§8.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/tendergrid/mcufw/firmware"
	"github.com/tendergrid/mcufw/hal/sim"
	"github.com/tendergrid/mcufw/proto"
	"github.com/tendergrid/mcufw/tick"
)

var (
	socketPath = flag.String("socket", "/tmp/mcu-sim.sock", "unix domain socket to listen on for the host link")
	tracePath  = flag.String("trace", "", "write a JSON Lines GPIO transition trace to this path")
	printHash  = flag.Bool("dict-hash", false, "print the command dictionary hash and exit")
	tickPeriod = flag.Duration("tick", time.Millisecond, "wall-clock interval between scheduler Tick calls")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mcu-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	var trace *sim.Trace
	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer f.Close()
		trace = sim.NewTrace(f)
	}

	clock := &wallClock{start: time.Now()}
	board := sim.NewBoard(clock, trace)
	fw := firmware.New(board, clock)
	fw.Boot()

	if *printHash {
		fmt.Println(fw.Dict.Hash())
		return nil
	}

	os.Remove(*socketPath)
	ln, err := net.Listen("unix", *socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *socketPath, err)
	}
	defer ln.Close()
	log.Printf("mcu-sim: listening on %s", *socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		log.Printf("mcu-sim: host connected")
		serve(conn, fw, clock, *tickPeriod)
		log.Printf("mcu-sim: host disconnected")
	}
}

// wallClock maps real elapsed time onto the firmware's 50MHz tick
// reference, so mcu-sim's scheduling runs at roughly real speed instead of
// the single-stepped ticks unit tests drive the core with.
type wallClock struct{ start time.Time }

func (c *wallClock) Now() tick.Tick {
	return tick.Tick(uint32(time.Since(c.start).Nanoseconds() / (time.Second.Nanoseconds() / tick.Frequency)))
}

// serve drives one host connection end to end: a reader goroutine feeds
// raw bytes into byteCh, and the loop below is the sole owner of fw, the
// way spec.md §5's cooperative scheduler assumes a single driving context
// per task generation with no internal locking.
func serve(conn net.Conn, fw *firmware.System, clock *wallClock, tickPeriod time.Duration) {
	defer conn.Close()

	byteCh := make(chan byte, 256)
	done := make(chan struct{})
	go func() {
		defer close(byteCh)
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				select {
				case byteCh <- buf[i]:
				case <-done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	defer close(done)

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	// ackRx classifies each inbound frame without touching fw's own
	// receiver: an empty-content frame is the host acking a previously
	// sent device frame, everything else is a command frame to feed
	// through fw.FeedByte for real dispatch.
	ackRx := proto.NewReceiver()
	var frameBuf []byte

	write := func(frames ...[]byte) {
		for _, f := range frames {
			if f == nil {
				continue
			}
			if _, err := conn.Write(f); err != nil {
				return
			}
		}
	}

	for {
		select {
		case b, ok := <-byteCh:
			if !ok {
				return
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
