// command bridge relays a real serial port to a running mcu-sim's Unix
// domain socket, so host-side tooling (a slicer, a terminal) that only
// knows how to speak to a serial device can be pointed at the simulator
// instead of real hardware. It is the debug-shell counterpart of
// cmd/controller/debug_rpi.go's serial relay, generalized from a line
// oriented debug console to a raw byte pump.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/tarm/serial"
)

var (
	device = flag.String("device", "/dev/ttyUSB0", "serial device to relay")
	baud   = flag.Int("baud", 250000, "serial baud rate")
	socket = flag.String("socket", "/tmp/mcu-sim.sock", "mcu-sim unix domain socket to relay to")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))

	port, err := serial.OpenPort(&serial.Config{Name: *device, Baud: *baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", *device, err)
	}
	defer port.Close()

	conn, err := net.Dial("unix", *socket)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *socket, err)
	}
	defer conn.Close()

	log.Printf("bridge: relaying %s <-> %s", *device, *socket)

	errc := make(chan error, 2)
	go relay(errc, conn, port, *device+"->"+*socket)
	go relay(errc, port, conn, *socket+"->"+*device)
	return <-errc
}

// relay copies src to dst until either side closes, tagging any error with
// which direction failed so a dropped link is easy to diagnose from logs.
func relay(errc chan<- error, dst io.Writer, src io.Reader, dir string) {
	_, err := io.Copy(dst, src)
	if err == nil {
		err = io.EOF
	}
	errc <- fmt.Errorf("%s: %w", dir, err)
}
