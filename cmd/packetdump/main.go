// packetdump - print control packets arriving on a serial port
// Stands in for the actuator firmware when debugging the link.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/teslashibe/go-pantilt/pkg/protocol"
	"github.com/teslashibe/go-pantilt/pkg/serialport"
	"github.com/teslashibe/go-pantilt/pkg/task"
)

func main() {
	port := flag.String("port", "", "Serial port to read")
	baud := flag.Int("baud", serialport.DefaultBaudRate, "Baud rate")
	list := flag.Bool("list", false, "List serial ports and exit")
	flag.Parse()

	if *list {
		ports, err := serialport.Ports()
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if *port == "" {
		log.Fatalf("❌ -port is required (use -list to find one)")
	}

	p, err := serialport.OpenPort(*port, serialport.PortOptions{BaudRate: *baud})
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	var stopping atomic.Bool
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		stopping.Store(true)
		p.Close()
	}()

	fmt.Printf("🔌 Listening on %s @ %d\n", *port, *baud)
	if err := dump(protocol.NewPacketReader(p), os.Stdout, time.Now); err != nil && !stopping.Load() {
		log.Fatalf("❌ %v", err)
	}
}

// dump prints one line per packet until the reader ends.
func dump(r *protocol.PacketReader, w io.Writer, now func() time.Time) error {
	var n int
	for {
		pkt, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
				fmt.Fprintf(w, "%d packets\n", n)
				return nil
			}
			return err
		}
		n++
		fmt.Fprintf(w, "%s %-6s %s\n", now().Format("15:04:05.000"), task.Kind(pkt.Kind), pkt)
	}
}
