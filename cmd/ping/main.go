// Command ping sends ICMP Echo Requests the way the teaching kernel's
// userland ping would, over the in-process network stack wired by netinit.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rvkernel/netstack/console"
	"github.com/rvkernel/netstack/icmp"
	"github.com/rvkernel/netstack/netinit"
	"github.com/rvkernel/netstack/netutil"
	"github.com/rvkernel/netstack/virtio"
)

const (
	defaultCount     = 3
	defaultTimeoutMs = 1000
	payloadSize      = 56
)

func main() {
	count := flag.Int("c", defaultCount, "number of echo requests to send")
	timeoutMs := flag.Uint("W", defaultTimeoutMs, "per-packet timeout in milliseconds")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ping [-c count] [-W timeout_ms] <ipv4-address>")
		os.Exit(1)
	}

	dst, ok := netutil.ParseAddr(flag.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "ping: invalid address %q\n", flag.Arg(0))
		os.Exit(1)
	}

	if err := run(dst, uint16(*count), uint32(*timeoutMs)); err != nil {
		fmt.Fprintf(os.Stderr, "ping: %v\n", err)
		os.Exit(1)
	}
}

func run(dst netutil.Addr, count uint16, timeoutMs uint32) error {
	log := console.Default()

	stack, err := netinit.New(virtio.NewSimMMIO([6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}), clockwork.NewRealClock())
	if err != nil {
		return fmt.Errorf("network init: %w", err)
	}

	payload := make([]byte, payloadSize)

	fmt.Printf("PING %s: %d data bytes\n", dst, payloadSize)

	id := uint16(os.Getpid())

	for seq := uint16(1); seq <= count; seq++ {
		start := time.Now()

		reply, err := stack.Ping(dst, id, seq, payload, timeoutMs)
		if err != nil {
			log.Warn("echo request failed", "seq", seq, "err", err)
			fmt.Printf("Request timeout for icmp_seq %d\n", seq)

			continue
		}

		if reply.Kind == icmp.KindUnreachable {
			fmt.Printf("From %s icmp_seq=%d Destination Unreachable (code %d)\n", dst, seq, reply.Code)

			continue
		}

		rtt := time.Since(start)
		fmt.Printf("%d bytes from %s: icmp_seq=%d time=%.3f ms\n",
			len(reply.Data), dst, seq, float64(rtt.Microseconds())/1000.0)
	}

	return nil
}
