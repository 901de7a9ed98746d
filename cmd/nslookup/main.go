// Command nslookup resolves a single A record through the in-process
// network stack, matching spec.md §8's "prints `Address: x.x.x.x`" scenario.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/rvkernel/netstack/netinit"
	"github.com/rvkernel/netstack/virtio"
)

const defaultTimeoutMs = 2000

func main() {
	timeoutMs := flag.Uint("W", defaultTimeoutMs, "resolution timeout in milliseconds")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: nslookup [-W timeout_ms] <name>")
		os.Exit(1)
	}

	if err := run(flag.Arg(0), uint32(*timeoutMs)); err != nil {
		fmt.Fprintf(os.Stderr, "nslookup: %v\n", err)
		os.Exit(1)
	}
}

func run(name string, timeoutMs uint32) error {
	stack, err := netinit.New(virtio.NewSimMMIO([6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x57}), clockwork.NewRealClock())
	if err != nil {
		return fmt.Errorf("network init: %w", err)
	}

	ip, err := stack.Resolve(name, timeoutMs)
	if err != nil {
		return err
	}

	fmt.Printf("Address: %d.%d.%d.%d\n", ip[0], ip[1], ip[2], ip[3])

	return nil
}
