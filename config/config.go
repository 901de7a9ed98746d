// Package config holds the stack's static, non-negotiable defaults
// (spec.md §6): this kernel has no persisted configuration store, so these
// are compile-time constants rather than a parsed file.
package config

import "github.com/rvkernel/netstack/netutil"

const (
	// UpstreamDNSPort is the port the configured upstream resolver listens on.
	UpstreamDNSPort = 53

	GuestIfaceName = "eth0"
	LoopbackName   = "lo"

	TTL = 64

	EphemeralLow  = 49152
	EphemeralHigh = 65535

	PCBCapacity = 16

	VirtioRingDepth = 32
)

// UpstreamDNS is the fixed upstream resolver, 8.8.8.8.
var UpstreamDNS = mustAddr("8.8.8.8")

// GuestAddr is this kernel's address on eth0, 192.0.2.2/24.
var GuestAddr = mustAddr("192.0.2.2")

// GuestNetmask is eth0's netmask, /24.
var GuestNetmask = mustAddr("255.255.255.0")

// Gateway is the default-route next hop, 192.0.2.1.
var Gateway = mustAddr("192.0.2.1")

// LoopbackAddr is 127.0.0.1.
var LoopbackAddr = netutil.Loopback

// LoopbackNetmask is /8.
var LoopbackNetmask = mustAddr("255.0.0.0")

func mustAddr(s string) netutil.Addr {
	a, ok := netutil.ParseAddr(s)
	if !ok {
		panic("config: invalid static address literal " + s)
	}

	return a
}
