package netinit

import (
	"github.com/rvkernel/netstack/config"
	"github.com/rvkernel/netstack/dns"
)

// dnsResolve wires dns.Resolve to this stack's UDP PCB table, output path,
// clock, and poller.
func dnsResolve(s *Stack, name string, timeoutMs uint32) ([4]byte, error) {
	return dns.Resolve(
		s.UDP,
		s.OutputRoute,
		config.UpstreamDNS,
		name,
		s.Clock.TicksFor(timeoutMs),
		s.Clock,
		s.Yielder,
		s.Virtio.PollRX,
	)
}
