// Package netinit performs the one-time, process-wide wiring of every
// network component: device registry, routing table, ARP cache, UDP PCB
// table, ICMP reply queue, and the virtio-net driver. Nothing here is torn
// down; per spec.md §9 these are global mutable tables initialized once at
// boot.
package netinit

import (
	"github.com/jonboulle/clockwork"

	"github.com/rvkernel/netstack/arp"
	"github.com/rvkernel/netstack/config"
	"github.com/rvkernel/netstack/console"
	"github.com/rvkernel/netstack/device"
	"github.com/rvkernel/netstack/ethernet"
	"github.com/rvkernel/netstack/icmp"
	"github.com/rvkernel/netstack/iface"
	"github.com/rvkernel/netstack/ipv4"
	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/loopback"
	"github.com/rvkernel/netstack/netutil"
	"github.com/rvkernel/netstack/route"
	"github.com/rvkernel/netstack/udp"
	"github.com/rvkernel/netstack/virtio"
)

// Stack bundles every process-wide table and the glue needed to drive a
// request from an application call down to the wire and back.
type Stack struct {
	Devices *device.Registry
	Routes  *route.Table
	ARP     *arp.Cache
	UDP     *udp.Table
	ICMP    *icmp.ReplyQueue

	Virtio *virtio.Driver

	Clock   kernel.Clock
	Yielder kernel.Yielder

	ethDispatch *ethernet.Dispatcher
	ipDispatch  *ipv4.Dispatcher
}

// New wires a complete stack over mmio (the virtio-net register window) and
// wc (the wall clock abstraction, real or fake). It registers lo and eth0,
// installs the default route, and negotiates the virtio-net device.
func New(mmio virtio.MMIO, wc clockwork.Clock) (*Stack, error) {
	s := &Stack{
		Devices:     device.NewRegistry(),
		Routes:      route.NewTable(),
		ARP:         arp.NewCache(),
		UDP:         udp.NewTable(),
		ICMP:        icmp.NewReplyQueue(),
		Clock:       kernel.NewClock(wc),
		Yielder:     kernel.GoschedYielder{},
		ethDispatch: ethernet.NewDispatcher(),
		ipDispatch:  ipv4.NewDispatcher(),
	}

	s.ipDispatch.Register(ipv4.ProtoICMP, func(src, dst netutil.Addr, payload []byte) error {
		return icmp.Input(s.ICMP, s.OutputRoute, s.Clock, src, payload)
	})

	s.ipDispatch.Register(ipv4.ProtoUDP, func(src, dst netutil.Addr, payload []byte) error {
		return udp.Input(s.UDP, src, dst, payload)
	})

	s.ethDispatch.Register(ethernet.EtherTypeARP, func(dev device.Handle, payload []byte) error {
		return arp.Input(s.ARP, s.Devices, dev, payload)
	})

	s.ethDispatch.Register(ethernet.EtherTypeIPv4, func(dev device.Handle, payload []byte) error {
		return ipv4.Input(s.ipDispatch, payload)
	})

	lo := loopback.New(func(packet []byte) error {
		return ipv4.Input(s.ipDispatch, packet)
	})

	if err := s.Devices.Register(lo); err != nil {
		return nil, err
	}

	if err := lo.Open(); err != nil {
		return nil, err
	}

	eth0 := device.New(config.GuestIfaceName, device.KindEthernet, 1500, [6]byte{})
	eth0.Interfaces = []iface.Iface{iface.New(config.GuestAddr, config.GuestNetmask)}

	driver := virtio.NewDriver(mmio, func(frame []byte) error {
		handle, ok := s.Devices.Lookup(config.GuestIfaceName)
		if !ok {
			return nil
		}

		if err := ethernet.Input(s.ethDispatch, handle, frame); err != nil {
			console.Default().Debug("rx frame dropped", "err", err)

			return err
		}

		return nil
	})
	s.Virtio = driver

	eth0.Tx = driver.Transmit
	eth0.OpenFunc = driver.Init

	if err := s.Devices.Register(eth0); err != nil {
		return nil, err
	}

	if err := eth0.Open(); err != nil {
		return nil, err
	}

	eth0.HWAddr = driver.MAC()

	gw := config.Gateway

	if err := s.Routes.Insert(route.Entry{
		Dest:    netutil.Any,
		Mask:    netutil.Any,
		Gateway: &gw,
		Device:  config.GuestIfaceName,
	}); err != nil {
		return nil, err
	}

	if err := s.Routes.Insert(route.Entry{
		Dest:   config.LoopbackAddr.Mask(config.LoopbackNetmask),
		Mask:   config.LoopbackNetmask,
		Device: config.LoopbackName,
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// OutputRoute adapts ipv4.OutputRoute into the OutputFunc shape icmp/udp
// expect, binding it to this stack's collaborators. Exported for sysnet,
// which needs it to implement udp_sendto directly.
func (s *Stack) OutputRoute(dst netutil.Addr, protocol uint8, payload []byte) error {
	return ipv4.OutputRoute(ipv4.RouteDeps{
		Devices: s.Devices,
		Routes:  s.Routes,
		ARP:     s.ARP,
		Clock:   s.Clock,
		Yield:   s.Yielder,
		Poll:    s.Virtio.PollRX,
		Loopback: func(packet []byte) error {
			return ipv4.Input(s.ipDispatch, packet)
		},
	}, dst, protocol, payload)
}

// Ping sends an ICMP echo request to dst and waits for the matching reply,
// implementing the sysnet icmp_echo_request/icmp_recv_reply pair as one
// call for callers that don't need to interleave other work while waiting.
func (s *Stack) Ping(dst netutil.Addr, id, seq uint16, data []byte, timeoutMs uint32) (icmp.Reply, error) {
	return icmp.EchoRequest(
		s.ICMP,
		s.OutputRoute,
		dst, id, seq, data,
		s.Clock.TicksFor(timeoutMs),
		s.Clock,
		s.Yielder,
		s.Virtio.PollRX,
	)
}

// Resolve performs a DNS A-record lookup against the configured upstream.
func (s *Stack) Resolve(name string, timeoutMs uint32) ([4]byte, error) {
	return dnsResolve(s, name, timeoutMs)
}
