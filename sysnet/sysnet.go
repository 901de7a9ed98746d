// Package sysnet is the syscall-marshalling boundary spec.md §6 describes:
// the nine numbered calls (udp_open, udp_bind, udp_sendto, udp_recvfrom,
// udp_close, dns_resolve, icmp_echo_request, icmp_recv_reply, clocktime),
// realized as ordinary Go functions over plain values instead of a trap
// table. Its job is argument validation and translating package-internal
// errors to neterr.Kind before they cross the boundary.
package sysnet

import (
	"github.com/rvkernel/netstack/icmp"
	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/neterr"
	"github.com/rvkernel/netstack/netinit"
	"github.com/rvkernel/netstack/netutil"
)

// UDPOpen is udp_open(): allocate a PCB, return its index.
func UDPOpen(s *netinit.Stack) (int, neterr.Kind) {
	idx, err := s.UDP.Open()
	if err != nil {
		return -1, neterr.KindOf(err)
	}

	return idx, neterr.KindUnknown
}

// UDPBind is udp_bind(i, addr, port).
func UDPBind(s *netinit.Stack, index int, addr netutil.Addr, port uint16) neterr.Kind {
	if err := s.UDP.Bind(index, addr, port); err != nil {
		return neterr.KindOf(err)
	}

	return neterr.KindUnknown
}

// UDPSendTo is udp_sendto(i, dst_addr, dst_port, buf).
func UDPSendTo(s *netinit.Stack, index int, dstAddr netutil.Addr, dstPort uint16, buf []byte) neterr.Kind {
	if err := s.UDP.SendTo(s.OutputRoute, index, dstAddr, dstPort, buf); err != nil {
		return neterr.KindOf(err)
	}

	return neterr.KindUnknown
}

// UDPRecvFrom is udp_recvfrom(i, buf_out, addr_out, port_out) → len. A
// negative length with KindWouldBlock means no datagram is queued yet.
func UDPRecvFrom(s *netinit.Stack, index int, bufOut []byte) (n int, srcAddr netutil.Addr, srcPort uint16, kind neterr.Kind) {
	src, port, data, ok := s.UDP.RecvFrom(index)
	if !ok {
		return -1, 0, 0, neterr.KindWouldBlock
	}

	n = copy(bufOut, data)

	return n, src, port, neterr.KindUnknown
}

// UDPClose is udp_close(i).
func UDPClose(s *netinit.Stack, index int) neterr.Kind {
	if err := s.UDP.Close(index); err != nil {
		return neterr.KindOf(err)
	}

	return neterr.KindUnknown
}

// DNSResolve is dns_resolve(name, addr_out) → 0: resolves name against the
// configured upstream. The wait ends after timeoutMs or after the
// 100-iteration poll bound dns.Resolve enforces, whichever comes first.
func DNSResolve(s *netinit.Stack, name string, timeoutMs uint32) ([4]byte, neterr.Kind) {
	ip, err := s.Resolve(name, timeoutMs)
	if err != nil {
		return [4]byte{}, neterr.KindOf(err)
	}

	return ip, neterr.KindUnknown
}

// ICMPEchoRequest is icmp_echo_request(dst_str, id, seq, payload), folded
// together with icmp_recv_reply(id, timeout_ms, buf_out) into one
// round-trip call, since this process has no separate "issue, then later
// poll" caller across a syscall boundary.
func ICMPEchoRequest(s *netinit.Stack, dst netutil.Addr, id, seq uint16, payload []byte, timeoutMs uint32) (icmp.Reply, neterr.Kind) {
	r, err := s.Ping(dst, id, seq, payload, timeoutMs)
	if err != nil {
		return icmp.Reply{}, neterr.KindOf(err)
	}

	return r, neterr.KindUnknown
}

// Clocktime is clocktime() → microseconds.
func Clocktime(s *netinit.Stack) uint64 {
	return uint64(s.Clock.Now()) * uint64(kernel.TickMS) * 1000
}
