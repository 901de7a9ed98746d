// Package ipv4 builds and parses the classic 20-byte (no-options) IPv4
// header and implements ip_output_route: the route-lookup, source-selection,
// ARP-resolution, and Ethernet-framing pipeline spec.md §4.5 describes.
package ipv4

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/rvkernel/netstack/arp"
	"github.com/rvkernel/netstack/device"
	"github.com/rvkernel/netstack/dispatch"
	"github.com/rvkernel/netstack/ethernet"
	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/neterr"
	"github.com/rvkernel/netstack/netutil"
	"github.com/rvkernel/netstack/route"
)

// Protocol numbers this stack demuxes on.
const (
	ProtoICMP = 1
	ProtoUDP  = 17
)

// TTL is the fixed outgoing time-to-live.
const TTL = 64

const headerLen = 20

// Handler receives a demultiplexed IPv4 payload.
type Handler func(src, dst netutil.Addr, payload []byte) error

// Dispatcher maps an IP protocol number to its input handler (ICMP, UDP).
type Dispatcher = dispatch.Table[uint8, Handler]

// NewDispatcher returns an empty protocol dispatch table.
func NewDispatcher() *Dispatcher {
	return dispatch.New[uint8, Handler]()
}

// checksum recomputes the RFC 1071 checksum over a 20-byte header with its
// checksum field intact. On a valid packet this must equal zero.
func checksum(header []byte) uint16 {
	var sum uint32

	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(header[i])<<8 | uint32(header[i+1])
	}

	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}

	return ^uint16(sum)
}

// Build serializes a 20-byte IPv4 header (version 4, IHL 5, TTL 64, ID 0, no
// flags/offset) followed by payload, with the header checksum computed over
// the zeroed-checksum header per RFC 1071.
func Build(src, dst netutil.Addr, protocol uint8, payload []byte) ([]byte, error) {
	if len(payload) > 65535-headerLen {
		return nil, neterr.ErrPacketTooLarge
	}

	srcWire := src.ToWire()
	dstWire := dst.ToWire()

	hdr := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      TTL,
		Id:       0,
		Protocol: layers.IPProtocol(protocol),
		SrcIP:    srcWire[:],
		DstIP:    dstWire[:],
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, hdr, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("ipv4 encode: %w", err)
	}

	return buf.Bytes(), nil
}

// Parsed is the result of a successful Parse.
type Parsed struct {
	Src, Dst netutil.Addr
	Protocol uint8
	Payload  []byte
}

// Parse validates an IPv4 packet per spec.md §4.5's input checks and
// returns its demuxable fields. The payload returned is data[ihl:totalLen]
// — trailing link-layer padding is discarded.
func Parse(data []byte) (Parsed, error) {
	if len(data) < headerLen {
		return Parsed{}, neterr.ErrPacketTooShort
	}

	version := data[0] >> 4
	if version != 4 {
		return Parsed{}, neterr.ErrInvalidVersion
	}

	ihl := int(data[0]&0x0F) * 4
	if ihl < headerLen || ihl > len(data) {
		return Parsed{}, neterr.ErrInvalidHeaderLen
	}

	totalLen := int(uint16(data[2])<<8 | uint16(data[3]))
	if totalLen > len(data) {
		return Parsed{}, neterr.ErrPacketTruncated
	}

	if ihl > totalLen {
		return Parsed{}, neterr.ErrInvalidHeaderLen
	}

	if checksum(data[:ihl]) != 0 {
		return Parsed{}, neterr.ErrChecksumError
	}

	return Parsed{
		Src:      netutil.AddrFromBytes(data[12:16]),
		Dst:      netutil.AddrFromBytes(data[16:20]),
		Protocol: data[9],
		Payload:  data[ihl:totalLen],
	}, nil
}

// Input parses data and dispatches its payload to the registered protocol
// handler. Unknown protocols and parse failures are returned to the caller,
// who (per spec §7) logs and drops without propagating to the RX interrupt.
func Input(dispatcher *Dispatcher, data []byte) error {
	p, err := Parse(data)
	if err != nil {
		return err
	}

	h, ok := dispatcher.Lookup(p.Protocol)
	if !ok {
		return neterr.ErrUnsupportedProtocol
	}

	return h(p.Src, p.Dst, p.Payload)
}

// RouteDeps bundles the collaborators OutputRoute needs: the device
// registry, routing table, ARP cache, and the kernel timing primitives
// ARP.Resolve requires.
type RouteDeps struct {
	Devices *device.Registry
	Routes  *route.Table
	ARP     *arp.Cache
	Clock   kernel.Clock
	Yield   kernel.Yielder
	Poll    arp.PollFunc

	// Loopback is called instead of Ethernet framing when the destination
	// is 127.0.0.1: the packet re-enters protocol dispatch directly.
	Loopback func(packet []byte) error
}

// OutputRoute implements spec.md §4.5's ip_output_route.
func OutputRoute(deps RouteDeps, dst netutil.Addr, protocol uint8, payload []byte) error {
	if dst == netutil.Loopback {
		packet, err := Build(netutil.Loopback, netutil.Loopback, protocol, payload)
		if err != nil {
			return err
		}

		return deps.Loopback(packet)
	}

	r, ok := deps.Routes.Lookup(dst)
	if !ok {
		return neterr.ErrNoSuchNode
	}

	dev, ok := deps.Devices.Lookup(r.Device)
	if !ok {
		return neterr.ErrDeviceNotFound
	}

	src := selectSource(dev, dst)

	nextHop := dst
	if r.Gateway != nil {
		nextHop = *r.Gateway
	}

	packet, err := Build(src, dst, protocol, payload)
	if err != nil {
		return err
	}

	mac, err := arp.Resolve(deps.ARP, dev, nextHop, src, deps.Clock.TicksFor(1000), deps.Clock, deps.Yield, deps.Poll)
	if err != nil {
		return err
	}

	return ethernet.Output(dev, mac, ethernet.EtherTypeIPv4, packet)
}

// selectSource picks the interface on dev whose subnet covers dst, falling
// back to dev's first interface.
func selectSource(dev device.Handle, dst netutil.Addr) netutil.Addr {
	for _, ifc := range dev.Interfaces {
		if ifc.Covers(dst) {
			return ifc.Addr
		}
	}

	if len(dev.Interfaces) > 0 {
		return dev.Interfaces[0].Addr
	}

	return netutil.Any
}
