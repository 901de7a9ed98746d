// Package udp implements a fixed-size PCB (protocol control block) table,
// ephemeral port allocation, and the send/receive path, per spec.md §4.7.
// Header checksum uses gopacket/layers.UDP's pseudo-header-aware
// serialization (SetNetworkLayerForChecksum) on output, and a matching
// pseudo-header recomputation on input, same as the teacher's
// dependency-reuse pattern of leaning on a library for wire-format details.
package udp

import (
	"fmt"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/rvkernel/netstack/neterr"
	"github.com/rvkernel/netstack/netutil"
)

// MaxPCBs is the fixed PCB table capacity.
const MaxPCBs = 16

const (
	ephemeralLow  = 49152
	ephemeralHigh = 65535
)

// state is a PCB's lifecycle state.
type state int

const (
	stateFree state = iota
	stateBound
)

const recvQueueDepth = 8

// datagram is one queued inbound UDP payload plus its origin.
type datagram struct {
	src     netutil.Addr
	srcPort uint16
	data    []byte
}

type pcb struct {
	st    state
	laddr netutil.Addr
	lport uint16
	inbox []datagram
}

// Table is the process-wide UDP PCB table: a fixed array of slots plus an
// ephemeral-port cursor, both guarded by the same mutex (spec's
// PCB-table > port-cursor lock ordering collapses to one lock here since
// nothing else needs to hold the cursor alone).
type Table struct {
	mu     sync.Mutex
	pcbs   [MaxPCBs]pcb
	cursor uint16
}

// NewTable returns an empty PCB table with the ephemeral cursor at the low
// end of the dynamic range.
func NewTable() *Table {
	return &Table{cursor: ephemeralLow}
}

// Open allocates a free PCB slot, marking it in use (stateBound) with no
// local address or port yet, and returns its index.
func (t *Table) Open() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.pcbs {
		if t.pcbs[i].st == stateFree {
			t.pcbs[i] = pcb{st: stateBound, laddr: netutil.Any, lport: 0}

			return i, nil
		}
	}

	return -1, neterr.ErrNoPcbAvailable
}

// Close releases index back to the free pool.
func (t *Table) Close(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= MaxPCBs {
		return neterr.ErrInvalidPcbIndex
	}

	t.pcbs[index] = pcb{}

	return nil
}

// addrsOverlap reports whether a bind to addr and an existing bind to
// boundAddr would both accept the same inbound datagrams: true if either is
// the wildcard address, or both are the same specific address.
func addrsOverlap(addr, boundAddr netutil.Addr) bool {
	return addr == netutil.Any || boundAddr == netutil.Any || addr == boundAddr
}

// portConflicts reports whether some other bound PCB already holds port
// with an address overlapping addr, per spec.md §4.7 ("reject only when
// addresses overlap").
func (t *Table) portConflicts(self int, addr netutil.Addr, port uint16) bool {
	for i := range t.pcbs {
		if i != self && t.pcbs[i].st == stateBound && t.pcbs[i].lport == port && addrsOverlap(addr, t.pcbs[i].laddr) {
			return true
		}
	}

	return false
}

// Bind assigns (addr, port) to the PCB at index. port == 0 requests the next
// free ephemeral port, scanning at most the full ephemeral range once before
// giving up with ErrNoPortAvailable.
func (t *Table) Bind(index int, addr netutil.Addr, port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= MaxPCBs || t.pcbs[index].st != stateBound {
		return neterr.ErrInvalidPcbIndex
	}

	if port != 0 {
		if t.portConflicts(index, addr, port) {
			return neterr.ErrPortInUse
		}

		t.pcbs[index].laddr = addr
		t.pcbs[index].lport = port

		return nil
	}

	for tries := 0; tries <= ephemeralHigh-ephemeralLow; tries++ {
		candidate := t.cursor

		if candidate >= ephemeralHigh {
			t.cursor = ephemeralLow
		} else {
			t.cursor++
		}

		if !t.portConflicts(index, addr, candidate) {
			t.pcbs[index].laddr = addr
			t.pcbs[index].lport = candidate

			return nil
		}
	}

	return neterr.ErrNoPortAvailable
}

// deliver appends an inbound datagram to the PCB bound to dstPort whose
// local address is the wildcard or equal to dst, per spec.md §4.7. A full
// inbox drops the new datagram (spec §9 open question (e)).
func (t *Table) deliver(dst, src netutil.Addr, srcPort, dstPort uint16, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.pcbs {
		if t.pcbs[i].st == stateBound && t.pcbs[i].lport == dstPort &&
			(t.pcbs[i].laddr == netutil.Any || t.pcbs[i].laddr == dst) {
			if len(t.pcbs[i].inbox) >= recvQueueDepth {
				return neterr.ErrNoBufferSpace
			}

			t.pcbs[i].inbox = append(t.pcbs[i].inbox, datagram{src: src, srcPort: srcPort, data: data})

			return nil
		}
	}

	return neterr.ErrNoMatchingPcb
}

// RecvFrom pops the oldest queued datagram for index, if any is queued.
func (t *Table) RecvFrom(index int) (netutil.Addr, uint16, []byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= MaxPCBs || t.pcbs[index].st != stateBound {
		return netutil.Addr(0), 0, nil, false
	}

	if len(t.pcbs[index].inbox) == 0 {
		return netutil.Addr(0), 0, nil, false
	}

	d := t.pcbs[index].inbox[0]
	t.pcbs[index].inbox = t.pcbs[index].inbox[1:]

	return d.src, d.srcPort, d.data, true
}

// LocalPort returns the bound local port for index, if bound.
func (t *Table) LocalPort(index int) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= MaxPCBs || t.pcbs[index].st != stateBound {
		return 0, false
	}

	return t.pcbs[index].lport, true
}

// buildDatagram serializes a UDP header and payload with the checksum
// computed over the IPv4 pseudo-header.
func buildDatagram(src, dst netutil.Addr, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	srcWire := src.ToWire()
	dstWire := dst.ToWire()

	ipHdr := &layers.IPv4{
		SrcIP:    srcWire[:],
		DstIP:    dstWire[:],
		Protocol: layers.IPProtocolUDP,
	}

	udpHdr := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}

	if err := udpHdr.SetNetworkLayerForChecksum(ipHdr); err != nil {
		return nil, fmt.Errorf("udp checksum setup: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, udpHdr, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("udp encode: %w", err)
	}

	return buf.Bytes(), nil
}

// OutputFunc routes a built UDP datagram; bound to ipv4.OutputRoute by the
// package that wires the stack together.
type OutputFunc func(dst netutil.Addr, protocol uint8, payload []byte) error

const protoUDP = 17

// SendTo builds and routes a UDP datagram from the PCB at index.
func (t *Table) SendTo(out OutputFunc, index int, dst netutil.Addr, dstPort uint16, payload []byte) error {
	if index < 0 || index >= MaxPCBs {
		return neterr.ErrInvalidPcbIndex
	}

	t.mu.Lock()
	p := t.pcbs[index]
	t.mu.Unlock()

	if p.st != stateBound {
		return neterr.ErrInvalidPcbIndex
	}

	datagram, err := buildDatagram(p.laddr, dst, p.lport, dstPort, payload)
	if err != nil {
		return err
	}

	return out(dst, protoUDP, datagram)
}

// verifyChecksum reports whether hdr's checksum is acceptable per spec.md
// §4.7: zero on the wire means "not computed" and is accepted outright;
// otherwise the pseudo-header checksum recomputed over (src, dst, header,
// payload) must equal the wire value, allowing for the sender's 0xFFFF
// encoding of an all-zero computed result.
func verifyChecksum(src, dst netutil.Addr, hdr layers.UDP) bool {
	if hdr.Checksum == 0 {
		return true
	}

	length := uint16(8 + len(hdr.Payload))

	sum := netutil.PseudoHeaderSum(src, dst, protoUDP, length)
	sum += uint32(hdr.SrcPort)
	sum += uint32(hdr.DstPort)
	sum += uint32(length)
	sum += netutil.SumBytes(hdr.Payload)

	expected := netutil.FoldChecksum(sum)
	if expected == 0 {
		expected = 0xFFFF
	}

	return expected == uint16(hdr.Checksum)
}

// Input parses a UDP datagram received from src addressed to dst and
// delivers its payload to the matching bound PCB.
func Input(t *Table, src, dst netutil.Addr, data []byte) error {
	var hdr layers.UDP
	if err := hdr.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("udp decode: %w", err)
	}

	if !verifyChecksum(src, dst, hdr) {
		return neterr.ErrChecksumError
	}

	return t.deliver(dst, src, uint16(hdr.SrcPort), uint16(hdr.DstPort), hdr.Payload)
}
