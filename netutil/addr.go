// Package netutil holds the small value types and bit-level helpers shared
// by every layer: the IPv4 address scalar and the RFC 1071 checksum.
package netutil

import (
	"encoding/binary"
	"fmt"
)

// Addr is a 32-bit IPv4 address held in host byte order. The wire form is
// always big-endian; use ToWire/AddrFromBytes at the boundary where bytes
// leave or enter a packet buffer.
type Addr uint32

// Any is the unspecified / "all interfaces" address, 0.0.0.0.
const Any Addr = 0

// Loopback is 127.0.0.1.
const Loopback Addr = 0x7F000001

// Broadcast is 255.255.255.255.
const Broadcast Addr = 0xFFFFFFFF

// AddrFromBytes builds an Addr from 4 bytes in network (big-endian) order.
func AddrFromBytes(b []byte) Addr {
	return Addr(binary.BigEndian.Uint32(b))
}

// ToWire returns the 4-byte big-endian wire representation.
func (a Addr) ToWire() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))

	return b
}

// ParseAddr parses a dotted-quad string ("192.0.2.2") into an Addr.
func ParseAddr(s string) (Addr, bool) {
	var a, b, c, d uint8

	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return 0, false
	}

	return Addr(uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)), true
}

// String renders the address as a dotted quad.
func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// IsUnspecified reports whether a is 0.0.0.0.
func (a Addr) IsUnspecified() bool { return a == Any }

// Mask applies netmask m to a, yielding the network prefix.
func (a Addr) Mask(m Addr) Addr { return a & m }

// BroadcastFor derives the directed broadcast address for netmask m: addr | ~mask.
func (a Addr) BroadcastFor(m Addr) Addr { return a | ^m }
