// Package dns hand-rolls RFC 1035 query framing and pointer-compressed name
// decoding: the spec calls this "core engineering" rather than wire-codec
// boilerplate, so unlike ipv4/icmp/udp it is not delegated to gopacket.
package dns

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rvkernel/netstack/neterr"
)

const (
	headerLen = 12

	typeA     = 1
	classINET = 1

	maxPointerHops = 127
)

// Query builds a single-question A-record query for name, with a random
// 16-bit transaction ID (spec.md §9 open question (a): randomized rather
// than the documented fixed-ID bug, since nothing relies on predictability).
func Query(name string) (packet []byte, id uint16) {
	id = uint16(rand.IntN(1 << 16))

	var buf []byte

	buf = binary.BigEndian.AppendUint16(buf, id)
	buf = binary.BigEndian.AppendUint16(buf, 0x0100) // RD=1, standard query
	buf = binary.BigEndian.AppendUint16(buf, 1)       // QDCOUNT
	buf = binary.BigEndian.AppendUint16(buf, 0)       // ANCOUNT
	buf = binary.BigEndian.AppendUint16(buf, 0)       // NSCOUNT
	buf = binary.BigEndian.AppendUint16(buf, 0)       // ARCOUNT

	buf = append(buf, encodeName(name)...)
	buf = binary.BigEndian.AppendUint16(buf, typeA)
	buf = binary.BigEndian.AppendUint16(buf, classINET)

	return buf, id
}

// encodeName converts "example.com" into its length-prefixed-label wire
// form terminated by a zero byte.
func encodeName(name string) []byte {
	var out []byte

	for _, label := range strings.Split(strings.Trim(name, "."), ".") {
		if label == "" {
			continue
		}

		out = append(out, byte(len(label)))
		out = append(out, label...)
	}

	return append(out, 0)
}

// Answer is one decoded resource record this resolver understands.
type Answer struct {
	Name string
	TTL  uint32
	IP   [4]byte
}

// Response is a parsed reply: the echoed transaction ID and any A records
// found in the answer section.
type Response struct {
	ID      uint16
	Answers []Answer
}

// Parse validates and decodes a DNS response matching wantID.
func Parse(data []byte, wantID uint16) (Response, error) {
	if len(data) < headerLen {
		return Response{}, neterr.ErrPacketTooShort
	}

	id := binary.BigEndian.Uint16(data[0:2])
	if id != wantID {
		return Response{}, neterr.ErrNoMatchingPcb
	}

	flags := binary.BigEndian.Uint16(data[2:4])
	rcode := flags & 0x000F
	if rcode != 0 {
		return Response{}, fmt.Errorf("dns rcode %d: %w", rcode, neterr.ErrNotFound)
	}

	qdcount := binary.BigEndian.Uint16(data[4:6])
	ancount := binary.BigEndian.Uint16(data[6:8])

	offset := headerLen

	for i := uint16(0); i < qdcount; i++ {
		_, next, err := decodeName(data, offset)
		if err != nil {
			return Response{}, err
		}

		offset = next + 4 // QTYPE + QCLASS
	}

	resp := Response{ID: id}

	for i := uint16(0); i < ancount; i++ {
		name, next, err := decodeName(data, offset)
		if err != nil {
			return Response{}, err
		}

		offset = next

		if offset+10 > len(data) {
			return Response{}, neterr.ErrPacketTruncated
		}

		rtype := binary.BigEndian.Uint16(data[offset : offset+2])
		rdlen := int(binary.BigEndian.Uint16(data[offset+8 : offset+10]))
		ttl := binary.BigEndian.Uint32(data[offset+4 : offset+8])

		offset += 10

		if offset+rdlen > len(data) {
			return Response{}, neterr.ErrPacketTruncated
		}

		rdata := data[offset : offset+rdlen]
		offset += rdlen

		if rtype == typeA && rdlen == 4 {
			var ip [4]byte
			copy(ip[:], rdata)

			resp.Answers = append(resp.Answers, Answer{Name: name, TTL: ttl, IP: ip})
		}
	}

	return resp, nil
}

// decodeName decodes a possibly-compressed name starting at offset,
// returning the name and the offset immediately following it in the
// original message (not following any pointer jump). Pointer chains are
// bounded at maxPointerHops to guarantee termination against a malicious or
// corrupt message.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string

	hops := 0
	pos := offset
	end := -1 // offset just past the name in the caller's stream, set once

	for {
		if pos >= len(data) {
			return "", 0, neterr.ErrPacketTruncated
		}

		b := data[pos]

		switch {
		case b == 0:
			if end == -1 {
				end = pos + 1
			}

			return strings.Join(labels, "."), end, nil

		case b&0xC0 == 0xC0:
			if pos+1 >= len(data) {
				return "", 0, neterr.ErrPacketTruncated
			}

			if end == -1 {
				end = pos + 2
			}

			hops++
			if hops > maxPointerHops {
				return "", 0, neterr.ErrPacketTruncated
			}

			pointer := int(b&0x3F)<<8 | int(data[pos+1])
			if pointer >= len(data) {
				return "", 0, neterr.ErrPacketTruncated
			}

			pos = pointer

		default:
			labelLen := int(b)
			if pos+1+labelLen > len(data) {
				return "", 0, neterr.ErrPacketTruncated
			}

			labels = append(labels, string(data[pos+1:pos+1+labelLen]))
			pos += 1 + labelLen
		}
	}
}
