// Package icmp implements ICMPv4 echo request/reply and destination
// unreachable, plus the reply-queue rendezvous spec.md §4.6 describes:
// EchoRequest sends and poll-waits until Input (called from the RX path) has
// queued a matching reply or the deadline passes.
package icmp

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/neterr"
	"github.com/rvkernel/netstack/netutil"
)

const (
	maxQueuedReplies = 16
)

// Kind discriminates what woke an icmp_echo_request waiter: an actual echo
// reply, or a router reporting the destination unreachable.
type Kind int

const (
	KindEchoReply Kind = iota
	KindUnreachable
)

// Reply is one queued rendezvous record, keyed for matching by (source, id,
// seq) — source being the address that was originally pinged, not
// necessarily the address the record was received from (an Unreachable
// arrives from an intermediate router, keyed by the embedded original
// destination).
type Reply struct {
	Src       netutil.Addr
	ID        uint16
	Seq       uint16
	Data      []byte
	Kind      Kind
	Code      uint8
	Timestamp kernel.Tick
}

// ReplyQueue is the process-wide inbox Input appends to and
// EchoRequest drains. Bounded per spec §9 open question (d): a full
// queue drops the oldest unclaimed reply.
type ReplyQueue struct {
	mu    sync.Mutex
	items []Reply
}

// NewReplyQueue returns an empty reply queue.
func NewReplyQueue() *ReplyQueue {
	return &ReplyQueue{}
}

func (q *ReplyQueue) push(r Reply) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= maxQueuedReplies {
		q.items = q.items[1:]
	}

	q.items = append(q.items, r)
}

// take removes and returns the first queued reply matching id/seq from src,
// if any.
func (q *ReplyQueue) take(src netutil.Addr, id, seq uint16) (Reply, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.items {
		if r.Src == src && r.ID == id && r.Seq == seq {
			q.items = append(q.items[:i], q.items[i+1:]...)

			return r, true
		}
	}

	return Reply{}, false
}

// OutputFunc routes a built ICMP packet to its destination; bound to
// ipv4.OutputRoute by the caller that wires packages together.
type OutputFunc func(dst netutil.Addr, protocol uint8, payload []byte) error

// buildEcho serializes an ICMPv4 echo request/reply.
func buildEcho(typ uint8, id, seq uint16, data []byte) ([]byte, error) {
	hdr := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(typ, 0),
		Id:       id,
		Seq:      seq,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, hdr, gopacket.Payload(data)); err != nil {
		return nil, fmt.Errorf("icmp encode: %w", err)
	}

	return buf.Bytes(), nil
}

// buildUnreachable serializes a destination-unreachable message embedding
// the offending IP header plus its first 8 payload bytes, per RFC 792.
func buildUnreachable(code uint8, original []byte) ([]byte, error) {
	embed := original
	if len(embed) > 28 {
		embed = embed[:28]
	}

	hdr := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeDestinationUnreachable, code),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, hdr, gopacket.Payload(embed)); err != nil {
		return nil, fmt.Errorf("icmp encode: %w", err)
	}

	return buf.Bytes(), nil
}

const (
	minInnerIPHeaderLen = 20
	minInnerICMPLen     = 8
)

// decodeUnreachable extracts the original id/seq this Destination
// Unreachable refers to from its embedded copy of the offending packet:
// the inner IPv4 header (≥20 bytes, giving the original destination) and,
// immediately following it, the first 8 bytes of the original ICMP header
// (giving id/seq at the same offsets buildEcho uses).
func decodeUnreachable(code uint8, payload []byte) (Reply, bool) {
	if len(payload) < minInnerIPHeaderLen {
		return Reply{}, false
	}

	ihl := int(payload[0]&0x0F) * 4
	if ihl < minInnerIPHeaderLen || len(payload) < ihl+minInnerICMPLen {
		return Reply{}, false
	}

	origDst := netutil.AddrFromBytes(payload[16:20])
	innerICMP := payload[ihl : ihl+minInnerICMPLen]

	return Reply{
		Src:  origDst,
		ID:   binary.BigEndian.Uint16(innerICMP[4:6]),
		Seq:  binary.BigEndian.Uint16(innerICMP[6:8]),
		Kind: KindUnreachable,
		Code: code,
	}, true
}

// Input parses an ICMP message received from src and either answers an echo
// request (via out), queues an echo reply, or queues an unreachable
// notification — each for a waiting EchoRequest caller.
func Input(queue *ReplyQueue, out OutputFunc, clock kernel.Clock, src netutil.Addr, data []byte) error {
	if len(data) < 8 {
		return neterr.ErrPacketTooShort
	}

	if netutil.Checksum(data) != 0 {
		return neterr.ErrChecksumError
	}

	var hdr layers.ICMPv4
	if err := hdr.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("icmp decode: %w", err)
	}

	switch hdr.TypeCode.Type() {
	case layers.ICMPv4TypeEchoRequest:
		reply, err := buildEcho(uint8(layers.ICMPv4TypeEchoReply), hdr.Id, hdr.Seq, hdr.Payload)
		if err != nil {
			return err
		}

		return out(src, uint8(layers.IPProtocolICMPv4), reply)

	case layers.ICMPv4TypeEchoReply:
		queue.push(Reply{Src: src, ID: hdr.Id, Seq: hdr.Seq, Data: hdr.Payload, Kind: KindEchoReply, Timestamp: clock.Now()})

		return nil

	case layers.ICMPv4TypeDestinationUnreachable:
		reply, ok := decodeUnreachable(hdr.TypeCode.Code(), hdr.Payload)
		if !ok {
			return neterr.ErrPacketTooShort
		}

		reply.Timestamp = clock.Now()
		queue.push(reply)

		return nil

	default:
		return neterr.ErrUnsupportedProtocol
	}
}

// EchoRequest implements spec.md §4.6's icmp_echo_request: build and send an
// echo request, then poll-wait on the reply queue until a matching reply
// arrives or timeoutTicks elapses.
func EchoRequest(
	queue *ReplyQueue,
	out OutputFunc,
	dst netutil.Addr,
	id, seq uint16,
	data []byte,
	timeoutTicks kernel.Tick,
	clock kernel.Clock,
	yielder kernel.Yielder,
	poll func(),
) (Reply, error) {
	packet, err := buildEcho(uint8(layers.ICMPv4TypeEchoRequest), id, seq, data)
	if err != nil {
		return Reply{}, err
	}

	if err := out(dst, uint8(layers.IPProtocolICMPv4), packet); err != nil {
		return Reply{}, err
	}

	deadline := clock.Now() + timeoutTicks

	for {
		poll()

		if r, ok := queue.take(dst, id, seq); ok {
			return r, nil
		}

		if clock.Now() >= deadline {
			return Reply{}, neterr.ErrTimeout
		}

		yielder.Yield()
	}
}

// Unreachable sends a destination-unreachable(code) in response to the
// packet that could not be delivered.
func Unreachable(out OutputFunc, dst netutil.Addr, code uint8, offending []byte) error {
	packet, err := buildUnreachable(code, offending)
	if err != nil {
		return err
	}

	return out(dst, uint8(layers.IPProtocolICMPv4), packet)
}
