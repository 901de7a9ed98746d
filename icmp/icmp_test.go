package icmp_test

import (
	"encoding/binary"
	"testing"

	"github.com/rvkernel/netstack/icmp"
	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/netutil"
)

// writeChecksum zeroes msg's checksum field and recomputes it, leaving msg
// ready to pass icmp.Input's verification.
func writeChecksum(msg []byte) {
	msg[2] = 0
	msg[3] = 0

	sum := netutil.Checksum(msg)
	binary.BigEndian.PutUint16(msg[2:4], sum)
}

type fakeClock struct{ now kernel.Tick }

func (f *fakeClock) Now() kernel.Tick               { return f.now }
func (f *fakeClock) TicksFor(ms uint32) kernel.Tick { return kernel.Tick(ms / kernel.TickMS) }

type fakeYielder struct{}

func (fakeYielder) Yield() {}

func TestEchoRequestRendezvousWithQueuedReply(t *testing.T) {
	t.Parallel()

	queue := icmp.NewReplyQueue()
	peer, _ := netutil.ParseAddr("192.0.2.1")

	var sent []byte
	out := func(dst netutil.Addr, protocol uint8, payload []byte) error {
		sent = payload

		return nil
	}

	clock := &fakeClock{now: 0}

	poll := func() {
		if sent == nil {
			return
		}

		// Simulate the RX path decoding our own request into a reply.
		if err := icmp.Input(queue, out, clock, peer, swapToReply(t, sent)); err != nil {
			t.Fatalf("input: %v", err)
		}
	}

	r, err := icmp.EchoRequest(queue, out, peer, 7, 1, []byte("ping"), kernel.Tick(10), clock, fakeYielder{}, poll)
	if err != nil {
		t.Fatalf("echo request: %v", err)
	}

	if r.Src != peer || r.ID != 7 || r.Seq != 1 {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestEchoRequestTimesOutWithNoReply(t *testing.T) {
	t.Parallel()

	queue := icmp.NewReplyQueue()
	peer, _ := netutil.ParseAddr("192.0.2.1")

	clock := &fakeClock{now: 0}
	poll := func() { clock.now++ }

	out := func(dst netutil.Addr, protocol uint8, payload []byte) error { return nil }

	_, err := icmp.EchoRequest(queue, out, peer, 1, 1, nil, kernel.Tick(3), clock, fakeYielder{}, poll)
	if err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestInputEchoRequestSendsReply(t *testing.T) {
	t.Parallel()

	queue := icmp.NewReplyQueue()
	peer, _ := netutil.ParseAddr("192.0.2.1")

	request := buildRequest(t, 3, 9, []byte("abc"))

	var repliedTo netutil.Addr
	var replyPayload []byte

	out := func(dst netutil.Addr, protocol uint8, payload []byte) error {
		repliedTo = dst
		replyPayload = payload

		return nil
	}

	clock := &fakeClock{now: 0}

	if err := icmp.Input(queue, out, clock, peer, request); err != nil {
		t.Fatalf("input: %v", err)
	}

	if repliedTo != peer {
		t.Fatalf("replied to %v, want %v", repliedTo, peer)
	}

	if len(replyPayload) == 0 {
		t.Fatalf("expected a reply to be built")
	}
}

// TestInputDestinationUnreachableRendezvousesByEmbeddedID covers spec.md
// §4.6's Destination Unreachable case: the router's reply embeds our
// original IP+ICMP headers, and the id/seq extracted from them must match
// the waiting EchoRequest call even though the unreachable message itself
// arrives from a different source than the one we pinged.
func TestInputDestinationUnreachableRendezvousesByEmbeddedID(t *testing.T) {
	t.Parallel()

	queue := icmp.NewReplyQueue()

	unreachableDst, _ := netutil.ParseAddr("203.0.113.7")
	router, _ := netutil.ParseAddr("192.0.2.1")

	request := buildRequest(t, 11, 4, []byte("x"))
	unreachableMsg := buildUnreachableFixture(t, 1, unreachableDst, request)

	clock := &fakeClock{now: 0}
	delivered := false

	poll := func() {
		if delivered {
			return
		}

		delivered = true

		if err := icmp.Input(queue, func(netutil.Addr, uint8, []byte) error { return nil }, clock, router, unreachableMsg); err != nil {
			t.Fatalf("input: %v", err)
		}
	}

	r, err := icmp.EchoRequest(queue, func(netutil.Addr, uint8, []byte) error { return nil },
		unreachableDst, 11, 4, []byte("x"), kernel.Tick(10), clock, fakeYielder{}, poll)
	if err != nil {
		t.Fatalf("echo request: %v", err)
	}

	if r.Kind != icmp.KindUnreachable {
		t.Fatalf("got kind %v, want KindUnreachable", r.Kind)
	}

	if r.Code != 1 {
		t.Fatalf("got code %d, want 1", r.Code)
	}
}

// buildUnreachableFixture assembles a minimal Destination Unreachable
// message embedding a 20-byte inner IPv4 header (destination = dst) plus
// the first 8 bytes of origRequest, the way a router's reply would.
func buildUnreachableFixture(t *testing.T, code uint8, dst netutil.Addr, origRequest []byte) []byte {
	t.Helper()

	inner := make([]byte, 20)
	inner[0] = 0x45 // version 4, IHL 5 (20 bytes)

	wire := dst.ToWire()
	copy(inner[16:20], wire[:])

	inner = append(inner, origRequest[:8]...)

	msg := make([]byte, 8+len(inner))
	msg[0] = 3    // Destination Unreachable
	msg[1] = code

	copy(msg[8:], inner)

	writeChecksum(msg)

	return msg
}

// swapToReply takes a serialized echo request and returns the equivalent
// echo reply bytes, as if the peer had answered it.
func swapToReply(t *testing.T, request []byte) []byte {
	t.Helper()

	reply := make([]byte, len(request))
	copy(reply, request)
	reply[0] = 0 // echo reply type

	writeChecksum(reply)

	return reply
}

func buildRequest(t *testing.T, id, seq uint16, data []byte) []byte {
	t.Helper()

	queue := icmp.NewReplyQueue()

	var captured []byte
	out := func(dst netutil.Addr, protocol uint8, payload []byte) error {
		captured = payload

		return nil
	}

	clock := &fakeClock{now: 0}
	peer, _ := netutil.ParseAddr("192.0.2.1")

	_, _ = icmp.EchoRequest(queue, out, peer, id, seq, data, kernel.Tick(0), clock, fakeYielder{}, func() {})

	return captured
}
