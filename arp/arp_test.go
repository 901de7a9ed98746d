package arp_test

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/rvkernel/netstack/arp"
	"github.com/rvkernel/netstack/device"
	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/netutil"
)

type fakeClock struct{ now kernel.Tick }

func (f *fakeClock) Now() kernel.Tick               { return f.now }
func (f *fakeClock) TicksFor(ms uint32) kernel.Tick { return kernel.Tick(ms / kernel.TickMS) }

type fakeYielder struct{ n int }

func (f *fakeYielder) Yield() { f.n++ }

func testDevice(t *testing.T) (*device.Registry, device.Handle) {
	t.Helper()

	reg := device.NewRegistry()
	d := device.New("eth0", device.KindEthernet, 1500, [6]byte{0x02, 0, 0, 0, 0, 1})
	d.Tx = func(frame []byte) error { return nil }

	if err := reg.Register(d); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := d.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	h, _ := reg.Lookup("eth0")

	return reg, h
}

func arpReplyPayload(t *testing.T, ip netutil.Addr, mac [6]byte) []byte {
	t.Helper()

	ipWire := ip.ToWire()

	pkt := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   mac[:],
		SourceProtAddress: ipWire[:],
		DstHwAddress:      []byte{1, 1, 1, 1, 1, 1},
		DstProtAddress:    []byte{192, 0, 2, 2},
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, pkt); err != nil {
		t.Fatalf("serialize arp reply: %v", err)
	}

	return buf.Bytes()
}

func TestInputReplyUpsertsCache(t *testing.T) {
	t.Parallel()

	cache := arp.NewCache()
	reg, dev := testDevice(t)

	ip, _ := netutil.ParseAddr("192.0.2.1")
	mac := [6]byte{1, 2, 3, 4, 5, 6}

	if err := arp.Input(cache, reg, dev, arpReplyPayload(t, ip, mac)); err != nil {
		t.Fatalf("input: %v", err)
	}

	clock := &fakeClock{now: 0}
	got, err := arp.Resolve(cache, dev, ip, netutil.Addr(0), kernel.Tick(1), clock, &fakeYielder{}, func() {})
	if err != nil {
		t.Fatalf("resolve after learning: %v", err)
	}

	if got != mac {
		t.Fatalf("expected %v, got %v", mac, got)
	}
}

func TestResolveTimesOut(t *testing.T) {
	t.Parallel()

	cache := arp.NewCache()
	_, dev := testDevice(t)

	clock := &fakeClock{now: 0}
	yielder := &fakeYielder{}

	polls := 0
	poll := func() {
		polls++
		clock.now++
	}

	target, _ := netutil.ParseAddr("192.0.2.1")
	sender, _ := netutil.ParseAddr("192.0.2.2")

	_, err := arp.Resolve(cache, dev, target, sender, kernel.Tick(5), clock, yielder, poll)
	if err == nil {
		t.Fatalf("expected timeout error")
	}

	if polls == 0 {
		t.Fatalf("expected the poll loop to run")
	}
}

func TestResolveRequiresDeviceUp(t *testing.T) {
	t.Parallel()

	cache := arp.NewCache()
	reg := device.NewRegistry()
	d := device.New("eth0", device.KindEthernet, 1500, [6]byte{2, 0, 0, 0, 0, 1})
	d.Tx = func(frame []byte) error { return nil }

	if err := reg.Register(d); err != nil {
		t.Fatalf("register: %v", err)
	}

	dev, _ := reg.Lookup("eth0") // never opened: not UP

	target, _ := netutil.ParseAddr("192.0.2.1")
	sender, _ := netutil.ParseAddr("192.0.2.2")

	_, err := arp.Resolve(cache, dev, target, sender, kernel.Tick(5), &fakeClock{}, &fakeYielder{}, func() {})
	if err == nil {
		t.Fatalf("expected not-connected error")
	}
}
