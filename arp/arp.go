// Package arp resolves IPv4 addresses to Ethernet MAC addresses, with a
// blocking-waiter discipline per spec.md §4.4: Resolve sends a broadcast
// request, then poll-waits (re-invoking the driver's RX poll and re-checking
// the cache) until either a reply populates the cache or a tick-based
// deadline passes.
package arp

import (
	"fmt"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/rvkernel/netstack/device"
	"github.com/rvkernel/netstack/ethernet"
	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/neterr"
	"github.com/rvkernel/netstack/netutil"
)

var broadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

type entry struct {
	mac   [6]byte
	valid bool
}

// Cache is the process-wide ARP table: IPv4 -> MAC, with no TTL/eviction
// (spec.md §9 open question (c), kept as documented).
type Cache struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[netutil.Addr]entry
}

// NewCache returns an empty ARP cache.
func NewCache() *Cache {
	c := &Cache{entries: make(map[netutil.Addr]entry)}
	c.cond = sync.NewCond(&c.mu)

	return c
}

func (c *Cache) upsert(ip netutil.Addr, mac [6]byte) {
	c.mu.Lock()
	c.entries[ip] = entry{mac: mac, valid: true}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// lookup returns the cached MAC for ip, if any.
func (c *Cache) lookup(ip netutil.Addr) ([6]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ip]
	if !ok || !e.valid {
		return [6]byte{}, false
	}

	return e.mac, true
}

// PollFunc drives the driver's RX poll; ARP.Resolve calls it between cache
// checks so replies arriving without a hardware interrupt still get noticed
// (spec.md §4.1 "poll_rx is also legal to call from a waiter").
type PollFunc func()

// Input parses an ARP packet received on dev and dispatches to the request
// or reply handler.
func Input(c *Cache, reg *device.Registry, dev device.Handle, payload []byte) error {
	var pkt layers.ARP
	if err := pkt.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("arp decode: %w", err)
	}

	if pkt.Protocol != layers.EthernetTypeIPv4 || pkt.HwAddressSize != 6 || pkt.ProtAddressSize != 4 {
		return neterr.ErrUnsupportedProtocol
	}

	senderIP := netutil.AddrFromBytes(pkt.SourceProtAddress)

	var senderMAC [6]byte
	copy(senderMAC[:], pkt.SourceHwAddress)

	switch pkt.Operation {
	case layers.ARPReply:
		c.upsert(senderIP, senderMAC)

		return nil
	case layers.ARPRequest:
		return handleRequest(c, dev, pkt, senderIP, senderMAC)
	default:
		return neterr.ErrUnsupportedProtocol
	}
}

func handleRequest(c *Cache, dev device.Handle, pkt layers.ARP, senderIP netutil.Addr, senderMAC [6]byte) error {
	// Unconditionally learn the sender, same as on a reply.
	c.upsert(senderIP, senderMAC)

	target := netutil.AddrFromBytes(pkt.DstProtAddress)

	matches := false

	for _, ifc := range dev.Interfaces {
		if ifc.Addr == target {
			matches = true

			break
		}
	}

	if !matches {
		return nil
	}

	reply := buildPacket(layers.ARPReply, dev.HWAddr, firstIfaceAddr(dev), senderMAC, senderIP)

	return ethernet.Output(dev, senderMAC, ethernet.EtherTypeARP, reply)
}

func firstIfaceAddr(dev device.Handle) netutil.Addr {
	if len(dev.Interfaces) == 0 {
		return netutil.Any
	}

	return dev.Interfaces[0].Addr
}

func buildPacket(op uint16, srcMAC [6]byte, srcIP netutil.Addr, dstMAC [6]byte, dstIP netutil.Addr) []byte {
	srcIPWire := srcIP.ToWire()
	dstIPWire := dstIP.ToWire()

	pkt := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   srcMAC[:],
		SourceProtAddress: srcIPWire[:],
		DstHwAddress:      dstMAC[:],
		DstProtAddress:    dstIPWire[:],
	}

	buf := gopacket.NewSerializeBuffer()
	_ = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, pkt)

	return buf.Bytes()
}

// Resolve implements spec.md §4.4's resolve(dev, target, sender, timeout):
// a cache hit returns immediately; otherwise a broadcast request is sent and
// the caller poll-waits until either a reply lands or timeoutTicks elapse.
func Resolve(
	c *Cache,
	dev device.Handle,
	target, sender netutil.Addr,
	timeoutTicks kernel.Tick,
	clock kernel.Clock,
	yielder kernel.Yielder,
	poll PollFunc,
) ([6]byte, error) {
	if mac, ok := c.lookup(target); ok {
		return mac, nil
	}

	if !dev.Up() {
		return [6]byte{}, neterr.ErrNotConnected
	}

	req := buildPacket(layers.ARPRequest, dev.HWAddr, sender, [6]byte{}, target)
	if err := ethernet.Output(dev, broadcastMAC, ethernet.EtherTypeARP, req); err != nil {
		return [6]byte{}, err
	}

	deadline := clock.Now() + timeoutTicks

	for {
		poll()

		if mac, ok := c.lookup(target); ok {
			return mac, nil
		}

		if clock.Now() >= deadline {
			return [6]byte{}, neterr.ErrTimeout
		}

		yielder.Yield()
	}
}
