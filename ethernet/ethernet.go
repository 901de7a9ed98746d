// Package ethernet frames and parses Ethernet II frames and demuxes on
// EtherType. Header encode/decode is delegated to gopacket/layers.Ethernet
// (the "zero-copy view type" the spec's redesign notes ask for in place of
// a packed-struct cast); the device-UP check and EtherType dispatch are
// hand-written, since gopacket has no notion of "device" or "protocol
// dispatch table".
package ethernet

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/rvkernel/netstack/device"
	"github.com/rvkernel/netstack/dispatch"
	"github.com/rvkernel/netstack/neterr"
)

const (
	EtherTypeARP  = uint16(layers.EthernetTypeARP)
	EtherTypeIPv4 = uint16(layers.EthernetTypeIPv4)

	HeaderLen = 14
)

// Handler receives the Ethernet payload of one frame and the device it
// arrived on.
type Handler func(dev device.Handle, payload []byte) error

// Dispatcher maps an EtherType to the protocol input handler responsible
// for it (ARP, IPv4). It is the "protocol dispatch" row of §2's layering
// table — the teacher has no equivalent since its single IO bus never needs
// a second demux stage.
type Dispatcher = dispatch.Table[uint16, Handler]

// NewDispatcher returns an empty EtherType dispatch table.
func NewDispatcher() *Dispatcher {
	return dispatch.New[uint16, Handler]()
}

// Input parses frame (as received on dev) and dispatches its payload to the
// registered handler for its EtherType. Parse failures and unregistered
// EtherTypes are reported to the caller (the Deliver callback netinit gives
// the virtio driver logs the error and the frame is dropped, per spec §7's
// ingress policy — Input itself just classifies).
func Input(dispatcher *Dispatcher, dev device.Handle, frame []byte) error {
	if len(frame) < HeaderLen {
		return neterr.ErrPacketTooShort
	}

	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("ethernet decode: %w", err)
	}

	h, ok := dispatcher.Lookup(uint16(eth.EthernetType))
	if !ok {
		return neterr.ErrUnsupportedProtocol
	}

	return h(dev, eth.Payload)
}

// Output builds an Ethernet II frame around payload and hands it to dev's
// transmit hook. It refuses to send on a device that is not UP.
func Output(dev device.Handle, dstMAC [6]byte, etherType uint16, payload []byte) error {
	if !dev.Up() {
		return neterr.ErrNotConnected
	}

	eth := &layers.Ethernet{
		SrcMAC:       dev.HWAddr[:],
		DstMAC:       dstMAC[:],
		EthernetType: layers.EthernetType(etherType),
	}

	buf := gopacket.NewSerializeBuffer()

	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("ethernet encode: %w", err)
	}

	return dev.Tx(buf.Bytes())
}
