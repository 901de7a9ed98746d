// Package loopback provides the synchronous self-delivery device spec.md
// §4.2 describes: packets sent to it re-enter protocol dispatch directly,
// with no framing or driver round-trip.
package loopback

import (
	"github.com/rvkernel/netstack/device"
	"github.com/rvkernel/netstack/iface"
	"github.com/rvkernel/netstack/netutil"
)

const mtu = 65535

// InputFunc re-enters IPv4 dispatch with a packet built by the output path.
type InputFunc func(packet []byte) error

// New constructs the lo device: UP|RUNNING from construction (a loopback
// device needs no negotiation to come up), 127.0.0.1/8, and a Tx hook that
// calls deliver synchronously instead of touching any driver.
func New(deliver InputFunc) *device.Device {
	d := device.New("lo", device.KindLoopback, mtu, [6]byte{})

	d.Flags = device.FlagUp | device.FlagRunning | device.FlagLoopback
	d.Interfaces = []iface.Iface{
		iface.New(netutil.Loopback, netutil.Addr(0xFF000000)),
	}

	d.Tx = func(frame []byte) error {
		return deliver(frame)
	}

	return d
}
