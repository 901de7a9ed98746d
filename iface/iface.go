// Package iface holds the per-device IPv4 interface tuple.
package iface

import "github.com/rvkernel/netstack/netutil"

// Iface is one IPv4 address bound to a device. Broadcast is derived once,
// at construction, and never recomputed.
type Iface struct {
	Addr      netutil.Addr
	Netmask   netutil.Addr
	Broadcast netutil.Addr
}

// New builds an Iface, deriving Broadcast as addr | ~netmask.
func New(addr, netmask netutil.Addr) Iface {
	return Iface{
		Addr:      addr,
		Netmask:   netmask,
		Broadcast: addr.BroadcastFor(netmask),
	}
}

// Covers reports whether dst falls within this interface's subnet.
func (i Iface) Covers(dst netutil.Addr) bool {
	return dst.Mask(i.Netmask) == i.Addr.Mask(i.Netmask)
}
