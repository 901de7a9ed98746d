// Package route is the static IPv4 routing table: a fixed-capacity set of
// (destination, mask, gateway, device) entries with longest-prefix-match
// lookup, backed by github.com/gaissmai/bart's popcount-compressed trie
// (other_examples/125c80cd_gaissmai-bart__barttable.go.go) so "longer masks
// win ties" falls out of the library rather than being hand-rolled.
package route

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"

	"github.com/rvkernel/netstack/netutil"
	"github.com/rvkernel/netstack/neterr"
)

// MaxEntries is the spec's fixed routing-table capacity.
const MaxEntries = 8

// Entry is one routing-table row. Gateway is nil for a directly-connected
// route (next-hop is the destination itself).
type Entry struct {
	Dest    netutil.Addr
	Mask    netutil.Addr
	Gateway *netutil.Addr
	Device  string
}

// Table is the process-wide static route table.
type Table struct {
	mu    sync.Mutex
	trie  bart.Table[Entry]
	count int
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{}
}

func maskBits(mask netutil.Addr) int {
	bits := 0
	m := uint32(mask)

	for m != 0 {
		bits += int(m & 1)
		m >>= 1
	}

	return bits
}

func prefixFor(dest, mask netutil.Addr) netip.Prefix {
	w := dest.ToWire()
	addr := netip.AddrFrom4(w)

	return netip.PrefixFrom(addr, maskBits(mask)).Masked()
}

// Insert adds e to the table; capacity is enforced at MaxEntries. An entry
// whose prefix is already present is not rejected: it replaces the stored
// entry for that prefix, so two entries with the same prefix are never held
// at once, and the replacement does not count against capacity.
func (t *Table) Insert(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pfx := prefixFor(e.Dest, e.Mask)

	existed := false
	t.trie.Update(pfx, func(_ Entry, found bool) Entry {
		existed = found

		return e
	})

	if !existed {
		if t.count >= MaxEntries {
			t.trie.GetAndDelete(pfx)

			return neterr.ErrStorageFull
		}

		t.count++
	}

	return nil
}

// Lookup performs a longest-prefix-match for dst, returning (entry, true) on
// a hit or (zero, false) if no route covers dst.
func (t *Table) Lookup(dst netutil.Addr) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := dst.ToWire()
	addr := netip.AddrFrom4(w)

	return t.trie.Lookup(addr)
}
