package virtio

// QueueSize is the fixed ring depth for both RX and TX virtqueues.
const QueueSize = 32

const (
	descFlagNext = 0x1

	bufSize = 2048

	netHdrLen = 10
)

// Desc is one descriptor-table entry: a guest-physical buffer address plus
// length and chaining flags. Layout matches the teacher's DescTable entry in
// virtio/net.go.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// AvailRing is the driver-to-device ring: the driver publishes descriptor
// head indices here and bumps Idx.
type AvailRing struct {
	Flags uint16
	Idx   uint16
	Ring  [QueueSize]uint16
}

// usedElem pairs a descriptor-chain head index with the byte count the
// device wrote into it.
type usedElem struct {
	Idx uint32
	Len uint32
}

// UsedRing is the device-to-driver ring: the device publishes completions
// here and bumps Idx.
type UsedRing struct {
	Flags uint16
	Idx   uint16
	Ring  [QueueSize]usedElem
}

// Ring bundles one virtqueue's three areas plus the driver-side buffers
// backing each descriptor and, for TX, a free-slot bitmap (RX descriptors
// are permanently owned by the driver and recycled in place).
type Ring struct {
	Desc  [QueueSize]Desc
	Avail AvailRing
	Used  UsedRing

	Buffers [QueueSize][]byte

	// free marks TX descriptor slots not currently posted to the device.
	// Unused for RX, whose slots are always reposted immediately.
	free [QueueSize]bool

	lastUsedIdx uint16
}

func newRing() *Ring {
	r := &Ring{}

	for i := range r.Buffers {
		r.Buffers[i] = make([]byte, bufSize)
		r.free[i] = true
	}

	return r
}

// allocTX finds a free TX descriptor slot.
func (r *Ring) allocTX() (int, bool) {
	for i, f := range r.free {
		if f {
			r.free[i] = false

			return i, true
		}
	}

	return 0, false
}

func (r *Ring) releaseTX(slot int) {
	r.free[slot] = true
}
