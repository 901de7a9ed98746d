package virtio

import "sync"

// SimMMIO is a software stand-in for a real virtio-mmio v2 register window:
// it answers the negotiation sequence and accepts notifies, but has no
// physical peer on the other end of the wire. It exists so the driver (and
// anything built on it, like the cmd/ping and cmd/nslookup demos) runs on a
// developer machine without a mapped virtio-net device; a bare-metal boot
// would pass a real MMIO implementation to virtio.NewDriver instead.
type SimMMIO struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	config [6]byte
}

// NewSimMMIO returns a SimMMIO pre-seeded to negotiate successfully and
// report mac as its configuration space MAC address.
func NewSimMMIO(mac [6]byte) *SimMMIO {
	return &SimMMIO{
		regs: map[uint32]uint32{
			regMagic:       magicValue,
			regVersion:     version2,
			regDeviceID:    deviceIDNet,
			regDeviceFeat:  featMAC | featStatus,
			regQueueNumMax: QueueSize,
		},
		config: mac,
	}
}

func (s *SimMMIO) ReadReg32(offset uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.regs[offset]
}

func (s *SimMMIO) WriteReg32(offset uint32, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs[offset] = v
}

func (s *SimMMIO) ReadConfigByte(offset uint32) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.config[offset]
}
