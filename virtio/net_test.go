package virtio

import "testing"

// testMMIO is a register-map MMIO fake that answers the negotiation
// sequence like a real virtio-mmio v2 network device would.
type testMMIO struct {
	regs   map[uint32]uint32
	config [6]byte
}

func newTestMMIO(mac [6]byte) *testMMIO {
	return &testMMIO{
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

func (m *testMMIO) ReadReg32(offset uint32) uint32 { return m.regs[offset] }

func (m *testMMIO) WriteReg32(offset uint32, v uint32) {
	m.regs[offset] = v
}

func (m *testMMIO) ReadConfigByte(offset uint32) uint8 { return m.config[offset] }

func TestInitNegotiatesAndReadsMAC(t *testing.T) {
	t.Parallel()

	mac := [6]byte{0x02, 0, 0, 0, 0, 1}
	mmio := newTestMMIO(mac)

	d := NewDriver(mmio, nil)

	if err := d.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	if d.MAC() != mac {
		t.Fatalf("got mac %v, want %v", d.MAC(), mac)
	}

	if mmio.regs[regStatus]&statusDriverOK == 0 {
		t.Fatalf("expected DRIVER_OK to be set")
	}
}

func TestInitRejectsBadMagic(t *testing.T) {
	t.Parallel()

	mmio := newTestMMIO([6]byte{})
	mmio.regs[regMagic] = 0

	d := NewDriver(mmio, nil)

	if err := d.Init(); err == nil {
		t.Fatalf("expected bad-magic error")
	}
}

func TestInitRejectsSmallQueue(t *testing.T) {
	t.Parallel()

	mmio := newTestMMIO([6]byte{})
	mmio.regs[regQueueNumMax] = QueueSize - 1

	d := NewDriver(mmio, nil)

	if err := d.Init(); err == nil {
		t.Fatalf("expected queue-too-small error")
	}
}

func TestTransmitBumpsAvailAndNotifies(t *testing.T) {
	t.Parallel()

	mmio := newTestMMIO([6]byte{})
	d := NewDriver(mmio, nil)

	if err := d.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	if err := d.Transmit([]byte("hello ethernet frame")); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	if d.tx.Avail.Idx != 1 {
		t.Fatalf("expected avail idx 1, got %d", d.tx.Avail.Idx)
	}

	if mmio.regs[regQueueNotify] != 1 {
		t.Fatalf("expected a queue notify")
	}
}

func TestPollRXDeliversAndRepostsDescriptor(t *testing.T) {
	t.Parallel()

	mmio := newTestMMIO([6]byte{})

	var delivered []byte

	d := NewDriver(mmio, func(frame []byte) error {
		delivered = frame

		return nil
	})

	if err := d.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Simulate the device having written a virtio-net header followed by a
	// frame into RX slot 0, then published a used-ring completion covering
	// both.
	payload := []byte("incoming frame")
	copy(d.rx.Buffers[0][netHdrLen:], payload)
	d.rx.Used.Ring[0] = usedElem{Idx: 0, Len: uint32(netHdrLen + len(payload))}
	d.rx.Used.Idx = 1

	d.PollRX()

	if string(delivered) != string(payload) {
		t.Fatalf("delivered %q, want %q", delivered, payload)
	}

	if d.rx.lastUsedIdx != 1 {
		t.Fatalf("expected lastUsedIdx advanced, got %d", d.rx.lastUsedIdx)
	}
}

// TestPollRXRejectsOutOfRangeSlot covers spec.md §4.1's "validate id < N":
// a device-reported descriptor index outside the ring must be skipped, not
// used to index Buffers.
func TestPollRXRejectsOutOfRangeSlot(t *testing.T) {
	t.Parallel()

	mmio := newTestMMIO([6]byte{})

	delivered := false

	d := NewDriver(mmio, func(frame []byte) error {
		delivered = true

		return nil
	})

	if err := d.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	d.rx.Used.Ring[0] = usedElem{Idx: QueueSize + 5, Len: 64}
	d.rx.Used.Idx = 1

	d.PollRX()

	if delivered {
		t.Fatalf("expected no delivery for an out-of-range descriptor index")
	}

	if d.rx.lastUsedIdx != 1 {
		t.Fatalf("expected lastUsedIdx still advanced past the bad entry, got %d", d.rx.lastUsedIdx)
	}
}

// TestTransmitReclaimsDescriptorsAfterCompletion covers spec.md §4.1's
// handle_used "for TX: free the descriptor chain": without draining the TX
// used ring, QueueSize/2 transmits (two descriptors each) exhaust the ring
// permanently.
func TestTransmitReclaimsDescriptorsAfterCompletion(t *testing.T) {
	t.Parallel()

	mmio := newTestMMIO([6]byte{})
	d := NewDriver(mmio, nil)

	if err := d.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < QueueSize/2; i++ {
		if err := d.Transmit([]byte("frame")); err != nil {
			t.Fatalf("transmit %d: %v", i, err)
		}
	}

	if err := d.Transmit([]byte("one too many")); err == nil {
		t.Fatalf("expected descriptor exhaustion before reclaiming completions")
	}

	// Simulate the device completing every posted chain.
	d.tx.Used.Idx = d.tx.Avail.Idx
	for i := uint16(0); i < d.tx.Avail.Idx; i++ {
		d.tx.Used.Ring[i%QueueSize] = usedElem{Idx: uint32(d.tx.Avail.Ring[i%QueueSize])}
	}

	d.PollRX()

	if err := d.Transmit([]byte("now it fits")); err != nil {
		t.Fatalf("expected reclaimed descriptors to allow a new transmit: %v", err)
	}
}
