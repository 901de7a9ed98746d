package virtio

import "sync"

// Driver is the process-wide virtio-net driver state: MMIO window, RX/TX
// rings, and the negotiated MAC. Guarded by its own mutex, which per
// spec.md §5 sits at the head of the lock order: virtio-net > device-list >
// {PCB-table|ARP-table}.
type Driver struct {
	mu sync.Mutex

	mmio MMIO
	rx   *Ring
	tx   *Ring
	mac  [6]byte

	// Deliver hands a received Ethernet frame to the rest of the stack
	// (bound to ethernet.Input by the caller that wires the device up), the
	// same capture-a-callback-at-construction pattern as the teacher's
	// irqCallback in virtio.NewNet.
	Deliver func(frame []byte) error
}

// NewDriver constructs an un-negotiated driver over mmio. Call Init before
// any Transmit/PollRX.
func NewDriver(mmio MMIO, deliver func(frame []byte) error) *Driver {
	return &Driver{
		mmio:    mmio,
		rx:      newRing(),
		tx:      newRing(),
		Deliver: deliver,
	}
}

// MAC returns the negotiated hardware address.
func (d *Driver) MAC() [6]byte { return d.mac }

// Init runs the virtio-mmio v2 negotiation sequence spec.md §4.1 specifies
// bit-exact: magic/version/device-id checks, the ACKNOWLEDGE->DRIVER->
// FEATURES_OK status progression (re-read after each write), queue setup for
// RX (0) then TX (1), MAC readout, RX descriptor pre-posting, and finally
// DRIVER_OK.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mmio.ReadReg32(regMagic) != magicValue {
		return errBadMagic
	}

	if d.mmio.ReadReg32(regVersion) != version2 {
		return errBadVersion
	}

	if d.mmio.ReadReg32(regDeviceID) != deviceIDNet {
		return errBadDeviceID
	}

	d.mmio.WriteReg32(regStatus, 0)

	status := uint32(statusAcknowledge)
	d.mmio.WriteReg32(regStatus, status)

	if d.mmio.ReadReg32(regStatus)&statusAcknowledge == 0 {
		return errBadDeviceID
	}

	status |= statusDriver
	d.mmio.WriteReg32(regStatus, status)

	if d.mmio.ReadReg32(regStatus)&statusDriver == 0 {
		return errBadDeviceID
	}

	deviceFeatures := d.mmio.ReadReg32(regDeviceFeat)
	if deviceFeatures&featMAC == 0 {
		return errBadDeviceID
	}

	driverFeatures := deviceFeatures & (featMAC | featStatus)
	d.mmio.WriteReg32(regDriverFeat, driverFeatures)

	status |= statusFeaturesOK
	d.mmio.WriteReg32(regStatus, status)

	if d.mmio.ReadReg32(regStatus)&statusFeaturesOK == 0 {
		return errFeaturesNotOK
	}

	if err := d.setupQueue(0); err != nil {
		return err
	}

	if err := d.setupQueue(1); err != nil {
		return err
	}

	for i := 0; i < 6; i++ {
		d.mac[i] = d.mmio.ReadConfigByte(uint32(i))
	}

	d.postAllRX()

	status |= statusDriverOK
	d.mmio.WriteReg32(regStatus, status)

	return nil
}

func (d *Driver) setupQueue(sel uint32) error {
	d.mmio.WriteReg32(regQueueSel, sel)

	if d.mmio.ReadReg32(regQueueNumMax) < QueueSize {
		return errQueueTooSmall
	}

	d.mmio.WriteReg32(regQueueNum, QueueSize)

	// This driver keeps its rings as ordinary Go memory rather than a
	// separately-addressed guest-physical region, so the published
	// addresses are nominal; a bare-metal port would write real
	// descriptor/avail/used physical addresses here instead.
	d.mmio.WriteReg32(regQueueDescLow, 0)
	d.mmio.WriteReg32(regQueueDescHigh, 0)
	d.mmio.WriteReg32(regQueueAvailLow, 0)
	d.mmio.WriteReg32(regQueueAvailHigh, 0)
	d.mmio.WriteReg32(regQueueUsedLow, 0)
	d.mmio.WriteReg32(regQueueUsedHigh, 0)

	d.mmio.WriteReg32(regQueueReady, 1)

	return nil
}

// postAllRX publishes every RX descriptor to the available ring so the
// device has somewhere to write incoming frames from the first poll on.
func (d *Driver) postAllRX() {
	for i := 0; i < QueueSize; i++ {
		d.rx.Desc[i] = Desc{Addr: uint64(i), Len: bufSize}
		d.rx.Avail.Ring[uint16(i)%QueueSize] = uint16(i)
		d.rx.Avail.Idx++
	}
}

// Transmit builds the two-descriptor TX chain spec.md §4.1 describes (a
// zeroed virtio-net header, then the frame payload) and notifies the
// device. The header is written into the head descriptor's own slot buffer;
// there is no single header shared between chains. Frames larger than the
// per-slot buffer are truncated: the spec
// treats MTU-bounded frames as a precondition, not something Transmit
// re-validates.
func (d *Driver) Transmit(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.tx.allocTX()
	if !ok {
		return errNoFreeDescriptors
	}

	data, ok := d.tx.allocTX()
	if !ok {
		d.tx.releaseTX(h)

		return errNoFreeDescriptors
	}

	copy(d.tx.Buffers[h], make([]byte, netHdrLen))
	d.tx.Desc[h] = Desc{Addr: uint64(h), Len: netHdrLen, Flags: descFlagNext, Next: uint16(data)}

	n := copy(d.tx.Buffers[data], frame)
	d.tx.Desc[data] = Desc{Addr: uint64(data), Len: uint32(n)}

	d.tx.Avail.Ring[d.tx.Avail.Idx%QueueSize] = uint16(h)
	d.tx.Avail.Idx++

	d.mmio.WriteReg32(regQueueNotify, 1)

	return nil
}

// drainTX advances the TX used-ring cursor, freeing each completed
// descriptor chain (both the header descriptor and, if chained, its NEXT
// descriptor) back to the free pool. Must be called with d.mu held.
func (d *Driver) drainTX() {
	for d.tx.lastUsedIdx != d.tx.Used.Idx {
		elem := d.tx.Used.Ring[d.tx.lastUsedIdx%QueueSize]
		head := elem.Idx

		if head < QueueSize {
			desc := d.tx.Desc[head]
			if desc.Flags&descFlagNext != 0 && uint32(desc.Next) < QueueSize {
				d.tx.releaseTX(int(desc.Next))
			}

			d.tx.releaseTX(int(head))
		}

		d.tx.lastUsedIdx++
	}
}

// PollRX drains the TX used ring (freeing completed sends) and the RX used
// ring under the driver mutex, reposting each RX descriptor immediately
// (RX slots are permanently owned by the driver), releases the mutex, then
// dispatches the collected frames up the stack — exactly the hand-off
// spec.md §5 requires of poll_rx and handle_used.
func (d *Driver) PollRX() {
	d.mu.Lock()

	d.drainTX()

	var frames [][]byte

	for d.rx.lastUsedIdx != d.rx.Used.Idx {
		elem := d.rx.Used.Ring[d.rx.lastUsedIdx%QueueSize]
		slot := elem.Idx

		if slot >= QueueSize {
			// A device-reported index outside the ring is never trusted;
			// skip it rather than indexing Buffers out of bounds.
			d.rx.lastUsedIdx++

			continue
		}

		if elem.Len >= netHdrLen {
			n := elem.Len - netHdrLen
			frame := make([]byte, n)
			copy(frame, d.rx.Buffers[slot][netHdrLen:netHdrLen+n])
			frames = append(frames, frame)
		}

		d.rx.Avail.Ring[d.rx.Avail.Idx%QueueSize] = uint16(slot)
		d.rx.Avail.Idx++

		d.rx.lastUsedIdx++
	}

	deliver := d.Deliver

	d.mu.Unlock()

	if deliver == nil {
		return
	}

	for _, frame := range frames {
		_ = deliver(frame)
	}
}

// Intr acks the interrupt status bits and runs PollRX, mirroring the
// teacher's InjectIRQ/ISR split in reverse: here the driver is the one
// reading InterruptStatus and writing InterruptAck.
func (d *Driver) Intr() {
	d.mu.Lock()
	status := d.mmio.ReadReg32(regInterruptStatus)
	d.mmio.WriteReg32(regInterruptAck, status)
	d.mu.Unlock()

	d.PollRX()
}
