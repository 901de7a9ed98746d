// Package device is the process-wide network device list (spec.md §9:
// "Global mutable tables... model each as a process-wide state with
// well-defined init and no teardown"), grounded on the teacher's
// device.IODevice interface and its once-at-boot registration pattern.
package device

import (
	"errors"
	"sync"

	"github.com/rvkernel/netstack/iface"
)

// Kind distinguishes the two device families this spec covers.
type Kind int

const (
	KindLoopback Kind = iota
	KindEthernet
)

// Flag is one bit of a device's flag set.
type Flag uint8

const (
	FlagUp Flag = 1 << iota
	FlagBroadcast
	FlagLoopback
	FlagRunning
)

// Has reports whether f is set in the flag word fs.
func (f Flag) Has(fs Flag) bool { return fs&f != 0 }

const maxNameLen = 15

// TxFunc transmits a single link-layer frame.
type TxFunc func(frame []byte) error

// LifecycleFunc is the Open/Close hook signature.
type LifecycleFunc func() error

// Device is a network device record: boot-time configuration plus the
// operation hooks (transmit, open, close) the spec requires. Device values
// are registered once and never destroyed.
type Device struct {
	name       string
	Kind       Kind
	MTU        int
	Flags      Flag
	HdrLen     int
	AddrLen    int
	HWAddr     [6]byte
	Tx         TxFunc
	OpenFunc   LifecycleFunc
	CloseFunc  LifecycleFunc
	Interfaces []iface.Iface
}

// New constructs a Device, truncating name to the spec's 15-byte limit.
func New(name string, kind Kind, mtu int, hwaddr [6]byte) *Device {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	return &Device{
		name:    name,
		Kind:    kind,
		MTU:     mtu,
		HdrLen:  14,
		AddrLen: 6,
		HWAddr:  hwaddr,
	}
}

// Name returns the device's short name.
func (d *Device) Name() string { return d.name }

// Up reports whether the UP flag is set.
func (d *Device) Up() bool { return FlagUp.Has(d.Flags) }

// Open runs the device's open hook (if any) and sets UP|RUNNING.
func (d *Device) Open() error {
	if d.OpenFunc != nil {
		if err := d.OpenFunc(); err != nil {
			return err
		}
	}

	d.Flags |= FlagUp | FlagRunning

	return nil
}

// Handle is an immutable snapshot of a device's fields plus its Tx hook,
// obtained from Registry without holding the registry lock — the fix for
// the teacher's "clone the device to call transmit" workaround (spec.md §9):
// the underlying requirement is "call transmit without holding the
// device-list lock", satisfied here by copying the (small, value) fields out
// and handing back the Tx func value directly.
type Handle struct {
	Name       string
	Kind       Kind
	MTU        int
	Flags      Flag
	HWAddr     [6]byte
	Interfaces []iface.Iface
	Tx         TxFunc
}

func handleOf(d *Device) Handle {
	return Handle{
		Name:       d.name,
		Kind:       d.Kind,
		MTU:        d.MTU,
		Flags:      d.Flags,
		HWAddr:     d.HWAddr,
		Interfaces: d.Interfaces,
		Tx:         d.Tx,
	}
}

// Up reports whether the UP flag is set on the handle's snapshot.
func (h Handle) Up() bool { return FlagUp.Has(h.Flags) }

var errAlreadyRegistered = errors.New("device already registered")

// Registry is the process-wide device list, guarded by a mutex per the
// spec's acquisition order (virtio-net > device-list > ...).
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewRegistry returns an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Register adds d to the registry under its name. A device may be
// registered exactly once.
func (r *Registry) Register(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[d.name]; exists {
		return errAlreadyRegistered
	}

	r.devices[d.name] = d

	return nil
}

// Lookup returns a Handle snapshot for the named device. The registry lock
// is released before returning, so callers may call Handle.Tx freely.
func (r *Registry) Lookup(name string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[name]
	if !ok {
		return Handle{}, false
	}

	return handleOf(d), true
}

// Device returns the live *Device for name, for callers (netinit, tests)
// that need to mutate device state (e.g. during Open). Everyday packet-path
// code should use Lookup instead, to avoid holding a pointer across a
// transmit call.
func (r *Registry) Device(name string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[name]

	return d, ok
}

// All returns a snapshot of every registered device's handle.
func (r *Registry) All() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Handle, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, handleOf(d))
	}

	return out
}
