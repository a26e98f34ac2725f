package broker

import (
	"sync"

	"github.com/Godzil/fusd/internal/logging"
)

// DeviceState is a device's position in the live -> zombie -> freed
// lifecycle (REDESIGN FLAGS: explicit state machine, not an implicit
// refcount-goes-to-zero check).
type DeviceState int

const (
	DeviceLive DeviceState = iota
	DeviceZombie
	DeviceFreed
)

func (s DeviceState) String() string {
	switch s {
	case DeviceLive:
		return "live"
	case DeviceZombie:
		return "zombie"
	case DeviceFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// Device is one registered pseudo-device: a name, a provider connection,
// an outbound message queue the provider reads from, and the set of
// client open files currently attached to it.
type Device struct {
	mu sync.Mutex

	Name           string
	Class          string
	DevName        string
	Mode           uint32
	ProviderCookie uint64
	ProviderPID    int32 // set at REGISTER time, used for self-open prevention

	State          DeviceState
	openInProgress int32 // bumped under the registry lock, closes the free-race window

	queue *outboundQueue
	files *fileTable

	logger *logging.Logger
	sink   EventSink
}

// EventSink receives broker lifecycle events a Device can't attribute to a
// single client call. Defined here, rather than importing the root
// package's Metrics directly, to avoid an import cycle: the root package's
// Broker implements EventSink and bridges into its *Metrics.
type EventSink interface {
	ForgedClose()
	Zombification()
}

type noOpSink struct{}

func (noOpSink) ForgedClose()    {}
func (noOpSink) Zombification()  {}

func newDevice(name, class, devName string, mode uint32, providerCookie uint64, providerPID int32, sink EventSink) *Device {
	if sink == nil {
		sink = noOpSink{}
	}
	d := &Device{
		Name:           name,
		Class:          class,
		DevName:        devName,
		Mode:           mode,
		ProviderCookie: providerCookie,
		ProviderPID:    providerPID,
		State:          DeviceLive,
		files:          newFileTable(),
		logger:         logging.Default().With("device", name),
		sink:           sink,
	}
	d.queue = newOutboundQueue(&d.mu)
	return d
}

// zombify transitions a live device to zombie: no new opens are accepted,
// calls on open files already attached fail with ErrCodeConnectionLost, and
// the outbound queue is closed so the provider channel's writer stops.
func (d *Device) zombify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State == DeviceLive {
		d.State = DeviceZombie
		d.queue.closeQueue()
		d.sink.Zombification()
	}
}

// canFree reports whether a zombie device with no open files can be
// reclaimed.
func (d *Device) canFree() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State == DeviceZombie && d.files.size() == 0
}

func (d *Device) free() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.State = DeviceFreed
	d.queue.closeQueue()
}

func (d *Device) isLive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State == DeviceLive
}

// DeviceInfo is a read-only snapshot of a device's state, used by the
// status channel and registry listing.
type DeviceInfo struct {
	Name     string
	DevName  string
	State    DeviceState
	NumOpen  int
	PID      int32
}

func (d *Device) info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceInfo{
		Name:    d.Name,
		DevName: d.DevName,
		State:   d.State,
		NumOpen: d.files.size(),
		PID:     d.ProviderPID,
	}
}
