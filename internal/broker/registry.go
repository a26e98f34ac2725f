package broker

import (
	"sync"
	"sync/atomic"

	"github.com/Godzil/fusd/internal/constants"
)

// Registry is the broker's global device name -> Device map. Lock order:
// acquiring a device's mutex while holding the registry mutex is
// permitted; the reverse is never done.
type Registry struct {
	mu      sync.Mutex
	byName  map[string]*Device
	version atomic.Uint64
	sink    EventSink

	waitMu sync.Mutex
	waitCh chan struct{} // closed and replaced on every version bump, wakes status waiters
}

// NewRegistry creates an empty device registry. sink may be nil.
func NewRegistry(sink EventSink) *Registry {
	return &Registry{
		byName: make(map[string]*Device),
		waitCh: make(chan struct{}),
		sink:   sink,
	}
}

// Register adds a new device under name, failing with ErrCodeNameCollision
// if one is already registered and live, and ErrCodeInvalidArgument if the
// name exceeds the wire format's fixed field.
func (r *Registry) Register(name, class, devName string, mode uint32, providerCookie uint64, providerPID int32) (*Device, error) {
	if len(name) > constants.MaxNameLength {
		return nil, newOpError("REGISTER", ErrCodeInvalidArgument, "device name too long")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok && existing.isLive() {
		return nil, newDeviceOpError("REGISTER", name, ErrCodeNameCollision, "device name already registered")
	}

	d := newDevice(name, class, devName, mode, providerCookie, providerPID, r.sink)
	r.byName[name] = d
	r.bumpVersionLocked()
	return d, nil
}

// Unregister marks name's device as zombie and reclaims it at once if it
// has no open files and no Lookup in progress; otherwise a later
// ReleaseLookup reclaims it once both are zero. Closing a device's last
// open file does not by itself reclaim the device.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	d, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return newDeviceOpError("UNREGISTER", name, ErrCodeNotFound, "device not registered")
	}
	d.zombify()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bumpVersionLocked()
	if d.canFree() && atomic.LoadInt32(&d.openInProgress) == 0 {
		d.free()
		delete(r.byName, name)
	}
	return nil
}

// Lookup returns the named device with openInProgress already bumped,
// closing the free-race window between finding a device and opening it
// (the increment happens before the registry lock is released).
func (r *Registry) Lookup(name string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byName[name]
	if !ok {
		return nil
	}
	atomic.AddInt32(&d.openInProgress, 1)
	return d
}

// ReleaseLookup balances a Lookup's openInProgress bump and, if the device
// has since zombified with no opens remaining, reclaims it.
func (r *Registry) ReleaseLookup(d *Device) {
	atomic.AddInt32(&d.openInProgress, -1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.canFree() && atomic.LoadInt32(&d.openInProgress) == 0 {
		d.free()
		delete(r.byName, d.Name)
		r.bumpVersionLocked()
	}
}

// Snapshot returns DeviceInfo for every currently tracked device.
func (r *Registry) Snapshot() []DeviceInfo {
	r.mu.Lock()
	devices := make([]*Device, 0, len(r.byName))
	for _, d := range r.byName {
		devices = append(devices, d)
	}
	r.mu.Unlock()

	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = d.info()
	}
	return out
}

// Version returns the current registration version counter.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

func (r *Registry) bumpVersionLocked() {
	r.version.Add(1)
	r.waitMu.Lock()
	close(r.waitCh)
	r.waitCh = make(chan struct{})
	r.waitMu.Unlock()
}

// WaitChanged blocks until the registry version advances past
// lastSeenVersion or ctx is done, returning the new version.
func (r *Registry) WaitChanged(ctx doneWaiter, lastSeenVersion uint64) uint64 {
	for {
		if v := r.Version(); v != lastSeenVersion {
			return v
		}
		r.waitMu.Lock()
		ch := r.waitCh
		r.waitMu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return r.Version()
		}
	}
}

// doneWaiter is satisfied by context.Context; kept narrow to avoid an
// import cycle concern and to make the registry's dependency explicit.
type doneWaiter interface {
	Done() <-chan struct{}
}
