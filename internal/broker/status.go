package broker

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/Godzil/fusd/internal/constants"
)

// Snapshot renders the registry's current device list either as the
// textual "PID / Open / Name" table or as fixed 64-byte binary records,
// matching the original's build_text/build_binary status formats widened
// to a clean stride.
func Snapshot(r *Registry, binaryFormat bool) []byte {
	devices := r.Snapshot()
	if binaryFormat {
		return snapshotBinary(devices)
	}
	return snapshotText(devices)
}

func snapshotText(devices []DeviceInfo) []byte {
	var b strings.Builder
	b.WriteString("PID\tOpen\tName\n")
	for _, d := range devices {
		name := d.Name
		if d.State == DeviceZombie {
			name += " (zombie)"
		}
		fmt.Fprintf(&b, "%d\t%d\t%s\n", d.PID, d.NumOpen, name)
	}
	return []byte(b.String())
}

func snapshotBinary(devices []DeviceInfo) []byte {
	out := make([]byte, len(devices)*constants.StatusRecordSize)
	for i, d := range devices {
		rec := out[i*constants.StatusRecordSize : (i+1)*constants.StatusRecordSize]
		n := copy(rec[0:48], d.Name)
		for j := n; j < 48; j++ {
			rec[j] = 0
		}
		zombie := int32(0)
		if d.State == DeviceZombie {
			zombie = 1
		}
		binary.LittleEndian.PutUint32(rec[48:52], uint32(zombie))
		binary.LittleEndian.PutUint32(rec[52:56], uint32(d.PID))
		binary.LittleEndian.PutUint32(rec[56:60], uint32(d.NumOpen))
		// rec[60:64] left zero: padding to the 64-byte stride.
	}
	return out
}

// StatusHandle is a client's open instance of the pollable status channel
// (spec.md §4.8): Read streams one snapshot across multiple calls until it
// is exhausted, then takes a fresh one on the next call; Poll reports
// readable once the registry has changed since the snapshot currently (or
// most recently) being read.
type StatusHandle struct {
	mu       sync.Mutex
	registry *Registry
	binary   bool
	version  uint64
	buf      []byte
}

// NewStatusHandle opens a status handle against r, rendering snapshots in
// either the textual or the fixed-size binary record format.
func NewStatusHandle(r *Registry, binaryFormat bool) *StatusHandle {
	return &StatusHandle{registry: r, binary: binaryFormat}
}

// Read returns up to length bytes of the current snapshot. A fresh snapshot
// is taken only once the previous one has been fully consumed, matching
// the "streamed across multiple reads until exhausted" requirement.
func (h *StatusHandle) Read(length int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) == 0 {
		h.buf = Snapshot(h.registry, h.binary)
		h.version = h.registry.Version()
	}
	n := length
	if n > len(h.buf) {
		n = len(h.buf)
	}
	out := h.buf[:n]
	h.buf = h.buf[n:]
	return out
}

// Poll blocks until the registry has changed since the version the current
// snapshot was taken against, or ctx is done, then reports whether the
// handle is readable.
func (h *StatusHandle) Poll(ctx context.Context) ReadinessBits {
	h.mu.Lock()
	v := h.version
	h.mu.Unlock()
	if h.registry.WaitChanged(ctx, v) != v {
		return ReadinessReadable
	}
	return 0
}
