package broker

import (
	"sync"

	"github.com/Godzil/fusd/internal/constants"
)

// OpenFileState is the lifecycle state of a single open-file handle.
type OpenFileState int

const (
	OpenFileLive OpenFileState = iota
	OpenFileClosing
	OpenFileFreed
)

// OpenFile represents one client's open instance of a device.
type OpenFile struct {
	mu sync.Mutex

	ID       uint64
	PID      int32
	UID      uint32
	GID      uint32
	State    OpenFileState
	index    int // slot in the owning fileTable, for O(1) removal
	cond     *sync.Cond

	cached   ReadinessBits
	lastSent ReadinessBits

	// Flags and ClientCookie are refreshed from every provider reply
	// (spec.md §4.5 step 8). ProviderCookie lives only on Device: a
	// client-side change is never propagated back into it.
	Flags        uint64
	ClientCookie uint64

	transactions *transactionTable
}

func newOpenFile(id uint64, pid int32, uid, gid uint32) *OpenFile {
	of := &OpenFile{
		ID:       id,
		PID:      pid,
		UID:      uid,
		GID:      gid,
		State: OpenFileLive,
		cached: ReadinessUnknown,
		// lastSent starts different from cached so the very first Poll call
		// is dirty and kicks off the initial provider round trip.
		lastSent: 0,
	}
	of.cond = sync.NewCond(&of.mu)
	of.transactions = newTransactionTable()
	return of
}

// fileTable is a dynamically sized array of open files, matching the
// original FUSD growth/shrink policy: start at MinFileArraySize, double on
// overflow, halve when occupancy drops below 25%, never shrink below the
// minimum. Deletion swaps the last live entry into the freed slot and
// renumbers its stored index, avoiding a hole-tracking free list.
type fileTable struct {
	mu      sync.Mutex
	entries []*OpenFile
	count   int
	nextID  uint64
}

func newFileTable() *fileTable {
	return &fileTable{
		entries: make([]*OpenFile, constants.MinFileArraySize),
	}
}

// insert adds of to the table, assigns it a fresh ID and slot index, and
// returns the slot index.
func (t *fileTable) insert(of *OpenFile) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == len(t.entries) {
		t.growLocked()
	}
	idx := t.count
	t.entries[idx] = of
	t.count++

	t.nextID++
	of.ID = t.nextID
	of.index = idx
	return idx
}

func (t *fileTable) growLocked() {
	newSize := len(t.entries) * 2
	if newSize > constants.MaxFileArraySize {
		newSize = constants.MaxFileArraySize
	}
	if newSize == len(t.entries) {
		return // already at ceiling; caller's insert will fail to find room
	}
	newEntries := make([]*OpenFile, newSize)
	copy(newEntries, t.entries)
	t.entries = newEntries
}

// remove deletes the open file at the given slot index, swapping the last
// live entry into the freed slot and updating its stored index.
func (t *fileTable) remove(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= t.count {
		return
	}
	last := t.count - 1
	if idx != last {
		t.entries[idx] = t.entries[last]
		t.entries[idx].index = idx
	}
	t.entries[last] = nil
	t.count--

	t.maybeShrinkLocked()
}

func (t *fileTable) maybeShrinkLocked() {
	arrSize := len(t.entries)
	if arrSize <= constants.MinFileArraySize {
		return
	}
	if t.count*4 >= arrSize {
		return // at or above 25% occupancy
	}
	newSize := arrSize / 2
	if newSize < constants.MinFileArraySize {
		newSize = constants.MinFileArraySize
	}
	newEntries := make([]*OpenFile, newSize)
	copy(newEntries, t.entries[:t.count])
	t.entries = newEntries
}

// byIndex returns the open file at the given slot, or nil if out of range.
func (t *fileTable) byIndex(idx int) *OpenFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= t.count {
		return nil
	}
	return t.entries[idx]
}

// all returns a snapshot slice of all live open files.
func (t *fileTable) all() []*OpenFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*OpenFile, t.count)
	copy(out, t.entries[:t.count])
	return out
}

func (t *fileTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
