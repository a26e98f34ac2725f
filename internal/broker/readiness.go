package broker

import "golang.org/x/sys/unix"

// ReadinessBits is a small poll(2)-compatible bitset: readable, writable,
// and exceptional-condition bits, built from the real POLLIN/POLLOUT/POLLPRI
// values so a caller can compose it directly with unix.Poll results.
type ReadinessBits uint8

const (
	ReadinessReadable    ReadinessBits = unix.POLLIN
	ReadinessWritable    ReadinessBits = unix.POLLOUT
	ReadinessException   ReadinessBits = unix.POLLPRI
	ReadinessUnknown     ReadinessBits = 0xff
)

// readinessDirty reports whether cached and lastSent differ, meaning the client has
// not yet observed the current cached readiness.
func (of *OpenFile) readinessDirty() bool {
	return of.cached != of.lastSent
}

// updateReadiness applies a provider readiness-diff reply. Caller holds
// of.mu.
func (of *OpenFile) updateReadiness(bits ReadinessBits) {
	of.cached = bits
	of.lastSent = ReadinessUnknown
	of.cond.Broadcast()
}

// markSent records that the client has observed the current cached value.
// Caller holds of.mu.
func (of *OpenFile) markSent() {
	of.lastSent = of.cached
}

// clearReadable clears the cached readable bit once a Read has drained the
// provider's pending data (spec.md §4.5: "clears the readable bit"). Caller
// holds of.mu.
func (of *OpenFile) clearReadable() {
	of.cached &^= ReadinessReadable
}

// clearWritable clears the cached writable bit once a Write has consumed
// the provider's buffer space (spec.md §4.5: "clears the writable bit").
// Caller holds of.mu.
func (of *OpenFile) clearWritable() {
	of.cached &^= ReadinessWritable
}
