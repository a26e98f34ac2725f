package fusd

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for a broker instance, covering
// the client-facing call mix, provider round trips, and the lifecycle
// events that don't correspond to a single client call (forged closes,
// zombifications).
type Metrics struct {
	// Client call counters
	OpenOps  atomic.Uint64
	CloseOps atomic.Uint64
	ReadOps  atomic.Uint64
	WriteOps atomic.Uint64
	IoctlOps atomic.Uint64
	PollOps  atomic.Uint64
	MmapOps  atomic.Uint64

	// Byte counters
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	// Error counters, one per call kind above
	OpenErrors  atomic.Uint64
	CloseErrors atomic.Uint64
	ReadErrors  atomic.Uint64
	WriteErrors atomic.Uint64
	IoctlErrors atomic.Uint64
	PollErrors  atomic.Uint64
	MmapErrors  atomic.Uint64

	// Broker-internal lifecycle events, not attributable to a single
	// client call
	ForgedCloses   atomic.Uint64 // synthesized CLOSE sent after open-after-vanish
	Zombifications atomic.Uint64 // devices that transitioned live -> zombie
	UnmatchedReplies atomic.Uint64 // provider replies with no matching transaction

	// Transaction table occupancy
	TransactionTableSize atomic.Uint64 // current outstanding transaction count
	MaxTransactionTable  atomic.Uint64 // high-water mark

	// Performance tracking, across all call kinds
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts); bucket[i] holds the
	// count of operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Broker lifecycle
	StartTime atomic.Int64 // broker start timestamp (UnixNano)
	StopTime  atomic.Int64 // broker stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordOpen records an OPEN call.
func (m *Metrics) RecordOpen(latencyNs uint64, success bool) {
	m.OpenOps.Add(1)
	if !success {
		m.OpenErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordClose records a CLOSE call.
func (m *Metrics) RecordClose(latencyNs uint64, success bool) {
	m.CloseOps.Add(1)
	if !success {
		m.CloseErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRead records a READ call.
func (m *Metrics) RecordRead(bytes uint64, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(bytes)
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite records a WRITE call.
func (m *Metrics) RecordWrite(bytes uint64, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordIoctl records an IOCTL call.
func (m *Metrics) RecordIoctl(latencyNs uint64, success bool) {
	m.IoctlOps.Add(1)
	if !success {
		m.IoctlErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordPoll records a readiness-diff long poll.
func (m *Metrics) RecordPoll(latencyNs uint64, success bool) {
	m.PollOps.Add(1)
	if !success {
		m.PollErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordMmap records an MMAP call (expected to always fail with not-supported).
func (m *Metrics) RecordMmap(latencyNs uint64, success bool) {
	m.MmapOps.Add(1)
	if !success {
		m.MmapErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordForgedClose records a broker-synthesized CLOSE sent to balance a
// provider's open/close accounting after open-after-vanish.
func (m *Metrics) RecordForgedClose() {
	m.ForgedCloses.Add(1)
}

// RecordZombification records a device transitioning from live to zombie.
func (m *Metrics) RecordZombification() {
	m.Zombifications.Add(1)
}

// RecordUnmatchedReply records a provider reply for which no transaction
// was found in the table (already superseded or never existed).
func (m *Metrics) RecordUnmatchedReply() {
	m.UnmatchedReplies.Add(1)
}

// RecordTransactionTableSize updates the current and high-water-mark
// outstanding transaction counts.
func (m *Metrics) RecordTransactionTableSize(size uint64) {
	m.TransactionTableSize.Store(size)
	for {
		current := m.MaxTransactionTable.Load()
		if size <= current {
			break
		}
		if m.MaxTransactionTable.CompareAndSwap(current, size) {
			break
		}
	}
}

// recordLatency records operation latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the broker as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	OpenOps  uint64
	CloseOps uint64
	ReadOps  uint64
	WriteOps uint64
	IoctlOps uint64
	PollOps  uint64
	MmapOps  uint64

	ReadBytes  uint64
	WriteBytes uint64

	OpenErrors  uint64
	CloseErrors uint64
	ReadErrors  uint64
	WriteErrors uint64
	IoctlErrors uint64
	PollErrors  uint64
	MmapErrors  uint64

	ForgedCloses     uint64
	Zombifications   uint64
	UnmatchedReplies uint64

	TransactionTableSize uint64
	MaxTransactionTable  uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		OpenOps:  m.OpenOps.Load(),
		CloseOps: m.CloseOps.Load(),
		ReadOps:  m.ReadOps.Load(),
		WriteOps: m.WriteOps.Load(),
		IoctlOps: m.IoctlOps.Load(),
		PollOps:  m.PollOps.Load(),
		MmapOps:  m.MmapOps.Load(),

		ReadBytes:  m.ReadBytes.Load(),
		WriteBytes: m.WriteBytes.Load(),

		OpenErrors:  m.OpenErrors.Load(),
		CloseErrors: m.CloseErrors.Load(),
		ReadErrors:  m.ReadErrors.Load(),
		WriteErrors: m.WriteErrors.Load(),
		IoctlErrors: m.IoctlErrors.Load(),
		PollErrors:  m.PollErrors.Load(),
		MmapErrors:  m.MmapErrors.Load(),

		ForgedCloses:     m.ForgedCloses.Load(),
		Zombifications:   m.Zombifications.Load(),
		UnmatchedReplies: m.UnmatchedReplies.Load(),

		TransactionTableSize: m.TransactionTableSize.Load(),
		MaxTransactionTable:  m.MaxTransactionTable.Load(),
	}

	snap.TotalOps = snap.OpenOps + snap.CloseOps + snap.ReadOps + snap.WriteOps + snap.IoctlOps + snap.PollOps + snap.MmapOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.OpenErrors + snap.CloseErrors + snap.ReadErrors + snap.WriteErrors +
		snap.IoctlErrors + snap.PollErrors + snap.MmapErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.OpenOps.Store(0)
	m.CloseOps.Store(0)
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.IoctlOps.Store(0)
	m.PollOps.Store(0)
	m.MmapOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.OpenErrors.Store(0)
	m.CloseErrors.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.IoctlErrors.Store(0)
	m.PollErrors.Store(0)
	m.MmapErrors.Store(0)
	m.ForgedCloses.Store(0)
	m.Zombifications.Store(0)
	m.UnmatchedReplies.Store(0)
	m.TransactionTableSize.Store(0)
	m.MaxTransactionTable.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, letting a caller bridge
// broker events into an external metrics system instead of (or alongside)
// the built-in Metrics.
type Observer interface {
	ObserveOpen(latencyNs uint64, success bool)
	ObserveClose(latencyNs uint64, success bool)
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveIoctl(latencyNs uint64, success bool)
	ObservePoll(latencyNs uint64, success bool)
	ObserveForgedClose()
	ObserveZombification()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveOpen(uint64, bool)          {}
func (NoOpObserver) ObserveClose(uint64, bool)         {}
func (NoOpObserver) ObserveRead(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool) {}
func (NoOpObserver) ObserveIoctl(uint64, bool)         {}
func (NoOpObserver) ObservePoll(uint64, bool)          {}
func (NoOpObserver) ObserveForgedClose()               {}
func (NoOpObserver) ObserveZombification()             {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveOpen(latencyNs uint64, success bool) {
	o.metrics.RecordOpen(latencyNs, success)
}

func (o *MetricsObserver) ObserveClose(latencyNs uint64, success bool) {
	o.metrics.RecordClose(latencyNs, success)
}

func (o *MetricsObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordRead(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordWrite(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveIoctl(latencyNs uint64, success bool) {
	o.metrics.RecordIoctl(latencyNs, success)
}

func (o *MetricsObserver) ObservePoll(latencyNs uint64, success bool) {
	o.metrics.RecordPoll(latencyNs, success)
}

func (o *MetricsObserver) ObserveForgedClose() {
	o.metrics.RecordForgedClose()
}

func (o *MetricsObserver) ObserveZombification() {
	o.metrics.RecordZombification()
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
