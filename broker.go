// Package fusd provides the main API for running a FUSD broker: a
// process-resident dispatcher between client callers and out-of-process
// provider programs that implement pseudo-devices over a Unix domain
// socket.
package fusd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Godzil/fusd/internal/broker"
	"github.com/Godzil/fusd/internal/logging"
	"github.com/Godzil/fusd/internal/providerconn"
)

// Config contains parameters for starting a broker.
type Config struct {
	// SocketPath is the Unix domain socket providers dial to register
	// devices and exchange call/reply frames.
	SocketPath string

	// Verbosity maps onto logging.LogLevel.
	Verbosity logging.LogLevel
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SocketPath: "/tmp/fusd.sock",
		Verbosity:  logging.LevelInfo,
	}
}

// Options contains additional options for broker creation.
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, a default logger is used)
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses a built-in Metrics
	// instance reachable via Broker.Metrics)
	Observer Observer
}

// Broker accepts provider connections and dispatches client calls against
// the devices they register.
type Broker struct {
	id       string
	registry *broker.Registry
	listener *providerconn.Listener
	logger   *logging.Logger
	metrics  *Metrics
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc
}

// CreateAndServe starts a broker listening on cfg.SocketPath and begins
// accepting provider connections in the background. This is the main entry
// point for running a broker.
//
// The broker keeps running until the context is cancelled or Stop is
// called.
//
// Example:
//
//	cfg := fusd.DefaultConfig()
//	b, err := fusd.CreateAndServe(context.Background(), cfg, nil)
func CreateAndServe(ctx context.Context, cfg Config, options *Options) (*Broker, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLogger(&logging.Config{Level: cfg.Verbosity})
	}

	metrics := NewMetrics()
	observer := options.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	ln, err := providerconn.Listen(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("fusd: listen %s: %w", cfg.SocketPath, err)
	}

	id := uuid.New().String()
	b := &Broker{
		id:       id,
		listener: ln,
		logger:   logger.With("broker", id),
		metrics:  metrics,
		observer: observer,
	}
	b.registry = broker.NewRegistry(b)
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.acceptLoop()
	go func() {
		<-b.ctx.Done()
		b.listener.Close()
	}()

	b.logger.Info("broker started", "socket", cfg.SocketPath)
	return b, nil
}

// acceptLoop accepts provider connections until the listener closes.
func (b *Broker) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			pc := broker.NewProviderChannel(conn, b.registry)
			if err := pc.Serve(); err != nil {
				b.logger.Warn("provider channel closed", "error", err)
			}
		}()
	}
}

// ForgedClose implements broker.EventSink.
func (b *Broker) ForgedClose() {
	b.metrics.RecordForgedClose()
	b.observer.ObserveForgedClose()
}

// Zombification implements broker.EventSink.
func (b *Broker) Zombification() {
	b.metrics.RecordZombification()
	b.observer.ObserveZombification()
}

// ID returns the broker instance's UUID tag, used to tell multiple broker
// processes' log streams and status output apart.
func (b *Broker) ID() string {
	return b.id
}

// Metrics returns the broker's built-in metrics.
func (b *Broker) Metrics() *Metrics {
	return b.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of broker metrics.
func (b *Broker) MetricsSnapshot() MetricsSnapshot {
	return b.metrics.Snapshot()
}

// Status renders the current device list, either as the textual
// "PID/Open/Name" table (binaryFormat false) or as fixed-size binary
// records (binaryFormat true).
func (b *Broker) Status(binaryFormat bool) []byte {
	return broker.Snapshot(b.registry, binaryFormat)
}

// Devices returns a snapshot of every currently registered device.
func (b *Broker) Devices() []broker.DeviceInfo {
	return b.registry.Snapshot()
}

// OpenStatus opens a pollable status handle: its Read streams one device
// snapshot across multiple calls until exhausted, then takes a fresh one,
// and its Poll blocks until the device registry changes.
func (b *Broker) OpenStatus(binaryFormat bool) *broker.StatusHandle {
	return broker.NewStatusHandle(b.registry, binaryFormat)
}

// Stop shuts the broker down: the broker's context is cancelled and the
// listener stops accepting new provider connections. Client calls run under
// the contexts their callers pass in, which Stop does not cancel.
func (b *Broker) Stop() {
	b.cancel()
	b.metrics.Stop()
}

// OpenHandle is a client's open instance of a registered device.
type OpenHandle struct {
	broker *Broker
	device *broker.Device
	of     *broker.OpenFile
}

// Open opens deviceName on behalf of pid, returning a handle used for the
// subsequent Read/Write/Ioctl/Poll/Mmap/Close calls.
func (b *Broker) Open(ctx context.Context, deviceName string, pid int32, uid, gid uint32) (*OpenHandle, error) {
	d := b.registry.Lookup(deviceName)
	if d == nil {
		return nil, NewDeviceError("OPEN", deviceName, ErrCodeNotFound, "device not registered")
	}
	defer b.registry.ReleaseLookup(d)

	start := time.Now()
	of, err := d.Open(ctx, pid, uid, gid)
	success := err == nil
	b.metrics.RecordOpen(uint64(time.Since(start)), success)
	b.observer.ObserveOpen(uint64(time.Since(start)), success)
	if err != nil {
		return nil, wrapOpError(err)
	}
	return &OpenHandle{broker: b, device: d, of: of}, nil
}

// Close closes the handle. A handle must not be used after Close returns.
func (h *OpenHandle) Close(ctx context.Context) error {
	start := time.Now()
	err := h.device.Close(ctx, h.of)
	success := err == nil
	h.broker.metrics.RecordClose(uint64(time.Since(start)), success)
	h.broker.observer.ObserveClose(uint64(time.Since(start)), success)
	return wrapOpError(err)
}

// Read reads up to length bytes at offset.
func (h *OpenHandle) Read(ctx context.Context, pid int32, length, offset uint64) ([]byte, error) {
	start := time.Now()
	data, err := h.device.Read(ctx, h.of, pid, length, offset)
	success := err == nil
	n := uint64(len(data))
	h.broker.metrics.RecordRead(n, uint64(time.Since(start)), success)
	h.broker.observer.ObserveRead(n, uint64(time.Since(start)), success)
	return data, wrapOpError(err)
}

// Write writes data at offset, returning the number of bytes accepted.
func (h *OpenHandle) Write(ctx context.Context, pid int32, data []byte, offset uint64) (int, error) {
	start := time.Now()
	n, err := h.device.Write(ctx, h.of, pid, data, offset)
	success := err == nil
	h.broker.metrics.RecordWrite(uint64(n), uint64(time.Since(start)), success)
	h.broker.observer.ObserveWrite(uint64(n), uint64(time.Since(start)), success)
	return n, wrapOpError(err)
}

// Ioctl performs an IOCTL call. cmd's direction/size encoding is described
// by internal/wire.IoctlDecode.
func (h *OpenHandle) Ioctl(ctx context.Context, pid int32, cmd uint32, arg []byte) ([]byte, error) {
	start := time.Now()
	out, err := h.device.Ioctl(ctx, h.of, pid, cmd, arg)
	success := err == nil
	h.broker.metrics.RecordIoctl(uint64(time.Since(start)), success)
	h.broker.observer.ObserveIoctl(uint64(time.Since(start)), success)
	return out, wrapOpError(err)
}

// Poll returns the handle's current cached readiness bits, kicking off a
// provider round trip first if the cache is stale.
func (h *OpenHandle) Poll(ctx context.Context, pid int32) (broker.ReadinessBits, error) {
	start := time.Now()
	bits, err := h.device.Poll(ctx, h.of, pid)
	success := err == nil
	h.broker.metrics.RecordPoll(uint64(time.Since(start)), success)
	h.broker.observer.ObservePoll(uint64(time.Since(start)), success)
	return bits, wrapOpError(err)
}

// Mmap always fails with ErrCodeNotSupported: this broker has no
// mechanism for pinning pages into another process's address space. See
// DESIGN.md for the rationale.
func (h *OpenHandle) Mmap(ctx context.Context, pid int32, length, offset, prot, flags uint64) error {
	start := time.Now()
	err := h.device.Mmap(ctx, h.of, pid, length, offset, prot, flags)
	success := err == nil
	h.broker.metrics.RecordMmap(uint64(time.Since(start)), success)
	return wrapOpError(err)
}

// wrapOpError converts an *broker.OpError into the root package's
// *BrokerError, matching error codes by their shared string values so
// internal/broker never has to import this package.
func wrapOpError(err error) error {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*broker.OpError); ok {
		return &BrokerError{
			Op:         oe.Op,
			DeviceName: oe.DeviceName,
			OpenFileID: oe.OpenFileID,
			Code:       BrokerErrorCode(oe.Code),
			Msg:        oe.Msg,
		}
	}
	return WrapError("BROKER", err)
}
