package broker

import (
	"io"
	"net"
	"sync"

	"github.com/Godzil/fusd/internal/logging"
	"github.com/Godzil/fusd/internal/providerconn"
	"github.com/Godzil/fusd/internal/wire"
)

// ProviderChannel is one provider connection: it registers a device, then
// exchanges operation replies (provider -> broker) while a writer goroutine
// drains the device's outbound queue (broker -> provider).
//
// The two-phase read contract lives here on the receiving side: every
// frame is read as an exact HeaderSize header followed by, if PayloadLen
// is non-zero, an exact-length payload read. A short read of either phase
// is a protocol violation, never tolerated as a partial message.
type ProviderChannel struct {
	conn     net.Conn
	registry *Registry
	logger   *logging.Logger
	device   *Device

	// writeMu serializes writes onto conn: the write loop streams queued
	// calls to the provider in the background while the read loop may also
	// write the next queued call directly in answer to a provider's
	// non-blocking (CmdFopsNonblock) request for it, and
	// the two must never interleave their header/payload pairs.
	writeMu sync.Mutex
}

// NewProviderChannel wraps an accepted provider connection.
func NewProviderChannel(conn net.Conn, registry *Registry) *ProviderChannel {
	return &ProviderChannel{
		conn:     conn,
		registry: registry,
		logger:   logging.Default().With("remote", conn.RemoteAddr().String()),
	}
}

// Serve runs until the connection closes or a protocol violation occurs.
// The first frame read must be a REGISTER; every frame after that is
// classified and routed as a reply.
func (pc *ProviderChannel) Serve() error {
	defer pc.conn.Close()

	first, err := pc.readFrame()
	if err != nil {
		return err
	}
	if !first.IsRegisterFamily() || first.Register == nil {
		return newOpError("REGISTER", ErrCodeProtocolViolation, "first frame was not a REGISTER")
	}

	pid := int32(0)
	if first.Ops != nil {
		pid = first.Ops.PID
	}
	d, err := pc.registry.Register(first.Register.Name, first.Register.Class, first.Register.DevName, first.Register.Mode, first.Register.ProviderCookie, pid)
	if err != nil {
		return err
	}
	pc.device = d

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		pc.writeLoop()
	}()

	for {
		m, err := pc.readFrame()
		if err != nil {
			pc.device.zombify()
			<-writerDone
			if err == io.EOF {
				return nil
			}
			return err
		}
		if m.Command == wire.CmdFopsNonblock {
			pc.handleNonblockRequest()
			continue
		}
		pc.dispatchReply(m)
	}
}

// handleNonblockRequest answers a provider's CmdFopsNonblock frame: a
// request for the next queued call that must not block when the queue is
// empty. A populated queue head is dequeued and written back as the call
// it already is; an empty queue gets a header-only CmdFopsNonblockReply
// with RetVal -1, the wire-level "try again" spec.md §4.7 describes.
func (pc *ProviderChannel) handleNonblockRequest() {
	d := pc.device
	d.mu.Lock()
	m := d.queue.peekHeaderNonBlocking()
	if m != nil {
		d.queue.dequeuePayload()
	}
	d.mu.Unlock()

	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()

	if m == nil {
		reply := wire.NewMessage(wire.CmdFopsNonblockReply, 0)
		reply.Ops.RetVal = -1
		_ = providerconn.WriteExact(pc.conn, wire.MarshalHeader(reply))
		return
	}

	if err := providerconn.WriteExact(pc.conn, wire.MarshalHeader(m)); err != nil {
		return
	}
	if len(m.Payload) > 0 {
		_ = providerconn.WriteExact(pc.conn, m.Payload)
	}
}

// writeLoop drains the device's outbound queue to the provider connection
// in FIFO order, marshalling header then payload and only removing the
// message from the queue once both phases have been written.
func (pc *ProviderChannel) writeLoop() {
	d := pc.device
	for {
		d.mu.Lock()
		m := d.queue.peekHeader()
		d.mu.Unlock()
		if m == nil {
			return // queue closed: device freed
		}

		header := wire.MarshalHeader(m)
		pc.writeMu.Lock()
		err := providerconn.WriteExact(pc.conn, header)
		if err == nil && len(m.Payload) > 0 {
			err = providerconn.WriteExact(pc.conn, m.Payload)
		}
		pc.writeMu.Unlock()
		if err != nil {
			return
		}

		d.mu.Lock()
		d.queue.dequeuePayload()
		d.mu.Unlock()
	}
}

// readFrame performs the two-phase read of one inbound frame.
func (pc *ProviderChannel) readFrame() (*wire.Message, error) {
	header := make([]byte, wire.HeaderSize)
	if err := providerconn.ReadExact(pc.conn, header); err != nil {
		return nil, err
	}

	registerFamily := pc.device == nil
	m, err := wire.UnmarshalHeader(header, registerFamily)
	if err != nil {
		return nil, err
	}

	if m.PayloadLen > 0 {
		payload := getPayloadBuffer(int(m.PayloadLen))
		if err := providerconn.ReadExact(pc.conn, payload); err != nil {
			putPayloadBuffer(payload)
			return nil, err
		}
		m.Payload = payload
	}
	return m, nil
}

// dispatchReply classifies an inbound frame from the provider and routes
// it to the matching transaction: hint lookup first (O(1)), linear scan by
// ID (via the transaction table's own map) as the fallback. A reply with
// no matching transaction is an unmatched reply -- already superseded or a
// protocol violation -- and is dropped, not retried.
func (pc *ProviderChannel) dispatchReply(m *wire.Message) {
	if m.Ops == nil {
		return
	}
	of := pc.device.files.byIndex(int(m.Ops.Hint))
	var tx *Transaction
	if of != nil {
		tx = of.transactions.lookupByHint(m.Ops.Hint, m.Ops.TransID)
	}
	if tx == nil {
		// Hint miss: fall back to a scan of every open file's transaction
		// table by ID.
		for _, candidate := range pc.device.files.all() {
			if t := candidate.transactions.lookupByID(m.Ops.TransID); t != nil {
				of = candidate
				tx = t
				break
			}
		}
	}

	if tx == nil {
		// No matching transaction: either a genuine protocol violation or
		// (for readiness-diff replies) a reply to an already-superseded
		// poll whose transaction record was removed when the next diff was
		// dispatched. Per design, a superseded reply never updates the
		// cache -- it is simply dropped here.
		pc.logger.Warn("unmatched provider reply", "subcommand", m.Subcommand.String(), "transaction", m.Ops.TransID)
		return
	}

	if m.Subcommand == wire.SubPollDiff {
		of.mu.Lock()
		of.updateReadiness(ReadinessBits(m.Ops.RetVal))
		of.mu.Unlock()
	}
	of.transactions.complete(tx.ID, m)
}
