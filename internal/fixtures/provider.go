// Package fixtures provides in-process fake providers for exercising the
// broker end to end without a real out-of-process daemon, grounded on the
// teacher's MockBackend call-tracking pattern (testing.go) adapted to the
// broker's wire protocol instead of a block I/O backend interface.
package fixtures

import (
	"net"

	"github.com/Godzil/fusd/internal/providerconn"
	"github.com/Godzil/fusd/internal/wire"
)

// Handler answers one client call, returning the retval and any reply
// payload. req carries the decoded request; to reply to the wire it's
// turned back into a CmdFopsReply message by the harness.
type Handler func(req *wire.Message) (retval int64, payload []byte)

// Provider drives a fake provider connection: register once, then answer
// every inbound call with a per-subcommand Handler.
type Provider struct {
	conn     net.Conn
	Handlers map[wire.Subcommand]Handler
	signal   func() // optional hook used by fixtures like the pager provider
}

// Dial connects to the broker's provider socket and sends the initial
// REGISTER frame for the given device.
func Dial(socketPath, name, class, devName string, mode uint32) (*Provider, error) {
	conn, err := providerconn.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	reg := wire.NewMessage(wire.CmdRegisterDevice, 0)
	reg.Register = &wire.RegisterParams{
		Name:    name,
		Class:   class,
		DevName: devName,
		Mode:    mode,
	}
	if err := writeFrame(conn, reg); err != nil {
		conn.Close()
		return nil, err
	}
	return &Provider{conn: conn, Handlers: make(map[wire.Subcommand]Handler)}, nil
}

// Serve answers calls until the connection closes or an error occurs.
// Subcommands with no registered Handler are answered with retval -1 and
// no payload, modeling a provider that doesn't implement that file
// operation.
func (p *Provider) Serve() error {
	for {
		req, err := readFrame(p.conn)
		if err != nil {
			return err
		}
		if req.Command == wire.CmdFopsCallDropReply {
			continue // forged close: no reply expected
		}

		h, ok := p.Handlers[req.Subcommand]
		var retval int64 = -1
		var payload []byte
		if ok {
			retval, payload = h(req)
		}

		reply := wire.NewMessage(wire.CmdFopsReply, req.Subcommand)
		reply.Ops = &wire.OpsParams{
			PID:        req.Ops.PID,
			OpenFileID: req.Ops.OpenFileID,
			TransID:    req.Ops.TransID,
			Hint:       req.Ops.Hint,
			RetVal:     retval,
		}
		reply.Payload = payload
		reply.PayloadLen = uint32(len(payload))
		if err := writeFrame(p.conn, reply); err != nil {
			return err
		}
	}
}

// Close closes the provider's connection.
func (p *Provider) Close() error {
	return p.conn.Close()
}

func writeFrame(conn net.Conn, m *wire.Message) error {
	header := wire.MarshalHeader(m)
	if err := providerconn.WriteExact(conn, header); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		return providerconn.WriteExact(conn, m.Payload)
	}
	return nil
}

func readFrame(conn net.Conn) (*wire.Message, error) {
	header := make([]byte, wire.HeaderSize)
	if err := providerconn.ReadExact(conn, header); err != nil {
		return nil, err
	}
	m, err := wire.UnmarshalHeader(header, false)
	if err != nil {
		return nil, err
	}
	if m.PayloadLen > 0 {
		payload := make([]byte, m.PayloadLen)
		if err := providerconn.ReadExact(conn, payload); err != nil {
			return nil, err
		}
		m.Payload = payload
	}
	return m, nil
}
