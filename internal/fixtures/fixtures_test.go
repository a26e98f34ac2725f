package fixtures

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Godzil/fusd/internal/providerconn"
	"github.com/Godzil/fusd/internal/wire"
)

// brokerSide stands in for the broker's ProviderChannel: accepts one
// connection, reads the REGISTER frame, then lets the test drive raw
// call/reply frames against whatever fixture Provider is Serve()-ing on
// the other end.
func brokerSide(t *testing.T) (path string, accept func() (net.Conn, *wire.Message)) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "fusd.sock")
	ln, err := providerconn.Listen(path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accept = func() (net.Conn, *wire.Message) {
		conn, err := ln.Accept()
		require.NoError(t, err)
		header := make([]byte, wire.HeaderSize)
		require.NoError(t, providerconn.ReadExact(conn, header))
		reg, err := wire.UnmarshalHeader(header, true)
		require.NoError(t, err)
		require.Equal(t, wire.CmdRegisterDevice, reg.Command)
		return conn, reg
	}
	return path, accept
}

func call(t *testing.T, conn net.Conn, sub wire.Subcommand, pid int32, payload []byte, offset, length uint64) *wire.Message {
	t.Helper()
	req := wire.NewMessage(wire.CmdFopsCall, sub)
	req.Ops.PID = pid
	req.Ops.OpenFileID = 1
	req.Ops.TransID = 1
	req.Ops.Offset = offset
	req.Ops.Length = length
	req.Payload = payload
	req.PayloadLen = uint32(len(payload))

	require.NoError(t, providerconn.WriteExact(conn, wire.MarshalHeader(req)))
	if len(payload) > 0 {
		require.NoError(t, providerconn.WriteExact(conn, payload))
	}

	header := make([]byte, wire.HeaderSize)
	require.NoError(t, providerconn.ReadExact(conn, header))
	reply, err := wire.UnmarshalHeader(header, false)
	require.NoError(t, err)
	if reply.PayloadLen > 0 {
		body := make([]byte, reply.PayloadLen)
		require.NoError(t, providerconn.ReadExact(conn, body))
		reply.Payload = body
	}
	return reply
}

func TestEchoProviderRegistersWithGivenName(t *testing.T) {
	path, accept := brokerSide(t)
	p, err := NewEchoProvider(path, "echo")
	require.NoError(t, err)
	defer p.Close()
	go p.Serve()

	conn, reg := accept()
	defer conn.Close()
	assert.Equal(t, "echo", reg.Register.Name)
	assert.Equal(t, "fusd/echo", reg.Register.DevName)
}

func TestEchoProviderWriteThenReadRoundTrips(t *testing.T) {
	path, accept := brokerSide(t)
	p, err := NewEchoProvider(path, "echo")
	require.NoError(t, err)
	defer p.Close()
	go p.Serve()

	conn, _ := accept()
	defer conn.Close()

	wr := call(t, conn, wire.SubWrite, 1, []byte("hello"), 0, 5)
	assert.Equal(t, int64(5), wr.Ops.RetVal)

	rd := call(t, conn, wire.SubRead, 1, nil, 0, 64)
	assert.Equal(t, "hello", string(rd.Payload))
}

func TestProviderAnswersUnregisteredSubcommandWithMinusOne(t *testing.T) {
	path, accept := brokerSide(t)
	p, err := NewEchoProvider(path, "echo")
	require.NoError(t, err)
	defer p.Close()
	go p.Serve()

	conn, _ := accept()
	defer conn.Close()

	reply := call(t, conn, wire.SubMmap, 1, nil, 0, 0)
	assert.Equal(t, int64(-1), reply.Ops.RetVal, "a subcommand with no handler must answer -1, not hang")
}

func TestProviderIgnoresForgedCloseDropReply(t *testing.T) {
	path, accept := brokerSide(t)
	p, err := NewEchoProvider(path, "echo")
	require.NoError(t, err)
	defer p.Close()
	go p.Serve()

	conn, _ := accept()
	defer conn.Close()

	drop := wire.NewMessage(wire.CmdFopsCallDropReply, wire.SubClose)
	drop.Ops.PID = 1
	require.NoError(t, providerconn.WriteExact(conn, wire.MarshalHeader(drop)))

	// A real call right after must still get answered: proves Serve() kept
	// looping instead of getting stuck waiting to reply to the dropped one.
	reply := call(t, conn, wire.SubOpen, 1, nil, 0, 0)
	assert.Equal(t, int64(0), reply.Ops.RetVal)
}

func TestRingLogProviderOverwritesOldestBytesOnOverflow(t *testing.T) {
	path, accept := brokerSide(t)
	p, err := NewRingLogProvider(path, "ringlog", 4)
	require.NoError(t, err)
	defer p.Close()
	go p.Serve()

	conn, _ := accept()
	defer conn.Close()

	call(t, conn, wire.SubWrite, 1, []byte("abcdef"), 0, 6) // 6 bytes into a 4-byte ring
	rd := call(t, conn, wire.SubRead, 1, nil, 0, 4)
	assert.Equal(t, "cdef", string(rd.Payload))
}

func TestIoctlDemoProviderCapitalizesPayload(t *testing.T) {
	path, accept := brokerSide(t)
	p, err := NewIoctlDemoProvider(path, "ioctldemo")
	require.NoError(t, err)
	defer p.Close()
	go p.Serve()

	conn, _ := accept()
	defer conn.Close()

	req := wire.NewMessage(wire.CmdFopsCall, wire.SubIoctl)
	req.Ops.PID = 1
	req.Ops.Cmd = wire.IoctlEncode(wire.IoctlRead|wire.IoctlWrite, IoctlCapitalize, 5)
	req.Payload = []byte("quiet")
	req.PayloadLen = 5

	require.NoError(t, providerconn.WriteExact(conn, wire.MarshalHeader(req)))
	require.NoError(t, providerconn.WriteExact(conn, req.Payload))

	header := make([]byte, wire.HeaderSize)
	require.NoError(t, providerconn.ReadExact(conn, header))
	reply, err := wire.UnmarshalHeader(header, false)
	require.NoError(t, err)
	body := make([]byte, reply.PayloadLen)
	require.NoError(t, providerconn.ReadExact(conn, body))
	assert.Equal(t, "QUIET", string(body))
}

func TestPagerProviderBlocksPollUntilSignalled(t *testing.T) {
	path, accept := brokerSide(t)
	p, err := NewPagerProvider(path, "pager")
	require.NoError(t, err)
	defer p.Close()
	go p.Serve()

	conn, _ := accept()
	defer conn.Close()

	done := make(chan *wire.Message, 1)
	go func() { done <- call(t, conn, wire.SubPollDiff, 1, nil, 0, 0) }()

	select {
	case <-done:
		t.Fatal("poll_diff must block until SignalReady, not answer immediately")
	default:
	}

	p.SignalReady()
	reply := <-done
	assert.Equal(t, int64(1), reply.Ops.RetVal, "expected POLLIN bit once signalled")
}
