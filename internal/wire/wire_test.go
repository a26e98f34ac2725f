package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpsParamsRoundTrip(t *testing.T) {
	m := NewMessage(CmdFopsCall, SubWrite)
	m.Ops = &OpsParams{
		PID:            1234,
		UID:            1000,
		GID:            1000,
		Flags:          0x3,
		ProviderCookie: 0xdeadbeef,
		ClientCookie:   0xcafef00d,
		RetVal:         -1,
		Length:         5,
		Offset:         0,
		Cmd:            0,
		Arg:            0,
		OpenFileID:     42,
		TransID:        7,
		Hint:           3,
	}

	buf := MarshalHeader(m)
	require.Len(t, buf, HeaderSize)

	got, err := UnmarshalHeader(buf, false)
	require.NoError(t, err)

	assert.Equal(t, m.Magic, got.Magic)
	assert.Equal(t, m.Command, got.Command)
	assert.Equal(t, m.Subcommand, got.Subcommand)
	assert.Equal(t, *m.Ops, *got.Ops)
}

func TestRegisterParamsRoundTrip(t *testing.T) {
	m := NewMessage(CmdRegisterDevice, 0)
	m.Register = &RegisterParams{
		Name:           "echo",
		Class:          "fusd",
		DevName:        "fusd/echo",
		Mode:           0666,
		ProviderCookie: 99,
	}
	m.Ops = nil

	buf := MarshalHeader(m)
	got, err := UnmarshalHeader(buf, true)
	require.NoError(t, err)
	assert.Equal(t, *m.Register, *got.Register)
}

func TestUnmarshalHeaderShort(t *testing.T) {
	_, err := UnmarshalHeader(make([]byte, HeaderSize-1), false)
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestUnmarshalHeaderBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0xff
	buf[1] = 0xff
	buf[2] = 0xff
	buf[3] = 0xff
	_, err := UnmarshalHeader(buf, false)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestIoctlEncodeDecode(t *testing.T) {
	cmd := IoctlEncode(IoctlRead|IoctlWrite, 1, 120)
	dir, num, size := IoctlDecode(cmd)
	assert.Equal(t, IoctlRead|IoctlWrite, dir)
	assert.Equal(t, uint8(1), num)
	assert.Equal(t, uint16(120), size)
}
