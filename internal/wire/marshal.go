package wire

import (
	"encoding/binary"
	"errors"

	"github.com/Godzil/fusd/internal/constants"
)

// Fixed-size layout of the wire header. The parameter union is always sized
// to the larger of its two variants so the header stays a fixed size
// regardless of which one a given message carries, matching the original
// pragma-packed union (fusd_msg_t in fusd_msg.h).
const (
	baseHeaderSize     = 4 + 2 + 2 + 4 // magic, command, subcommand, payload-len
	opsParamsSize      = 12 + 8 + 8 + 8 + 8 + 8 + 8 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 4
	registerParamsSize = (constants.MaxNameLength+1)*3 + 4 + 8
	unionSize          = registerParamsSize // registerParamsSize > opsParamsSize

	// HeaderSize is the exact byte count the provider must request on the
	// first phase of the two-phase read (see internal/broker/providerchannel.go).
	HeaderSize = baseHeaderSize + unionSize
)

var (
	ErrShortHeader  = errors.New("wire: header shorter than HeaderSize")
	ErrShortPayload = errors.New("wire: payload shorter than declared length")
	ErrBadMagic     = errors.New("wire: bad magic")
)

func init() {
	if opsParamsSize > registerParamsSize {
		panic("wire: opsParamsSize must not exceed registerParamsSize")
	}
}

// MarshalHeader encodes m's header (magic/command/subcommand/payload-len
// plus whichever parameter union variant is populated) into exactly
// HeaderSize bytes.
func MarshalHeader(m *Message) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], m.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(m.Command))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(m.Subcommand))
	binary.LittleEndian.PutUint32(buf[8:12], m.PayloadLen)

	union := buf[baseHeaderSize:]
	if m.IsRegisterFamily() && m.Register != nil {
		marshalRegisterParams(union, m.Register)
	} else if m.Ops != nil {
		marshalOpsParams(union, m.Ops)
	}
	return buf
}

// UnmarshalHeader decodes exactly HeaderSize bytes of data into a Message.
// The caller supplies registerFamily to select which union variant to
// decode, since the union bytes alone don't self-describe their shape.
func UnmarshalHeader(data []byte, registerFamily bool) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortHeader
	}
	m := &Message{
		Magic:      binary.LittleEndian.Uint32(data[0:4]),
		Command:    Command(binary.LittleEndian.Uint16(data[4:6])),
		Subcommand: Subcommand(binary.LittleEndian.Uint16(data[6:8])),
		PayloadLen: binary.LittleEndian.Uint32(data[8:12]),
	}
	if m.Magic != 0 && m.Magic != constants.MessageMagic {
		return nil, ErrBadMagic
	}
	union := data[baseHeaderSize:HeaderSize]
	if registerFamily {
		m.Register = unmarshalRegisterParams(union)
	} else {
		m.Ops = unmarshalOpsParams(union)
	}
	return m, nil
}

func marshalOpsParams(buf []byte, p *OpsParams) {
	off := 0
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.PID))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], p.UID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], p.GID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], p.Flags)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.ProviderCookie)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.ClientCookie)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(p.RetVal))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.Length)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.Offset)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], p.Cmd)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], p.MMapProt)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.MMapFlags)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.MMapOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.Arg)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], p.OpenFileID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(p.TransID))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.Hint))
}

func unmarshalOpsParams(buf []byte) *OpsParams {
	p := &OpsParams{}
	off := 0
	p.PID = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	p.UID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.GID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.Flags = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.ProviderCookie = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.ClientCookie = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.RetVal = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	p.Length = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.Offset = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.Cmd = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.MMapProt = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.MMapFlags = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.MMapOffset = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.Arg = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.OpenFileID = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	p.TransID = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	p.Hint = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	return p
}

func marshalRegisterParams(buf []byte, p *RegisterParams) {
	const fieldLen = constants.MaxNameLength + 1
	off := 0
	putString(buf[off:off+fieldLen], p.Name)
	off += fieldLen
	putString(buf[off:off+fieldLen], p.Class)
	off += fieldLen
	putString(buf[off:off+fieldLen], p.DevName)
	off += fieldLen
	binary.LittleEndian.PutUint32(buf[off:off+4], p.Mode)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], p.ProviderCookie)
}

func unmarshalRegisterParams(buf []byte) *RegisterParams {
	const fieldLen = constants.MaxNameLength + 1
	p := &RegisterParams{}
	off := 0
	p.Name = getString(buf[off : off+fieldLen])
	off += fieldLen
	p.Class = getString(buf[off : off+fieldLen])
	off += fieldLen
	p.DevName = getString(buf[off : off+fieldLen])
	off += fieldLen
	p.Mode = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.ProviderCookie = binary.LittleEndian.Uint64(buf[off : off+8])
	return p
}

func putString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst[:len(dst)-1], s)
	_ = n
}

func getString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}
