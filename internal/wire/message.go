// Package wire defines the broker's request/reply record layout and the
// command/subcommand tags carried on the provider-facing channel.
package wire

import "github.com/Godzil/fusd/internal/constants"

// Command identifies what kind of message a record carries.
type Command uint16

const (
	CmdRegisterDevice Command = 0
	CmdUnregisterDevice Command = 1

	// CmdFopsCall and CmdFopsReply must keep successive values: a reply to
	// a call is the call's tag plus one.
	CmdFopsCall  Command = 2
	CmdFopsReply Command = 3

	// CmdFopsNonblock and CmdFopsNonblockReply must keep successive values.
	CmdFopsNonblock       Command = 4
	CmdFopsNonblockReply  Command = 5

	CmdFopsCallDropReply Command = 6
)

func (c Command) String() string {
	switch c {
	case CmdRegisterDevice:
		return "REGISTER_DEVICE"
	case CmdUnregisterDevice:
		return "UNREGISTER_DEVICE"
	case CmdFopsCall:
		return "FOPS_CALL"
	case CmdFopsReply:
		return "FOPS_REPLY"
	case CmdFopsNonblock:
		return "FOPS_NONBLOCK"
	case CmdFopsNonblockReply:
		return "FOPS_NONBLOCK_REPLY"
	case CmdFopsCallDropReply:
		return "FOPS_CALL_DROPREPLY"
	default:
		return "UNKNOWN_COMMAND"
	}
}

// Subcommand identifies which client-facing operation a fops message serves.
type Subcommand uint16

const (
	SubOpen     Subcommand = 100
	SubClose    Subcommand = 101
	SubRead     Subcommand = 102
	SubWrite    Subcommand = 103
	SubIoctl    Subcommand = 104
	SubPollDiff Subcommand = 105
	SubUnblock  Subcommand = 106
	SubMmap     Subcommand = 107
)

func (s Subcommand) String() string {
	switch s {
	case SubOpen:
		return "OPEN"
	case SubClose:
		return "CLOSE"
	case SubRead:
		return "READ"
	case SubWrite:
		return "WRITE"
	case SubIoctl:
		return "IOCTL"
	case SubPollDiff:
		return "POLL_DIFF"
	case SubUnblock:
		return "UNBLOCK"
	case SubMmap:
		return "MMAP"
	default:
		return "UNKNOWN_SUBCOMMAND"
	}
}

// RegisterParams is the parameter union variant carried on a
// CmdRegisterDevice message (user -> broker).
type RegisterParams struct {
	Name           string
	Class          string
	DevName        string
	Mode           uint32
	ProviderCookie uint64
}

// OpsParams is the parameter union variant carried on every fops message,
// in either direction.
type OpsParams struct {
	PID  int32
	UID  uint32
	GID  uint32
	Flags uint64

	ProviderCookie uint64 // opaque, set by provider at REGISTER time
	ClientCookie   uint64 // opaque, provider's per-open-file private data

	RetVal int64
	Length uint64
	Offset uint64
	Cmd    uint32 // ioctl command word, or poll_diff cached readiness bits

	MMapProt   uint64
	MMapFlags  uint64
	MMapOffset uint64

	Arg uint64 // ioctl scalar/pointer argument

	OpenFileID uint64 // broker-assigned handle, opaque to the provider
	TransID    int64
	Hint       int32
}

// Message is one wire record: a fixed header plus an optional variable
// length payload that follows it in the two-phase provider read (see
// internal/broker/providerchannel.go).
type Message struct {
	Magic      uint32
	Command    Command
	Subcommand Subcommand
	PayloadLen uint32

	Register *RegisterParams
	Ops      *OpsParams

	Payload []byte
}

// NewMessage builds a fops-family message with the given command/subcommand
// and an empty (to be filled in) OpsParams.
func NewMessage(cmd Command, sub Subcommand) *Message {
	return &Message{
		Magic:      constants.MessageMagic,
		Command:    cmd,
		Subcommand: sub,
		Ops:        &OpsParams{},
	}
}

// IsRegisterFamily reports whether m carries a RegisterParams union variant.
func (m *Message) IsRegisterFamily() bool {
	return m.Command == CmdRegisterDevice || m.Command == CmdUnregisterDevice
}
