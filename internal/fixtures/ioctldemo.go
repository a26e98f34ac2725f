package fixtures

import (
	"bytes"

	"github.com/Godzil/fusd/internal/wire"
)

// IoctlCapitalize is the demo command number this fixture implements: a
// read/write ioctl that uppercases its argument in place.
const IoctlCapitalize uint8 = 1

// NewIoctlDemoProvider builds a provider that answers IoctlCapitalize by
// uppercasing the ASCII letters in its payload, exercising the
// direction-encoded IOCTL path end to end.
func NewIoctlDemoProvider(socketPath, name string) (*Provider, error) {
	p, err := Dial(socketPath, name, "fusd", "fusd/"+name, 0666)
	if err != nil {
		return nil, err
	}

	p.Handlers[wire.SubOpen] = func(req *wire.Message) (int64, []byte) { return 0, nil }
	p.Handlers[wire.SubClose] = func(req *wire.Message) (int64, []byte) { return 0, nil }
	p.Handlers[wire.SubIoctl] = func(req *wire.Message) (int64, []byte) {
		_, num, _ := wire.IoctlDecode(req.Ops.Cmd)
		if num != IoctlCapitalize {
			return -1, nil
		}
		out := bytes.ToUpper(req.Payload)
		return 0, out
	}
	return p, nil
}
