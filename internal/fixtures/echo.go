package fixtures

import "github.com/Godzil/fusd/internal/wire"

// NewEchoProvider builds a provider whose backing store is a simple byte
// buffer: writes land in the buffer at the given offset, reads return
// whatever's there. Used for the basic open/write/read/close round trip.
func NewEchoProvider(socketPath, name string) (*Provider, error) {
	p, err := Dial(socketPath, name, "fusd", "fusd/"+name, 0666)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 4096)

	p.Handlers[wire.SubOpen] = func(req *wire.Message) (int64, []byte) {
		return 0, nil
	}
	p.Handlers[wire.SubClose] = func(req *wire.Message) (int64, []byte) {
		return 0, nil
	}
	p.Handlers[wire.SubWrite] = func(req *wire.Message) (int64, []byte) {
		off := int(req.Ops.Offset)
		need := off + len(req.Payload)
		if need > cap(buf) {
			grown := make([]byte, need)
			copy(grown, buf)
			buf = grown
		}
		if need > len(buf) {
			buf = buf[:need]
		}
		copy(buf[off:], req.Payload)
		return int64(len(req.Payload)), nil
	}
	p.Handlers[wire.SubRead] = func(req *wire.Message) (int64, []byte) {
		off := int(req.Ops.Offset)
		if off >= len(buf) {
			return 0, nil
		}
		end := off + int(req.Ops.Length)
		if end > len(buf) {
			end = len(buf)
		}
		out := make([]byte, end-off)
		copy(out, buf[off:end])
		return int64(len(out)), out
	}
	return p, nil
}
