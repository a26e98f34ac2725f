package fixtures

import "github.com/Godzil/fusd/internal/wire"

// NewRingLogProvider builds a provider backed by a small fixed-size ring
// buffer: writes past capacity wrap and overwrite the oldest bytes,
// exercising overflow behavior distinct from the echo provider's
// unbounded buffer.
func NewRingLogProvider(socketPath, name string, capacity int) (*Provider, error) {
	p, err := Dial(socketPath, name, "fusd", "fusd/"+name, 0666)
	if err != nil {
		return nil, err
	}

	ring := make([]byte, capacity)
	var writePos, written int

	p.Handlers[wire.SubOpen] = func(req *wire.Message) (int64, []byte) { return 0, nil }
	p.Handlers[wire.SubClose] = func(req *wire.Message) (int64, []byte) { return 0, nil }

	p.Handlers[wire.SubWrite] = func(req *wire.Message) (int64, []byte) {
		for _, b := range req.Payload {
			ring[writePos] = b
			writePos = (writePos + 1) % capacity
			if written < capacity {
				written++
			}
		}
		return int64(len(req.Payload)), nil
	}

	p.Handlers[wire.SubRead] = func(req *wire.Message) (int64, []byte) {
		n := written
		if n > int(req.Ops.Length) {
			n = int(req.Ops.Length)
		}
		out := make([]byte, n)
		start := (writePos - written + capacity) % capacity
		for i := 0; i < n; i++ {
			out[i] = ring[(start+i)%capacity]
		}
		return int64(n), out
	}

	return p, nil
}
