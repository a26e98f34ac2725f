package broker

import "sync"

// payloadPool provides pooled byte slices for message payloads, avoiding a
// fresh allocation on every provider round trip. Single-bucketed at
// constants.MaxPayloadSize since that's the hard ceiling on any message
// this broker ever moves.
var payloadPool = sync.Pool{
	New: func() any {
		b := make([]byte, maxPooledPayload)
		return &b
	},
}

const maxPooledPayload = 128 * 1024

// getPayloadBuffer returns a pooled buffer sized to exactly n bytes.
func getPayloadBuffer(n int) []byte {
	if n > maxPooledPayload {
		return make([]byte, n)
	}
	bp := payloadPool.Get().(*[]byte)
	return (*bp)[:n]
}

// putPayloadBuffer returns a buffer obtained from getPayloadBuffer to the
// pool. Buffers larger than the pooled size are simply dropped.
func putPayloadBuffer(buf []byte) {
	if cap(buf) != maxPooledPayload {
		return
	}
	buf = buf[:maxPooledPayload]
	payloadPool.Put(&buf)
}
