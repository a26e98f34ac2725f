package broker

import (
	"sync"

	"github.com/Godzil/fusd/internal/wire"
)

// pendingMsg is one outbound message waiting to be delivered to the
// provider.
type pendingMsg struct {
	msg    *wire.Message
	peeked bool
}

// outboundQueue is a device's FIFO of messages waiting for the provider to
// read them. Slice-backed ring buffer, grown by doubling, guarded by the
// device's mutex and signalled through a bound sync.Cond -- the idiomatic
// equivalent of a kernel wait queue. The provider's header-read blocks on
// this queue exactly as the original blocks a reading process.
type outboundQueue struct {
	cond  *sync.Cond
	buf   []*pendingMsg
	head  int
	count int
	closed bool
}

func newOutboundQueue(mu *sync.Mutex) *outboundQueue {
	return &outboundQueue{
		cond: sync.NewCond(mu),
		buf:  make([]*pendingMsg, 8),
	}
}

// enqueue appends a message and wakes one waiter. Caller holds mu.
func (q *outboundQueue) enqueue(m *wire.Message) {
	if q.count == len(q.buf) {
		q.grow()
	}
	idx := (q.head + q.count) % len(q.buf)
	q.buf[idx] = &pendingMsg{msg: m}
	q.count++
	q.cond.Signal()
}

func (q *outboundQueue) grow() {
	newBuf := make([]*pendingMsg, len(q.buf)*2)
	for i := 0; i < q.count; i++ {
		newBuf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = newBuf
	q.head = 0
}

// peekHeader returns the head-of-queue message without removing it,
// blocking until one is available or the queue is closed (device
// zombified/freed). Caller holds mu.
func (q *outboundQueue) peekHeader() *wire.Message {
	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return nil
	}
	p := q.buf[q.head]
	p.peeked = true
	return p.msg
}

// peekHeaderNonBlocking is peekHeader's non-blocking counterpart, used when
// a provider asks for the next message without waiting: it returns nil
// immediately ("try again") rather than blocking when the queue is empty.
// Caller holds mu.
func (q *outboundQueue) peekHeaderNonBlocking() *wire.Message {
	if q.count == 0 {
		return nil
	}
	p := q.buf[q.head]
	p.peeked = true
	return p.msg
}

// dequeuePayload removes the head-of-queue message after its payload phase
// completes. Caller holds mu.
func (q *outboundQueue) dequeuePayload() {
	if q.count == 0 {
		return
	}
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
}

// closeQueue wakes all blocked readers permanently. Caller holds mu.
func (q *outboundQueue) closeQueue() {
	q.closed = true
	q.cond.Broadcast()
}

func (q *outboundQueue) len() int {
	return q.count
}
