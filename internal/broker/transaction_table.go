package broker

import (
	"sync"
	"sync/atomic"

	"github.com/Godzil/fusd/internal/wire"
)

// TransactionState tracks a transaction's lifecycle.
type TransactionState int

const (
	TransactionPending TransactionState = iota
	TransactionReplied
	TransactionAbandoned
)

// Transaction is one in-flight client call waiting for a provider reply.
// The transaction table is the single source of truth for in-flight calls
// (REDESIGN FLAGS): a message is only ever matched against a live entry
// here, never against queue contents.
type Transaction struct {
	ID       int64
	PID      int32
	Subcmd   wire.Subcommand
	Size     uint64 // originally requested payload size (READ/WRITE/IOCTL); 0 where not meaningful
	State    TransactionState
	Hint     int32 // slot hint handed to the provider for O(1) reply routing
	Reply    *wire.Message
	done     chan struct{}
}

var transactionIDCounter atomic.Int64

// transactionTable holds one open file's outstanding transactions, keyed by
// ID with a secondary PID index for restart-adoption lookups. Guarded by
// its own mutex, never the device or open-file mutex (spec requirement:
// the transaction table's lock is always the innermost).
type transactionTable struct {
	mu    sync.Mutex
	byID  map[int64]*Transaction
	byPID map[int32]*Transaction
}

func newTransactionTable() *transactionTable {
	return &transactionTable{
		byID:  make(map[int64]*Transaction),
		byPID: make(map[int32]*Transaction),
	}
}

// create registers a new pending transaction for the given PID/subcommand,
// first abandoning any existing pending transaction for the same PID. That
// abandon step is what makes a second readiness-diff dispatched before the
// first replies supersede it instead of orphaning it in byID (spec.md
// §4.6), and what makes a retry whose requested size no longer matches the
// still-pending transaction start fresh rather than reattach to a stale one
// (spec.md §4.9) -- adopt already abandons a size-mismatched transaction
// before returning nil, so by the time create runs there is nothing left to
// abandon in that case, but create still guards the general case directly.
func (t *transactionTable) create(pid int32, subcmd wire.Subcommand, hint int32, size uint64) *Transaction {
	t.mu.Lock()
	if old, ok := t.byPID[pid]; ok && old.State == TransactionPending {
		t.abandonLocked(old.ID)
	}
	tx := &Transaction{
		ID:     transactionIDCounter.Add(1),
		PID:    pid,
		Subcmd: subcmd,
		Size:   size,
		State:  TransactionPending,
		Hint:   hint,
		done:   make(chan struct{}),
	}
	t.byID[tx.ID] = tx
	t.byPID[pid] = tx
	t.mu.Unlock()
	return tx
}

// lookupByHint returns the transaction at the given hint slot if it still
// exists and matches, implementing the O(1) fast path of the hint
// optimization. Returns nil on a miss, leaving the caller to fall back to
// a linear scan by ID.
func (t *transactionTable) lookupByHint(hint int32, id int64) *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tx, ok := t.byID[id]; ok && tx.Hint == hint {
		return tx
	}
	return nil
}

// lookupByID returns the transaction with the given ID, or nil.
func (t *transactionTable) lookupByID(id int64) *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[id]
}

// adopt finds an in-flight transaction for pid/subcmd/size, used when a
// client retries after a cancelled wait (context cancellation standing in
// for -ERESTARTSYS) to rejoin the same outstanding call instead of issuing
// a duplicate. If the retry's requested size no longer matches the pending
// transaction's, the stale transaction is not adopted -- spec.md §4.9
// requires a fresh transaction begin instead, so the mismatched one is
// abandoned here and the caller's subsequent create starts the new one.
func (t *transactionTable) adopt(pid int32, subcmd wire.Subcommand, size uint64) *Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.byPID[pid]
	if !ok || tx.Subcmd != subcmd || tx.State != TransactionPending {
		return nil
	}
	if tx.Size != size {
		t.abandonLocked(tx.ID)
		return nil
	}
	return tx
}

// complete marks a transaction replied and delivers its reply.
func (t *transactionTable) complete(id int64, reply *wire.Message) bool {
	t.mu.Lock()
	tx, ok := t.byID[id]
	if !ok || tx.State != TransactionPending {
		t.mu.Unlock()
		return false
	}
	tx.Reply = reply
	tx.State = TransactionReplied
	delete(t.byID, id)
	if t.byPID[tx.PID] == tx {
		delete(t.byPID, tx.PID)
	}
	t.mu.Unlock()
	close(tx.done)
	return true
}

// abandon removes a transaction without a reply, e.g. superseded by a newer
// readiness-diff poll or a forged close draining the table.
func (t *transactionTable) abandon(id int64) {
	t.mu.Lock()
	t.abandonLocked(id)
	t.mu.Unlock()
}

// abandonLocked is abandon's body for callers that already hold t.mu (create
// and adopt, when superseding a still-pending transaction). Closing done is
// a non-blocking operation, so doing it under the lock is safe.
func (t *transactionTable) abandonLocked(id int64) {
	tx, ok := t.byID[id]
	if !ok {
		return
	}
	tx.State = TransactionAbandoned
	delete(t.byID, id)
	if t.byPID[tx.PID] == tx {
		delete(t.byPID, tx.PID)
	}
	close(tx.done)
}

// drain abandons every outstanding transaction, used when an open file
// closes while calls are still in flight.
func (t *transactionTable) drain() {
	t.mu.Lock()
	ids := make([]int64, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.abandon(id)
	}
}

func (t *transactionTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
