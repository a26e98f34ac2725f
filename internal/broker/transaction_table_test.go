package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Godzil/fusd/internal/wire"
)

func TestTransactionCreateAndComplete(t *testing.T) {
	tt := newTransactionTable()
	tx := tt.create(42, wire.SubRead, 3, 0)
	require.NotNil(t, tx)
	assert.Equal(t, int32(42), tx.PID)
	assert.Equal(t, TransactionPending, tx.State)

	reply := wire.NewMessage(wire.CmdFopsReply, wire.SubRead)
	ok := tt.complete(tx.ID, reply)
	assert.True(t, ok)
	assert.Equal(t, TransactionReplied, tx.State)

	select {
	case <-tx.done:
	default:
		t.Fatal("done channel not closed after complete")
	}
}

func TestTransactionCompleteTwiceFails(t *testing.T) {
	tt := newTransactionTable()
	tx := tt.create(1, wire.SubWrite, 0, 0)
	assert.True(t, tt.complete(tx.ID, wire.NewMessage(wire.CmdFopsReply, wire.SubWrite)))
	assert.False(t, tt.complete(tx.ID, wire.NewMessage(wire.CmdFopsReply, wire.SubWrite)))
}

func TestLookupByHintMissFallsBackToNil(t *testing.T) {
	tt := newTransactionTable()
	tx := tt.create(7, wire.SubIoctl, 5, 0)

	// Correct hint matches.
	assert.Same(t, tx, tt.lookupByHint(5, tx.ID))
	// Stale/wrong hint misses, forcing the caller to fall back to a scan.
	assert.Nil(t, tt.lookupByHint(99, tx.ID))
	// lookupByID always finds it regardless of hint.
	assert.Same(t, tx, tt.lookupByID(tx.ID))
}

func TestAdoptOnlyMatchesPendingSameSubcommand(t *testing.T) {
	tt := newTransactionTable()
	tx := tt.create(10, wire.SubRead, 0, 0)

	assert.Nil(t, tt.adopt(10, wire.SubWrite, 0), "wrong subcommand must not adopt")
	assert.Nil(t, tt.adopt(11, wire.SubRead, 0), "wrong pid must not adopt")
	assert.Same(t, tx, tt.adopt(10, wire.SubRead, 0))

	tt.complete(tx.ID, wire.NewMessage(wire.CmdFopsReply, wire.SubRead))
	assert.Nil(t, tt.adopt(10, wire.SubRead, 0), "a replied transaction is no longer adoptable")
}

func TestAbandonRemovesFromBothIndexes(t *testing.T) {
	tt := newTransactionTable()
	tx := tt.create(3, wire.SubPollDiff, 0, 0)
	tt.abandon(tx.ID)

	assert.Nil(t, tt.lookupByID(tx.ID))
	assert.Nil(t, tt.adopt(3, wire.SubPollDiff, 0))
	assert.False(t, tt.complete(tx.ID, wire.NewMessage(wire.CmdFopsReply, wire.SubPollDiff)))
}

func TestDrainAbandonsEverythingOutstanding(t *testing.T) {
	tt := newTransactionTable()
	txA := tt.create(1, wire.SubRead, 0, 0)
	txB := tt.create(2, wire.SubWrite, 0, 0)
	tt.drain()

	assert.Equal(t, 0, tt.size())
	assert.Nil(t, tt.lookupByID(txA.ID))
	assert.Nil(t, tt.lookupByID(txB.ID))
}

func TestTransactionIDsAreGloballyUnique(t *testing.T) {
	ttA := newTransactionTable()
	ttB := newTransactionTable()
	txA := ttA.create(1, wire.SubRead, 0, 0)
	txB := ttB.create(1, wire.SubRead, 0, 0)
	assert.NotEqual(t, txA.ID, txB.ID, "transaction IDs must be unique across tables, not just within one")
}

func TestAdoptDiscardsTransactionWithChangedSize(t *testing.T) {
	tt := newTransactionTable()
	tx := tt.create(10, wire.SubRead, 0, 64)

	assert.Nil(t, tt.adopt(10, wire.SubRead, 128), "a retry requesting a different size must not adopt the stale transaction")
	// The mismatched transaction was abandoned as a side effect, not left
	// dangling: a fresh create for the same pid must succeed cleanly.
	fresh := tt.create(10, wire.SubRead, 0, 128)
	assert.NotEqual(t, tx.ID, fresh.ID)
	assert.Equal(t, TransactionAbandoned, tx.State)
}

func TestCreateAbandonsPriorPendingTransactionForSamePID(t *testing.T) {
	tt := newTransactionTable()
	first := tt.create(3, wire.SubPollDiff, 0, 0)
	second := tt.create(3, wire.SubPollDiff, 0, 0)

	assert.Equal(t, TransactionAbandoned, first.State, "a second readiness-diff for the same pid must supersede, not orphan, the first")
	select {
	case <-first.done:
	default:
		t.Fatal("superseded transaction's done channel was never closed")
	}
	assert.Nil(t, tt.lookupByID(first.ID), "the superseded transaction must not remain findable by ID")
	assert.Same(t, second, tt.lookupByID(second.ID))
}
