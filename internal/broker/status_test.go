package broker

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Godzil/fusd/internal/constants"
)

func TestSnapshotTextHeaderAndRows(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("echo", "fusd", "fusd/echo", 0666, 0, 7)

	out := string(Snapshot(r, false))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "PID\tOpen\tName", lines[0])
	assert.Equal(t, "7\t0\techo", lines[1])
}

func TestSnapshotTextMarksZombieDevices(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("echo", "fusd", "fusd/echo", 0666, 0, 1)
	of := newOpenFile(0, 99, 0, 0)
	d := r.Lookup("echo")
	d.files.insert(of)
	r.ReleaseLookup(d)

	require.NoError(t, r.Unregister("echo")) // has an open file, so zombifies rather than freeing

	out := string(Snapshot(r, false))
	assert.Contains(t, out, "echo (zombie)")
}

func TestSnapshotBinaryRecordLayout(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("echo", "fusd", "fusd/echo", 0666, 0, 42)

	out := Snapshot(r, true)
	require.Len(t, out, constants.StatusRecordSize)

	name := string(out[0:48])
	name = strings.TrimRight(name, "\x00")
	assert.Equal(t, "echo", name)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(out[48:52]), "not a zombie")
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(out[52:56]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(out[56:60]))
}

func TestSnapshotBinaryMultipleDevicesAreContiguous(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", "fusd", "fusd/a", 0666, 0, 1)
	r.Register("b", "fusd", "fusd/b", 0666, 0, 2)

	out := Snapshot(r, true)
	assert.Len(t, out, 2*constants.StatusRecordSize)
}

func TestStatusHandleStreamsOneSnapshotAcrossMultipleReads(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("echo", "fusd", "fusd/echo", 0666, 0, 7)

	full := Snapshot(r, false)
	h := NewStatusHandle(r, false)

	first := h.Read(3)
	assert.Equal(t, full[:3], first)

	rest := h.Read(len(full))
	assert.Equal(t, full[3:], rest, "a short first read must not lose the remainder of the snapshot")

	// The snapshot is now exhausted: registering a new device must not be
	// reflected until the next Read takes a fresh snapshot.
	r.Register("ringlog", "fusd", "fusd/ringlog", 0666, 0, 8)
	fresh := h.Read(4096)
	assert.Contains(t, string(fresh), "ringlog")
}

func TestStatusHandlePollBlocksUntilRegistryChanges(t *testing.T) {
	r := NewRegistry(nil)
	h := NewStatusHandle(r, false)
	h.Read(0) // establishes the handle's baseline version

	done := make(chan ReadinessBits, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- h.Poll(ctx)
	}()

	time.Sleep(20 * time.Millisecond) // give Poll a chance to start blocking
	_, err := r.Register("echo", "fusd", "fusd/echo", 0666, 0, 1)
	require.NoError(t, err)

	select {
	case bits := <-done:
		assert.Equal(t, ReadinessReadable, bits)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll never woke up after the registry changed")
	}
}
