package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Godzil/fusd/internal/constants"
)

func TestFileTableInsertAssignsIDAndIndex(t *testing.T) {
	ft := newFileTable()
	of := newOpenFile(0, 100, 1000, 1000)
	idx := ft.insert(of)

	assert.Equal(t, 0, idx)
	assert.Equal(t, uint64(1), of.ID)
	assert.Equal(t, 1, ft.size())
	assert.Same(t, of, ft.byIndex(0))
}

func TestFileTableGrowsPastInitialCapacity(t *testing.T) {
	ft := newFileTable()
	require.Equal(t, constants.MinFileArraySize, len(ft.entries))

	for i := 0; i < constants.MinFileArraySize+1; i++ {
		ft.insert(newOpenFile(0, int32(i), 0, 0))
	}
	assert.Equal(t, constants.MinFileArraySize+1, ft.size())
	assert.Greater(t, len(ft.entries), constants.MinFileArraySize)
}

func TestFileTableGrowthCapsAtMax(t *testing.T) {
	ft := newFileTable()
	ft.entries = make([]*OpenFile, constants.MaxFileArraySize)
	ft.count = constants.MaxFileArraySize
	ft.growLocked()
	assert.Equal(t, constants.MaxFileArraySize, len(ft.entries), "must not grow past the ceiling")
}

func TestFileTableRemoveSwapsLastEntryIntoSlot(t *testing.T) {
	ft := newFileTable()
	a := newOpenFile(0, 1, 0, 0)
	b := newOpenFile(0, 2, 0, 0)
	c := newOpenFile(0, 3, 0, 0)
	ft.insert(a)
	ft.insert(b)
	ft.insert(c)

	ft.remove(a.index) // remove slot 0: c (the last live entry) should move there
	assert.Equal(t, 2, ft.size())
	assert.Same(t, c, ft.byIndex(0))
	assert.Equal(t, 0, c.index)
	assert.Same(t, b, ft.byIndex(1))
}

func TestFileTableShrinksBelowQuarterOccupancy(t *testing.T) {
	ft := newFileTable()
	var files []*OpenFile
	// Fill to twice the minimum so a grow happens, then drain it back down.
	for i := 0; i < constants.MinFileArraySize*2+1; i++ {
		of := newOpenFile(0, int32(i), 0, 0)
		ft.insert(of)
		files = append(files, of)
	}
	grownSize := len(ft.entries)
	require.Greater(t, grownSize, constants.MinFileArraySize)

	for _, of := range files[1:] {
		ft.remove(of.index)
	}
	assert.Less(t, len(ft.entries), grownSize, "array should shrink once occupancy drops")
	assert.GreaterOrEqual(t, len(ft.entries), constants.MinFileArraySize)
}

func TestFileTableNeverShrinksBelowMinimum(t *testing.T) {
	ft := newFileTable()
	of := newOpenFile(0, 1, 0, 0)
	ft.insert(of)
	ft.remove(of.index)
	assert.Equal(t, constants.MinFileArraySize, len(ft.entries))
}

func TestFileTableAllReturnsLiveEntriesOnly(t *testing.T) {
	ft := newFileTable()
	a := newOpenFile(0, 1, 0, 0)
	b := newOpenFile(0, 2, 0, 0)
	ft.insert(a)
	ft.insert(b)
	ft.remove(a.index)

	all := ft.all()
	require.Len(t, all, 1)
	assert.Same(t, b, all[0])
}

func TestReadinessDirtyAndMarkSent(t *testing.T) {
	of := newOpenFile(0, 1, 0, 0)
	assert.True(t, of.readinessDirty(), "a freshly opened file starts dirty: cached is Unknown, lastSent is 0")

	of.updateReadiness(ReadinessReadable)
	assert.True(t, of.readinessDirty())

	of.markSent()
	assert.False(t, of.readinessDirty())
}
