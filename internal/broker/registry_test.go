package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	forgedCloses   int
	zombifications int
}

func (s *countingSink) ForgedClose()    { s.forgedCloses++ }
func (s *countingSink) Zombification()  { s.zombifications++ }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	d, err := r.Register("echo", "fusd", "fusd/echo", 0666, 0, 100)
	require.NoError(t, err)
	require.NotNil(t, d)

	found := r.Lookup("echo")
	require.NotNil(t, found)
	assert.Same(t, d, found)
	r.ReleaseLookup(found)
}

func TestRegisterNameCollisionWithLiveDevice(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register("echo", "fusd", "fusd/echo", 0666, 0, 100)
	require.NoError(t, err)

	_, err = r.Register("echo", "fusd", "fusd/echo", 0666, 0, 200)
	require.Error(t, err)
	oe, ok := err.(*OpError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNameCollision, oe.Code)
}

func TestRegisterNameTooLong(t *testing.T) {
	r := NewRegistry(nil)
	long := ""
	for i := 0; i < 64; i++ {
		long += "x"
	}
	_, err := r.Register(long, "fusd", "fusd/"+long, 0666, 0, 1)
	require.Error(t, err)
}

func TestLookupMissingDeviceReturnsNil(t *testing.T) {
	r := NewRegistry(nil)
	assert.Nil(t, r.Lookup("nonexistent"))
}

func TestUnregisterZombifiesAndFreesOnceEmpty(t *testing.T) {
	sink := &countingSink{}
	r := NewRegistry(sink)
	_, err := r.Register("echo", "fusd", "fusd/echo", 0666, 0, 1)
	require.NoError(t, err)

	require.NoError(t, r.Unregister("echo"))
	assert.Equal(t, 1, sink.zombifications)

	// With no open files, the device is freed and removed immediately.
	assert.Nil(t, r.Lookup("echo"))
}

func TestUnregisterUnknownDeviceFails(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Unregister("nope")
	require.Error(t, err)
	oe, ok := err.(*OpError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNotFound, oe.Code)
}

func TestRegisterAfterUnregisterAllowsReuse(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register("echo", "fusd", "fusd/echo", 0666, 0, 1)
	require.NoError(t, err)
	require.NoError(t, r.Unregister("echo"))

	d2, err := r.Register("echo", "fusd", "fusd/echo", 0666, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), d2.ProviderPID)
}

func TestVersionBumpsOnRegisterAndUnregister(t *testing.T) {
	r := NewRegistry(nil)
	v0 := r.Version()
	r.Register("echo", "fusd", "fusd/echo", 0666, 0, 1)
	v1 := r.Version()
	assert.Greater(t, v1, v0)
	r.Unregister("echo")
	assert.Greater(t, r.Version(), v1)
}

func TestSnapshotListsAllDevices(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", "fusd", "fusd/a", 0666, 0, 1)
	r.Register("b", "fusd", "fusd/b", 0666, 0, 2)

	infos := r.Snapshot()
	assert.Len(t, infos, 2)
}

func TestLookupKeepsDeviceAliveDuringOpenInProgress(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("echo", "fusd", "fusd/echo", 0666, 0, 1)

	d := r.Lookup("echo") // bumps openInProgress
	require.NoError(t, r.Unregister("echo"))

	// The device is zombie but still registered: Unregister must not free
	// it out from under an in-progress Lookup/Open race.
	r.mu.Lock()
	_, stillRegistered := r.byName["echo"]
	r.mu.Unlock()
	assert.True(t, stillRegistered, "device must stay registered while a lookup is in progress")

	r.ReleaseLookup(d)
	r.mu.Lock()
	_, stillRegisteredAfter := r.byName["echo"]
	r.mu.Unlock()
	assert.False(t, stillRegisteredAfter, "device should be freed once the in-progress lookup releases")
}
