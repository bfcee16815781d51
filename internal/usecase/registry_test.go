package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recalld/internal/domain"
)

func TestRegistryTouchAndGet(t *testing.T) {
	r := NewRegistry()

	r.Touch("sess-a")
	info, err := r.Get("sess-a")
	require.NoError(t, err)
	assert.Equal(t, "sess-a", info.ID)
	assert.False(t, info.CreatedAt.IsZero())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	r.Register("sess-a", "m1")
	r.Register("sess-a", "m2")
	r.Register("sess-b", "x1")

	a, err := r.Get("sess-a")
	require.NoError(t, err)
	assert.Equal(t, 2, a.MemoryCount())

	assert.Equal(t, 2, r.ActiveCount())
	assert.ElementsMatch(t, []string{"sess-a", "sess-b"}, r.Sessions())
}

func TestRegistryListKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()

	r.Register("sess-a", "m1")
	r.Register("sess-a", "m2")
	r.Register("sess-a", "m3")

	ids, err := r.List("sess-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	// The returned slice is a copy: mutating it must not leak back.
	ids[0] = "clobbered"
	again, err := r.List("sess-a")
	require.NoError(t, err)
	assert.Equal(t, "m1", again[0])

	_, err = r.List("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistryReapStale(t *testing.T) {
	r := NewRegistry()

	r.Touch("stale")
	r.Touch("fresh")

	// Backdate the stale session.
	r.mu.Lock()
	r.sessions["stale"].LastActive = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	reaped := r.ReapStale(time.Hour)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, r.ActiveCount())

	_, err := r.Get("stale")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = r.Get("fresh")
	assert.NoError(t, err)
}

func TestRegistryReapNothingStale(t *testing.T) {
	r := NewRegistry()
	r.Touch("sess-a")
	assert.Equal(t, 0, r.ReapStale(time.Hour))
}
