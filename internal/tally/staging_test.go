package tally

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStaging() (*MemoryStaging, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMemoryStaging()
	m.now = clock.Now
	return m, clock
}

func TestMemoryStaging_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStaging()

	data := []byte(`{"id":"a"}`)
	require.NoError(t, m.Put(ctx, "a", data, time.Minute))
	data[0] = 'X'

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a"}`, string(got), "Put keeps its own copy")

	require.NoError(t, m.Delete(ctx, "a"))
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrStagedNotFound)

	require.NoError(t, m.Delete(ctx, "never-staged"))
}

func TestMemoryStaging_Expiry(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestStaging()

	require.NoError(t, m.Put(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, m.Put(ctx, "default", []byte("2"), 0))

	clock.Advance(time.Minute)
	_, err := m.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrStagedNotFound, "expires at exactly the ttl")
	_, err = m.Get(ctx, "default")
	assert.NoError(t, err)

	assert.Equal(t, 2, m.Len(), "expired entries stay until swept")
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	clock.Advance(DefaultStageTTL)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStaging_RunSweeperStops(t *testing.T) {
	m := NewMemoryStaging()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.NoError(t, m.Put(ctx, "gone", []byte("x"), time.Millisecond))
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not stop after cancel")
	}
}
