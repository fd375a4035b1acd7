package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chart-renderer/internal/browser/browsertest"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

func TestManagerKeysAreIndependent(t *testing.T) {
	farm := &browsertest.Farm{}
	mgr := NewManager(farm.Factory(), Options{})
	defer mgr.Close(context.Background())

	for i := 0; i < 2; i++ {
		_, err := mgr.Render(context.Background(), "tenant-a", barSpec(0, 0))
		require.NoError(t, err)
	}

	res, err := mgr.Render(context.Background(), "tenant-b", barSpec(0, 0))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, 1, res.RequestCount)

	assert.Equal(t, []string{"tenant-a", "tenant-b"}, mgr.Keys())
	assert.Equal(t, 2, farm.Created())
}

func TestManagerEmptyKeyUsesDefault(t *testing.T) {
	mgr := NewManager((&browsertest.Farm{}).Factory(), Options{})
	defer mgr.Close(context.Background())

	a, err := mgr.Actor("")
	require.NoError(t, err)
	b, err := mgr.Actor(DefaultKey)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestManagerDistinctKeysOverlap(t *testing.T) {
	gate := make(chan struct{})
	farm := &browsertest.Farm{Gate: gate}
	mgr := NewManager(farm.Factory(), Options{})
	defer mgr.Close(context.Background())

	var wg sync.WaitGroup
	results := make(chan *models.RenderResult, 2)
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			res, err := mgr.Render(context.Background(), key, barSpec(0, 0))
			if assert.NoError(t, err) {
				results <- res
			}
		}(key)
	}

	// Both renders are parked inside ApplyChart at once, which a shared
	// gate would not allow.
	require.Eventually(t, func() bool { return farm.Created() == 2 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	windows := farm.Windows()
	require.Len(t, windows, 2)
	assert.True(t, windows[0].Start.Before(windows[1].End) && windows[1].Start.Before(windows[0].End),
		"renders on distinct keys should overlap")
}

func TestManagerClose(t *testing.T) {
	farm := &browsertest.Farm{}
	mgr := NewManager(farm.Factory(), Options{})

	_, err := mgr.Render(context.Background(), "a", barSpec(0, 0))
	require.NoError(t, err)
	_, err = mgr.Render(context.Background(), "b", barSpec(0, 0))
	require.NoError(t, err)

	require.NoError(t, mgr.Close(context.Background()))
	assert.Equal(t, 2, farm.Disposed())

	_, err = mgr.Render(context.Background(), "a", barSpec(0, 0))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestManagerSessionCap(t *testing.T) {
	farm := &browsertest.Farm{}
	mgr := NewManager(farm.Factory(), Options{MaxSessions: 2})
	defer mgr.Close(context.Background())

	for _, key := range []string{"a", "b"} {
		_, err := mgr.Render(context.Background(), key, barSpec(0, 0))
		require.NoError(t, err)
	}

	_, err := mgr.Render(context.Background(), "c", barSpec(0, 0))
	assert.ErrorIs(t, err, ErrTooManySessions)
	assert.Equal(t, 2, farm.Created(), "no browser is started past the cap")

	// Known keys keep working at the cap
	res, err := mgr.Render(context.Background(), "a", barSpec(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.RequestCount)
}

func TestManagerPrunesIdleSessionsAtCap(t *testing.T) {
	farm := &browsertest.Farm{}
	mgr := NewManager(farm.Factory(), Options{MaxSessions: 2})
	defer mgr.Close(context.Background())

	// A failed init leaves "a" without an engine
	farm.Set(func(f *browsertest.Farm) { f.FailInit = true })
	_, err := mgr.Render(context.Background(), "a", barSpec(0, 0))
	require.Error(t, err)
	farm.Set(func(f *browsertest.Farm) { f.FailInit = false })

	_, err = mgr.Render(context.Background(), "b", barSpec(0, 0))
	require.NoError(t, err)

	res, err := mgr.Render(context.Background(), "c", barSpec(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RequestCount)
	assert.Equal(t, []string{"b", "c"}, mgr.Keys())

	// The pruned key comes back as a fresh session once there is room
	_, err = mgr.Render(context.Background(), "a", barSpec(0, 0))
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestManagerRecreatesPrunedKey(t *testing.T) {
	farm := &browsertest.Farm{}
	mgr := NewManager(farm.Factory(), Options{MaxSessions: 1})
	defer mgr.Close(context.Background())

	// "a" is registered but has not rendered yet, so it is prunable
	_, err := mgr.Actor("a")
	require.NoError(t, err)
	mgr.mu.Lock()
	mgr.pruneLocked()
	mgr.mu.Unlock()
	assert.Empty(t, mgr.Keys())

	res, err := mgr.Render(context.Background(), "a", barSpec(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RequestCount)
}
