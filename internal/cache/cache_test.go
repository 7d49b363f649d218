package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, capacity int, ttl time.Duration) (*Cache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, err := New(Options[string]{
		Capacity:   capacity,
		DefaultTTL: ttl,
		Sizer:      func(s string) int { return len(s) },
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return c, clock
}

// =============================================================================
// Get / Put / expiry
// =============================================================================

func TestCache_PutThenGet_Hits(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	c.Put("k", "value", 0)
	got, ok := c.Get("k")

	assert.True(t, ok)
	assert.Equal(t, "value", got)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(5), stats.Bytes)
}

func TestCache_ExpiredEntry_CountsAsMiss(t *testing.T) {
	// Given: an entry with a one minute TTL
	c, clock := newTestCache(t, 10, time.Minute)
	c.Put("k", "value", 0)

	// When: the TTL elapses
	clock.Advance(time.Minute)
	_, ok := c.Get("k")

	// Then: the lookup misses and the entry is gone
	assert.False(t, ok)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Expired)
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(0), stats.Bytes)
}

func TestCache_LRUEviction(t *testing.T) {
	// Given: a cache of two entries where "a" is the most recently used
	c, _ := newTestCache(t, 2, time.Minute)
	c.Put("a", "1", 0)
	c.Put("b", "2", 0)
	_, _ = c.Get("a")

	// When: a third entry arrives
	c.Put("c", "3", 0)

	// Then: the least recently used entry is evicted
	_, okB := c.Get("b")
	_, okA := c.Get("a")
	assert.False(t, okB)
	assert.True(t, okA)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Stats().Size)
}

func TestCache_PutReplacesAndTracksBytes(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	c.Put("k", "short", 0)
	c.Put("k", "much longer", 0)

	assert.Equal(t, int64(len("much longer")), c.Stats().Bytes)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Clear_EmptiesButKeepsCounters(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)
	c.Put("k", "v", 0)
	_, _ = c.Get("k")

	c.Clear()

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(0), stats.Bytes)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestCache_Resize_EvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, 3, time.Minute)
	c.Put("a", "1", 0)
	c.Put("b", "2", 0)
	c.Put("c", "3", 0)

	c.Resize(1)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, c.Stats().Capacity)
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestNew_ZeroCapacity_IsCacheUnavailable(t *testing.T) {
	c, err := New(Options[string]{Capacity: 0})

	assert.Nil(t, c)
	assert.ErrorIs(t, err, kberrors.ErrCacheUnavailable)
}

// =============================================================================
// GetOrCompute
// =============================================================================

func TestGetOrCompute_HitSkipsCompute(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)
	c.Put("k", "cached", 0)

	got, outcome, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, bool, error) {
		t.Fatal("compute must not run on a hit")
		return "", false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "cached", got)
	assert.Equal(t, OutcomeHit, outcome)
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	// Given: a slow computation and many concurrent callers
	c, _ := newTestCache(t, 10, time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func(context.Context) (string, bool, error) {
		calls.Add(1)
		<-release
		return "result", true, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]string, callers)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, _, err := c.GetOrCompute(context.Background(), "same", compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	// When: every caller has arrived and the computation finishes
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Then: exactly one computation ran and every caller saw its result
	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "result", r)
	}
	_, ok := c.Get("same")
	assert.True(t, ok)
}

func TestGetOrCompute_UnstoredResultNotCached(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)

	got, outcome, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, bool, error) {
		return "degraded", false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "degraded", got)
	assert.Equal(t, OutcomeMiss, outcome)
	assert.Equal(t, 0, c.Len())
}

func TestGetOrCompute_ErrorPropagates(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, bool, error) {
		return "", true, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestGetOrCompute_CallerCancellation(t *testing.T) {
	c, _ := newTestCache(t, 10, time.Minute)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, bool, error) {
		<-release
		return "", false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetOrCompute_LeaderCancellationDoesNotFailFollowers(t *testing.T) {
	// Given: a leader whose computation is blocked
	c, _ := newTestCache(t, 10, time.Minute)
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	compute := func(ctx context.Context) (string, bool, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
			return "result", true, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, "k", compute)
		leaderErr <- err
	}()
	<-entered

	type result struct {
		v   string
		o   Outcome
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, o, err := c.GetOrCompute(context.Background(), "k", compute)
		follower <- result{v, o, err}
	}()

	// When: the leader goes away before the computation finishes
	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	// Then: the follower still receives the shared result
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "result", got.v)
	assert.Equal(t, OutcomeShared, got.o)
	assert.Equal(t, int32(1), calls.Load())
	_, ok := c.Get("k")
	assert.True(t, ok, "the detached computation is still cached")
}

func TestGetOrCompute_FlightTimeout(t *testing.T) {
	c, err := New(Options[string]{Capacity: 10, FlightTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	_, _, err = c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (string, bool, error) {
		<-ctx.Done()
		return "", false, ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
