// ABOUTME: Tests for the session registry
// ABOUTME: Covers atomic get-or-create under contention, factory failure and idle eviction

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

func TestMain(m *testing.M) {
	// The genai client pulls in opencensus, which starts a view worker in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func TestRegistry_GetOrCreateIsAtomic(t *testing.T) {
	for _, n := range []int{2, 16, 128} {
		reg := NewRegistry(nil)
		var calls atomic.Int32
		factory := func(ctx context.Context) (*Session, error) {
			calls.Add(1)
			// Widen the race window.
			time.Sleep(5 * time.Millisecond)
			return newSession("thread-1", "chan-1", nil, StateInitializing, nil), nil
		}

		var wg sync.WaitGroup
		var createdCount atomic.Int32
		results := make([]*Session, n)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				s, created, err := reg.GetOrCreate(context.Background(), "thread-1", factory)
				assert.NoError(t, err)
				if created {
					createdCount.Add(1)
				}
				results[i] = s
			}(i)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load(), "n=%d: factory must run once", n)
		assert.Equal(t, int32(1), createdCount.Load(), "n=%d: exactly one caller sees wasCreated", n)
		assert.Equal(t, 1, reg.Len())
		for _, s := range results {
			assert.Same(t, results[0], s)
		}
	}
}

func TestRegistry_FactoryErrorInsertsNothing(t *testing.T) {
	reg := NewRegistry(nil)
	boom := errors.New("boom")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, created, err := reg.GetOrCreate(context.Background(), "thread-1", func(ctx context.Context) (*Session, error) {
				time.Sleep(time.Millisecond)
				return nil, boom
			})
			assert.ErrorIs(t, err, boom)
			assert.Nil(t, s)
			assert.False(t, created)
		}()
	}
	wg.Wait()

	_, ok := reg.Get("thread-1")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())

	// A later call runs the factory again.
	s, created, err := reg.GetOrCreate(context.Background(), "thread-1", func(ctx context.Context) (*Session, error) {
		return newSession("thread-1", "", nil, StateInitializing, nil), nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, s)
}

func TestRegistry_DistinctThreadsDoNotShare(t *testing.T) {
	reg := NewRegistry(nil)
	mk := func(id platform.ThreadID) Factory {
		return func(ctx context.Context) (*Session, error) {
			return newSession(id, "", nil, StateInitializing, nil), nil
		}
	}

	a, _, err := reg.GetOrCreate(context.Background(), "a", mk("a"))
	require.NoError(t, err)
	b, _, err := reg.GetOrCreate(context.Background(), "b", mk("b"))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_RemoveClosesSession(t *testing.T) {
	reg := NewRegistry(nil)
	s, _, err := reg.GetOrCreate(context.Background(), "thread-1", func(ctx context.Context) (*Session, error) {
		return newSession("thread-1", "", nil, StateActive, nil), nil
	})
	require.NoError(t, err)

	removed, ok := reg.Remove("thread-1")
	require.True(t, ok)
	assert.Same(t, s, removed)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.enqueue(newPending("x", "", "", time.Now())), ErrSessionClosed)

	_, ok = reg.Remove("thread-1")
	assert.False(t, ok)
}

func TestRegistry_EvictIdleSkipsBusySessions(t *testing.T) {
	clock := epoch
	now := func() time.Time { return clock }
	reg := NewRegistry(nil)

	idle := newSession("idle", "", nil, StateActive, now)
	busy := newSession("busy", "", nil, StateActive, now)
	// busy has a queued turn that no worker is draining.
	require.NoError(t, busy.enqueue(newPending("hello", "", "", clock)))

	clock = clock.Add(20 * time.Minute)
	fresh := newSession("fresh", "", nil, StateActive, now)

	for _, s := range []*Session{idle, busy, fresh} {
		s := s
		_, _, err := reg.GetOrCreate(context.Background(), s.ThreadID, func(ctx context.Context) (*Session, error) { return s, nil })
		require.NoError(t, err)
	}

	evicted := reg.EvictIdle(clock, 10*time.Minute)
	require.Len(t, evicted, 1)
	assert.Same(t, idle, evicted[0])
	assert.Equal(t, StateClosed, idle.State())

	_, ok := reg.Get("idle")
	assert.False(t, ok)
	_, ok = reg.Get("busy")
	assert.True(t, ok)
	_, ok = reg.Get("fresh")
	assert.True(t, ok)
}

func TestRegistry_SnapshotAndCloseAll(t *testing.T) {
	reg := NewRegistry(nil)
	for i, id := range []platform.ThreadID{"a", "b", "c"} {
		at := epoch.Add(time.Duration(i) * time.Minute)
		s := newSession(id, "chan", nil, StateActive, func() time.Time { return at })
		_, _, err := reg.GetOrCreate(context.Background(), id, func(ctx context.Context) (*Session, error) { return s, nil })
		require.NoError(t, err)
	}

	infos := reg.Snapshot()
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].ThreadID)
	assert.Equal(t, "active", infos[0].State)

	closed := reg.CloseAll()
	assert.Len(t, closed, 3)
	assert.Equal(t, 0, reg.Len())
	for _, s := range closed {
		assert.Equal(t, StateClosed, s.State())
	}
}

func TestRegistry_ClosedRegistryInsertsNothing(t *testing.T) {
	reg := NewRegistry(nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	inflight := newSession("thread-1", "chan-1", nil, StateInitializing, nil)

	type result struct {
		s   *Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, created, err := reg.GetOrCreate(context.Background(), "thread-1", func(ctx context.Context) (*Session, error) {
			close(entered)
			<-release
			return inflight, nil
		})
		assert.False(t, created)
		done <- result{s, err}
	}()

	<-entered
	assert.Empty(t, reg.CloseAll())
	close(release)

	res := <-done
	require.ErrorIs(t, res.err, ErrManagerStopped)
	assert.Same(t, inflight, res.s, "the creating caller gets the discarded session back")
	assert.Equal(t, StateClosed, inflight.State())
	assert.Equal(t, 0, reg.Len())

	calls := 0
	s, created, err := reg.GetOrCreate(context.Background(), "thread-2", func(ctx context.Context) (*Session, error) {
		calls++
		return newSession("thread-2", "chan-1", nil, StateInitializing, nil), nil
	})
	assert.ErrorIs(t, err, ErrManagerStopped)
	assert.Nil(t, s)
	assert.False(t, created)
	assert.Zero(t, calls)
}

func TestSession_WorkerExitsWhenContextEnds(t *testing.T) {
	s := newSession("thread-1", "chan-1", nil, StateInitializing, nil)
	s.activate()
	ctx, cancel := context.WithCancel(context.Background())
	s.start(ctx, func(ctx context.Context, s *Session, p *Pending) { p.resolve("ok", nil) })

	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after cancellation")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.enqueue(newPending("late", humanID, humanName, time.Now())), ErrSessionClosed)
}
