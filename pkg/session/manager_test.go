package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDispatcher records closes and serves nothing.
type stubDispatcher struct {
	mu     sync.Mutex
	closes int
}

func (d *stubDispatcher) Transport() http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
}

func (d *stubDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *stubDispatcher) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, map[string]*stubDispatcher) {
	t.Helper()
	dispatchers := make(map[string]*stubDispatcher)
	var mu sync.Mutex
	cfg.Factory = func(id string) (Dispatcher, error) {
		d := &stubDispatcher{}
		mu.Lock()
		dispatchers[id] = d
		mu.Unlock()
		return d, nil
	}
	return NewManager(cfg), dispatchers
}

func TestManager_CreateAndGet(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.NotNil(t, sess.Transport())

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = m.Get("unknown")
	assert.False(t, ok)
}

func TestManager_PrivateDispatcherPerSession(t *testing.T) {
	m, dispatchers := newTestManager(t, ManagerConfig{})

	a, err := m.Create(context.Background())
	require.NoError(t, err)
	b, err := m.Create(context.Background())
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, dispatchers[a.ID], dispatchers[b.ID])
	assert.NotSame(t, a.Dispatcher(), b.Dispatcher())
}

func TestManager_DeleteIdempotent(t *testing.T) {
	m, dispatchers := newTestManager(t, ManagerConfig{})

	sess, err := m.Create(context.Background())
	require.NoError(t, err)

	assert.True(t, m.Delete(sess.ID))
	assert.False(t, m.Delete(sess.ID), "second delete must be a no-op")
	assert.Equal(t, 1, dispatchers[sess.ID].closeCount())

	select {
	case <-sess.Done():
	default:
		t.Fatal("Done channel not closed after delete")
	}
}

func TestManager_DeleteReentrant(t *testing.T) {
	// A dispatcher whose Close re-enters Delete, as a transport-initiated
	// close would. Removal-before-close must make this terminate.
	m := NewManager(ManagerConfig{})
	var sessID string
	m.factory = func(id string) (Dispatcher, error) {
		sessID = id
		return &reentrantDispatcher{m: m, id: id}, nil
	}

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	require.True(t, m.Delete(sess.ID))
	assert.Equal(t, 0, m.Len())
	_ = sessID
}

type reentrantDispatcher struct {
	m  *Manager
	id string
}

func (d *reentrantDispatcher) Transport() http.Handler { return http.NewServeMux() }

func (d *reentrantDispatcher) Close() error {
	d.m.Delete(d.id)
	return nil
}

func TestManager_TTLEviction(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{
		TTL:           30 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	m.Start()
	defer m.Shutdown()

	sess, err := m.Create(context.Background())
	require.NoError(t, err)

	// Poll without touching the session: Get refreshes the idle clock
	// and would keep the session alive forever.
	require.Eventually(t, func() bool {
		return m.Len() == 0
	}, time.Second, 5*time.Millisecond, "idle session should be evicted")

	_, ok := m.Get(sess.ID)
	assert.False(t, ok, "evicted session ID must miss")
}

func TestManager_TouchResetsIdleClock(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{
		TTL:           80 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
	})
	m.Start()
	defer m.Shutdown()

	sess, err := m.Create(context.Background())
	require.NoError(t, err)

	// Keep touching for longer than the TTL; the session must survive.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, ok := m.Get(sess.ID)
		require.True(t, ok, "touched session must not be evicted")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_MaxSessions(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxSessions: 2})

	_, err := m.Create(context.Background())
	require.NoError(t, err)
	_, err = m.Create(context.Background())
	require.NoError(t, err)

	_, err = m.Create(context.Background())
	assert.ErrorIs(t, err, ErrMaxSessions)
}

func TestManager_Shutdown(t *testing.T) {
	m, dispatchers := newTestManager(t, ManagerConfig{})
	m.Start()

	a, err := m.Create(context.Background())
	require.NoError(t, err)
	b, err := m.Create(context.Background())
	require.NoError(t, err)

	m.Shutdown()

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, dispatchers[a.ID].closeCount())
	assert.Equal(t, 1, dispatchers[b.ID].closeCount())

	_, err = m.Create(context.Background())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_FactoryError(t *testing.T) {
	want := errors.New("boom")
	m := NewManager(ManagerConfig{Factory: func(string) (Dispatcher, error) {
		return nil, want
	}})

	_, err := m.Create(context.Background())
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 0, m.Len())
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxSessions: 1000})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := m.Create(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			_, _ = m.Get(sess.ID)
			m.Delete(sess.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}
