package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchstate/internal/lobby"
	"github.com/DoyleJ11/matchstate/internal/meta"
	"github.com/DoyleJ11/matchstate/internal/store"
)

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour // tests drive sweeps by hand
	}
	h := NewHub(context.Background(), cfg)
	t.Cleanup(h.Close)
	return h
}

func waitDone(t *testing.T, lb *lobby.Lobby) {
	t.Helper()
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby %s did not stop", lb.MatchID())
	}
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h := newTestHub(t, Config{})
	reply := make(chan *lobby.Lobby, 1)

	h.Inbox() <- EnsureLobby{MatchID: "ZED123", Reply: reply}
	lb1 := <-reply

	h.Inbox() <- GetLobby{MatchID: "ZED123", Reply: reply}
	lb2 := <-reply

	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}

	lb3, err := h.Ensure(context.Background(), "ZED123", "")
	require.NoError(t, err)
	assert.Same(t, lb1, lb3)
}

func TestHub_LookupUnknownIsNil(t *testing.T) {
	h := newTestHub(t, Config{})
	lb, err := h.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, lb)
}

func TestHub_SweepEvictsIdleMatches(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	evicted := make(chan string, 2)
	h := newTestHub(t, Config{
		TTL:     time.Minute,
		Now:     clock,
		OnEvict: func(id string) { evicted <- id },
	})
	ctx := context.Background()

	idle, err := h.Ensure(ctx, "idle", "")
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(45 * time.Second)
	mu.Unlock()
	busy, err := h.Ensure(ctx, "busy", "")
	require.NoError(t, err)
	_, err = busy.View(ctx) // touches busy at the later time
	require.NoError(t, err)

	h.Sweep(clock().Add(30 * time.Second))

	waitDone(t, idle)
	assert.Equal(t, "idle", <-evicted)

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lb, err := h.Lookup(ctx, "busy")
	require.NoError(t, err)
	assert.Same(t, busy, lb)
}

func TestHub_EvictedMatchRehydratesFromStore(t *testing.T) {
	st := store.NewMemoryStore()
	h := newTestHub(t, Config{Store: st, TTL: time.Minute})
	ctx := context.Background()

	lb, err := h.Ensure(ctx, "M1", "G1")
	require.NoError(t, err)
	_, err = lb.Patch(ctx, meta.Patch{Source: meta.Set("before-eviction")})
	require.NoError(t, err)

	h.Sweep(time.Now().Add(time.Hour))
	waitDone(t, lb)

	again, err := h.Ensure(ctx, "M1", "G1")
	require.NoError(t, err)
	assert.NotSame(t, lb, again)

	v, err := again.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, "before-eviction", v.Meta.Source)
}

func TestHub_EnsureReplacesStoppedLobby(t *testing.T) {
	h := newTestHub(t, Config{})
	ctx := context.Background()

	lb, err := h.Ensure(ctx, "M1", "")
	require.NoError(t, err)
	lb.Send(lobby.Shutdown{})
	waitDone(t, lb)

	again, err := h.Ensure(ctx, "M1", "")
	require.NoError(t, err)
	assert.NotSame(t, lb, again)
}

func TestHub_CloseStopsLobbies(t *testing.T) {
	h := NewHub(context.Background(), Config{SweepInterval: time.Hour})
	lb, err := h.Ensure(context.Background(), "M1", "")
	require.NoError(t, err)

	h.Close()
	waitDone(t, lb)

	_, err = h.Ensure(context.Background(), "M2", "")
	assert.ErrorIs(t, err, ErrHubClosed)
}
