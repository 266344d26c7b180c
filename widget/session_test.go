package widget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionRecorder struct {
	mu       sync.Mutex
	created  []string
	released []string
}

func (r *sessionRecorder) factory(id string) (*authclient.Machine, func()) {
	r.mu.Lock()
	r.created = append(r.created, id)
	r.mu.Unlock()

	svc := authclient.NewService(authclient.ServiceConfig{BaseURL: "http://localhost/api"},
		authclient.WithServiceLogger(nopLogger{}))
	store := authclient.NewTokenStore(authclient.NewMemoryStorage(), authclient.WithStoreLogger(nopLogger{}))
	machine := authclient.NewMachine(svc, store, authclient.WithMachineLogger(nopLogger{}))

	return machine, func() {
		svc.Close()
		r.mu.Lock()
		r.released = append(r.released, id)
		r.mu.Unlock()
	}
}

func (r *sessionRecorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.created...), append([]string(nil), r.released...)
}

func newTestSessions(limit int) (*Sessions, *sessionRecorder) {
	rec := &sessionRecorder{}
	sessions := NewSessions(rec.factory, limit, nil)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return sessions, rec
}

func TestSessionsReuseAndEvictLeastRecentlyUsed(t *testing.T) {
	sessions, rec := newTestSessions(2)
	ctx := context.Background()

	a := sessions.Acquire(ctx, "a")
	sessions.Acquire(ctx, "b")
	assert.Same(t, a, sessions.Acquire(ctx, "a"))
	assert.Equal(t, "a", a.ID())
	require.NotNil(t, a.Machine())

	sessions.Acquire(ctx, "c")
	assert.Equal(t, 2, sessions.Len())

	created, released := rec.snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, created)
	assert.Equal(t, []string{"b"}, released)

	assert.NotSame(t, a, sessions.Acquire(ctx, "b"))
	_, released = rec.snapshot()
	assert.Equal(t, []string{"b", "a"}, released)

	sessions.Close()
	assert.Equal(t, 0, sessions.Len())
	_, released = rec.snapshot()
	assert.ElementsMatch(t, []string{"a", "b", "b", "c"}, released)
}

func TestSessionsDefaultLimit(t *testing.T) {
	sessions := NewSessions((&sessionRecorder{}).factory, 0, nil)
	assert.Equal(t, DefaultSessionLimit, sessions.limit)
}

func TestSessionPendingProvider(t *testing.T) {
	sessions, _ := newTestSessions(1)
	t.Cleanup(sessions.Close)

	sess := sessions.Acquire(context.Background(), "a")
	assert.Empty(t, sess.takePendingProvider())

	sess.setPendingProvider("github")
	assert.Equal(t, "github", sess.takePendingProvider())
}
