package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-auth-client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerCountsActions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	left, _ := c.Listener("left")
	right, _ := c.Listener("right")

	user := &authclient.User{ID: "1", Email: "admin@school.edu"}
	left(authclient.LoginStart{}, authclient.State{IsLoading: true})
	left(authclient.LoginSuccess{User: user}, authclient.State{User: user})
	right(authclient.LoginStart{}, authclient.State{IsLoading: true})
	right(authclient.LoginFailure{Message: "nope"}, authclient.State{Error: "nope"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("left", string(authclient.ActionLoginSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.actions.WithLabelValues("right", string(authclient.ActionLoginFailure))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authenticated.WithLabelValues("left")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.authenticated.WithLabelValues("right")))

	left(authclient.Logout{}, authclient.State{})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.authenticated.WithLabelValues("left")))
}

func TestListenerCountsSignedInSessions(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	user := &authclient.User{ID: "1"}
	first, releaseFirst := c.Listener("main")
	second, releaseSecond := c.Listener("main")

	first(authclient.LoginSuccess{User: user}, authclient.State{User: user})
	first(authclient.RefreshTokens{}, authclient.State{User: user})
	second(authclient.LoginSuccess{User: user}, authclient.State{User: user})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.authenticated.WithLabelValues("main")))

	second(authclient.Logout{}, authclient.State{})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.authenticated.WithLabelValues("main")))

	releaseFirst()
	releaseFirst()
	releaseSecond()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.authenticated.WithLabelValues("main")))

	first(authclient.Logout{}, authclient.State{})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.authenticated.WithLabelValues("main")))
}

func TestSinkCountsAndForwards(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	var forwarded []authclient.ActivityEventType
	next := authclient.ActivitySinkFunc(func(_ context.Context, e authclient.ActivityEvent) error {
		forwarded = append(forwarded, e.EventType)
		return nil
	})

	sink := c.Sink("main", next)
	require.NoError(t, sink.Record(context.Background(), authclient.ActivityEvent{EventType: authclient.ActivityEventLoginSuccess}))
	require.NoError(t, sink.Record(context.Background(), authclient.ActivityEvent{EventType: authclient.ActivityEventLogout}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("main", string(authclient.ActivityEventLoginSuccess))))
	assert.Equal(t, []authclient.ActivityEventType{authclient.ActivityEventLoginSuccess, authclient.ActivityEventLogout}, forwarded)

	failing := c.Sink("main", authclient.ActivitySinkFunc(func(context.Context, authclient.ActivityEvent) error {
		return errors.New("downstream")
	}))
	assert.Error(t, failing.Record(context.Background(), authclient.ActivityEvent{EventType: authclient.ActivityEventLogout}))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("main", string(authclient.ActivityEventLogout))))

	assert.NoError(t, c.Sink("other", nil).Record(context.Background(), authclient.ActivityEvent{EventType: authclient.ActivityEventLogout}))
}

func TestForgetDropsInstanceSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	gone, _ := c.Listener("gone")
	kept, _ := c.Listener("kept")
	gone(authclient.Logout{}, authclient.State{})
	kept(authclient.Logout{}, authclient.State{})
	assert.Equal(t, 2, testutil.CollectAndCount(c.actions))

	c.Forget("gone")
	assert.Equal(t, 1, testutil.CollectAndCount(c.actions))
	assert.Equal(t, 1, testutil.CollectAndCount(c.authenticated))
}

func TestNewCollectorRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}
