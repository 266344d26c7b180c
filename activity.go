package authclient

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported session event categories.
type ActivityEventType string

const (
	ActivityEventSessionRestored ActivityEventType = "auth.session.restored"
	ActivityEventLoginSuccess    ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure    ActivityEventType = "auth.login.failure"
	ActivityEventSocialLogin     ActivityEventType = "auth.social.login"
	ActivityEventRegistered      ActivityEventType = "auth.register.success"
	ActivityEventEmailVerified   ActivityEventType = "auth.email.verified"
	ActivityEventTokenRefreshed  ActivityEventType = "auth.token.refreshed"
	ActivityEventRefreshFailure  ActivityEventType = "auth.token.refresh_failure"
	ActivityEventLogout          ActivityEventType = "auth.logout"
)

// ActivityEvent captures audit-friendly information about a session change.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// record publishes event, logging sink failures without surfacing them.
func (m *Machine) record(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: m.now().UTC(),
	}
	if user != nil {
		event.UserID = user.ID
		event.Email = user.Email
	}
	if err := m.activitySink.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink failed", "event", eventType, "error", err)
	}
}
