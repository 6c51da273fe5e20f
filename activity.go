package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSessionSeeded       ActivityEventType = "session.bootstrap.seeded"
	ActivityEventSessionVerified     ActivityEventType = "session.verified"
	ActivityEventSessionRejected     ActivityEventType = "session.verification.failed"
	ActivityEventSessionSuperseded   ActivityEventType = "session.verification.superseded"
	ActivityEventLoginSuccess        ActivityEventType = "session.login.success"
	ActivityEventLoginFailure        ActivityEventType = "session.login.failure"
	ActivityEventLogout              ActivityEventType = "session.logout"
	ActivityEventRemoteLogoutFailure ActivityEventType = "session.logout.remote_failure"
	ActivityEventSignupCreated       ActivityEventType = "session.signup.created"
	ActivityEventSignupFailure       ActivityEventType = "session.signup.failure"
)

// ActivityEvent captures audit-friendly information about a session action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	FromState  SessionState
	ToState    SessionState
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
