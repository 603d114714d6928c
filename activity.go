package authstate

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignInSuccess          ActivityEventType = "auth.sign_in.success"
	ActivityEventSignInFailure          ActivityEventType = "auth.sign_in.failure"
	ActivityEventSignUpSuccess          ActivityEventType = "auth.sign_up.success"
	ActivityEventSignUpFailure          ActivityEventType = "auth.sign_up.failure"
	ActivityEventSignOut                ActivityEventType = "auth.sign_out"
	ActivityEventPasswordResetRequested ActivityEventType = "auth.password_reset.requested"
	ActivityEventPasswordUpdated        ActivityEventType = "auth.password.updated"
	ActivityEventSessionChanged         ActivityEventType = "auth.session.changed"
)

// ActivityEvent captures audit friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	FromPhase  Phase
	ToPhase    Phase
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
