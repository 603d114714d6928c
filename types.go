package authstate

import (
	"context"
	"fmt"
)

// Logger is the minimal logging surface used across the package.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Credential is an email/password pair. It only lives for the duration of
// a sign in or sign up call and is never persisted or logged.
type Credential struct {
	Email    string
	Password string
}

// String masks the password so a credential never leaks through fmt.
func (c Credential) String() string {
	return fmt.Sprintf("email=%s password=***", c.Email)
}

// AuthResult is the payload returned by sign in and sign up calls.
// Session is nil when the backend requires email confirmation.
type AuthResult struct {
	User    *User
	Session *Session
}

// ChangeKind names a backend auth transition.
type ChangeKind string

const (
	ChangeSignedIn         ChangeKind = "SIGNED_IN"
	ChangeSignedOut        ChangeKind = "SIGNED_OUT"
	ChangeTokenRefreshed   ChangeKind = "TOKEN_REFRESHED"
	ChangeUserUpdated      ChangeKind = "USER_UPDATED"
	ChangePasswordRecovery ChangeKind = "PASSWORD_RECOVERY"
)

// ChangeEvent is delivered for every backend initiated auth transition.
type ChangeEvent struct {
	Kind    ChangeKind
	User    *User
	Session *Session
}

// ChangeFunc receives change events.
type ChangeFunc func(ChangeEvent)

// Subscription is returned by subscribe calls. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// Backend is the capability surface of the remote identity service.
//
// GetUser and GetSession return (nil, nil) when nobody is signed in; an
// error means the call itself failed.
type Backend interface {
	SignIn(ctx context.Context, cred Credential) (*AuthResult, error)
	SignUp(ctx context.Context, cred Credential, metadata map[string]any) (*AuthResult, error)
	SignOut(ctx context.Context) error
	GetUser(ctx context.Context) (*User, error)
	GetSession(ctx context.Context) (*Session, error)
	ResetPassword(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, newPassword string) error
	OnChange(fn ChangeFunc) Subscription
}

// Actions is the view layer contract: a read accessor plus the four
// form actions. Views render from State and track errors locally.
type Actions interface {
	State() State
	SignIn(ctx context.Context, cred Credential) error
	SignUp(ctx context.Context, cred Credential, metadata map[string]any) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
