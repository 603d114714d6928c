package authstate_test

import (
	"context"
	"sync"
	"testing"

	"github.com/goliatone/go-authstate"
	"github.com/stretchr/testify/mock"
)

// MockBackend implements authstate.Backend. Expectations set with On take
// precedence over the fallbacks registered by stubFallbacks.
type MockBackend struct {
	mock.Mock

	mu        sync.Mutex
	listeners []authstate.ChangeFunc
	unsubs    int
	fallbacks sync.Once
}

func newMockBackend(t *testing.T) *MockBackend {
	m := &MockBackend{}
	m.Test(t)
	return m
}

// stubFallbacks answers every call the test did not script with zero
// values. It must run after the test's own expectations.
func (m *MockBackend) stubFallbacks() {
	m.fallbacks.Do(func() {
		m.On("SignIn", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
		m.On("SignUp", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
		m.On("SignOut", mock.Anything).Return(nil).Maybe()
		m.On("GetUser", mock.Anything).Return(nil, nil).Maybe()
		m.On("GetSession", mock.Anything).Return(nil, nil).Maybe()
		m.On("ResetPassword", mock.Anything, mock.Anything).Return(nil).Maybe()
		m.On("UpdatePassword", mock.Anything, mock.Anything).Return(nil).Maybe()
		m.On("OnChange", mock.Anything).Return().Maybe()
	})
}

func (m *MockBackend) SignIn(ctx context.Context, cred authstate.Credential) (*authstate.AuthResult, error) {
	args := m.Called(ctx, cred)
	res, _ := args.Get(0).(*authstate.AuthResult)
	return res, args.Error(1)
}

func (m *MockBackend) SignUp(ctx context.Context, cred authstate.Credential, meta map[string]any) (*authstate.AuthResult, error) {
	args := m.Called(ctx, cred, meta)
	res, _ := args.Get(0).(*authstate.AuthResult)
	return res, args.Error(1)
}

func (m *MockBackend) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) GetUser(ctx context.Context) (*authstate.User, error) {
	args := m.Called(ctx)
	user, _ := args.Get(0).(*authstate.User)
	return user, args.Error(1)
}

func (m *MockBackend) GetSession(ctx context.Context) (*authstate.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*authstate.Session)
	return session, args.Error(1)
}

func (m *MockBackend) ResetPassword(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockBackend) UpdatePassword(ctx context.Context, pw string) error {
	args := m.Called(ctx, pw)
	return args.Error(0)
}

func (m *MockBackend) OnChange(fn authstate.ChangeFunc) authstate.Subscription {
	m.Called(fn)

	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()

	var once sync.Once
	return authstate.SubscriptionFunc(func() {
		once.Do(func() {
			m.mu.Lock()
			m.listeners = nil
			m.unsubs++
			m.mu.Unlock()
		})
	})
}

// Emit delivers a change event to every current listener.
func (m *MockBackend) Emit(event authstate.ChangeEvent) {
	m.mu.Lock()
	listeners := append([]authstate.ChangeFunc(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(event)
	}
}

func (m *MockBackend) Unsubscribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubs
}

func testUser(id, email string) *authstate.User {
	return &authstate.User{ID: id, Email: email}
}

func testSession(user *authstate.User, expiresAt int64) *authstate.Session {
	return &authstate.Session{
		AccessToken:  "access-" + user.ID,
		RefreshToken: "refresh-" + user.ID,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         user,
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []authstate.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event authstate.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []authstate.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authstate.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
