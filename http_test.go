package authstate_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stateFunc func() authstate.State

func (f stateFunc) State() authstate.State { return f() }

// customPathMock overrides Path() from our base MockContext.
type customPathMock struct {
	*router.MockContext
	pathOverride string
}

func (m *customPathMock) Path() string {
	return m.pathOverride
}

func newPathContext(path string) *customPathMock {
	return &customPathMock{MockContext: router.NewMockContext(), pathOverride: path}
}

func authenticatedState() authstate.State {
	var st authstate.State
	st.User = testUser("u1", "a@b.com")
	st.IsAuthenticated = true
	st.Phase = authstate.PhaseAuthenticated
	return st
}

func unauthenticatedState() authstate.State {
	return authstate.State{Phase: authstate.PhaseUnauthenticated}
}

func TestRouteGuard_ProtectedRoute(t *testing.T) {
	tests := []struct {
		name       string
		state      authstate.State
		path       string
		method     string
		wantNext   bool
		wantStatus int
	}{
		{name: "authenticated", state: authenticatedState(), path: "/projects/42", method: "GET", wantNext: true},
		{name: "public view", state: unauthenticatedState(), path: "/signup", method: "GET", wantNext: true},
		{name: "guarded GET", state: unauthenticatedState(), path: "/settings", method: "GET", wantStatus: http.StatusFound},
		{name: "guarded POST", state: unauthenticatedState(), path: "/projects", method: "POST", wantStatus: http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := tt.state
			guard := authstate.NewRouteGuard(authstate.NewGuard(), stateFunc(func() authstate.State { return state })).
				WithLogger(nopLogger{})

			nextCalled := false
			handler := guard.ProtectedRoute()(func(router.Context) error {
				nextCalled = true
				return nil
			})

			ctx := newPathContext(tt.path)
			ctx.On("Method").Return(tt.method).Maybe()
			if tt.wantStatus != 0 {
				ctx.On("Redirect", "/login", []int{tt.wantStatus}).Return(nil)
			}

			require.NoError(t, handler(ctx))
			assert.Equal(t, tt.wantNext, nextCalled)
			if tt.wantStatus != 0 {
				ctx.AssertCalled(t, "Redirect", "/login", []int{tt.wantStatus})
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "backend status", err: authstate.NewBackendError("Invalid login credentials", 400, nil), want: http.StatusBadRequest},
		{name: "backend unreachable", err: authstate.NewBackendError("dial tcp", 0, errors.New("dial tcp")), want: http.StatusBadGateway},
		{name: "validation", err: authstate.NewValidationError("Passwords do not match", nil), want: http.StatusBadRequest},
		{name: "token", err: authstate.ErrTokenExpired.Clone(), want: http.StatusUnauthorized},
		{name: "plain error", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authstate.ErrorStatus(tt.err))
		})
	}
}

func TestErrorPayload_ValidationFields(t *testing.T) {
	err := authstate.NewValidationError("Passwords do not match", map[string]string{
		"confirm_password": "Passwords do not match",
	})

	payload := authstate.ErrorPayload(err)
	assert.Equal(t, "Passwords do not match", payload["detail"])
	assert.Equal(t, authstate.TextCodeValidation, payload["code"])
	assert.Equal(t, map[string]string{"confirm_password": "Passwords do not match"}, payload["fields"])
}

func TestAPIMiddleware(t *testing.T) {
	cfg, err := authstate.LoadConfigFrom(map[string]string{
		"SUPABASE_URL":      "http://localhost:54321",
		"SUPABASE_ANON_KEY": "anon",
	})
	require.NoError(t, err)

	claims := authstate.ClaimsFromUser(&authstate.User{ID: "u1", Email: "a@b.com"})
	verifier := authstate.TokenVerifierFunc(func(_ context.Context, token string) (*authstate.AccessClaims, error) {
		if token != "good-token" {
			return nil, authstate.ErrTokenInvalid.Clone()
		}
		return claims, nil
	})

	mw := authstate.APIMiddleware(verifier, cfg, nopLogger{})(func(router.Context) error { return nil })

	t.Run("valid token", func(t *testing.T) {
		ctx := newPathContext("/api/projects")
		ctx.On("Context").Return(context.Background())
		ctx.On("GetString", "Authorization", "").Return("Bearer good-token")
		ctx.On("Locals", "user", claims).Return(nil)
		ctx.On("SetContext", mock.Anything).Return().Maybe()

		require.NoError(t, mw(ctx))
		assert.True(t, ctx.NextCalled)
	})

	t.Run("invalid token", func(t *testing.T) {
		ctx := newPathContext("/api/projects")
		ctx.On("Context").Return(context.Background())
		ctx.On("GetString", "Authorization", "").Return("Bearer other")

		var payload map[string]string
		ctx.On("JSON", router.StatusUnauthorized, mock.Anything).Run(func(args mock.Arguments) {
			payload = args.Get(1).(map[string]string)
		}).Return(nil)

		require.NoError(t, mw(ctx))
		assert.False(t, ctx.NextCalled)
		assert.Equal(t, "Authentication failed: Invalid authentication token", payload["detail"])
	})

	t.Run("auth api is public", func(t *testing.T) {
		ctx := newPathContext("/api/auth/verify")

		require.NoError(t, mw(ctx))
		assert.True(t, ctx.NextCalled)
	})
}

func TestContextHelpers(t *testing.T) {
	claims := authstate.ClaimsFromUser(&authstate.User{ID: "u1", Email: "a@b.com"})

	ctx := authstate.WithClaimsContext(context.Background(), claims)
	ctx = authstate.WithContext(ctx, claims.User())

	got, ok := authstate.GetClaims(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID())

	user, ok := authstate.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", user.Email)

	_, ok = authstate.GetClaims(context.Background())
	assert.False(t, ok)
}
