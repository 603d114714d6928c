package authstate_test

import (
	"testing"

	"github.com/goliatone/go-authstate"
	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	anon := authstate.InitialState()
	anon.IsLoading = false
	user := &authstate.User{ID: "u1"}
	authed := authstate.State{User: user, IsAuthenticated: true, Phase: authstate.PhaseAuthenticated}

	assert.Equal(t, authstate.Decision{RedirectTo: "/login"}, authstate.Check(anon, true, "/login"))
	assert.Equal(t, authstate.Allowed, authstate.Check(authed, true, "/login"))
	assert.Equal(t, authstate.Allowed, authstate.Check(anon, false, "/login"))
	assert.Equal(t, "/login", authstate.Check(anon, true, "").RedirectTo)
}

func TestGuard_Decide(t *testing.T) {
	guard := authstate.NewGuard()
	anon := authstate.State{Phase: authstate.PhaseUnauthenticated}
	authed := authstate.State{User: &authstate.User{ID: "u1"}, IsAuthenticated: true}

	tests := []struct {
		path     string
		state    authstate.State
		expected authstate.Decision
	}{
		{"/", anon, authstate.Decision{RedirectTo: "/login"}},
		{"/settings", anon, authstate.Decision{RedirectTo: "/login"}},
		{"/projects/42", anon, authstate.Decision{RedirectTo: "/login"}},
		{"/projects/42", authed, authstate.Allowed},
		{"/login", anon, authstate.Allowed},
		{"/signup/", anon, authstate.Allowed},
		{"/reset-password?token=x", anon, authstate.Allowed},
		{"/", authed, authstate.Allowed},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, guard.Decide(tt.state, tt.path))
		})
	}
}

func TestGuard_PrefixPublic(t *testing.T) {
	guard := authstate.Guard{LoginRoute: "/auth/login", Public: []string{"/docs/*"}}

	assert.False(t, guard.RequiresAuth("/docs"))
	assert.False(t, guard.RequiresAuth("/docs/intro"))
	assert.False(t, guard.RequiresAuth("/auth/login"))
	assert.True(t, guard.RequiresAuth("/documents"))
	assert.Equal(t, "/auth/login", guard.Decide(authstate.State{}, "/mcp").RedirectTo)
}
