package authstate_test

import (
	"testing"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
)

func TestGetRouterClaims(t *testing.T) {
	claims := authstate.ClaimsFromUser(&authstate.User{ID: "u1"})

	t.Run("default key", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.LocalsMock["user"] = claims

		got, ok := authstate.GetRouterClaims(ctx, "")
		assert.True(t, ok)
		assert.Same(t, claims, got)
	})

	t.Run("custom key", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.LocalsMock["principal"] = claims

		got, ok := authstate.GetRouterClaims(ctx, "principal")
		assert.True(t, ok)
		assert.Equal(t, "u1", got.UserID())
	})

	t.Run("missing", func(t *testing.T) {
		ctx := router.NewMockContext()

		got, ok := authstate.GetRouterClaims(ctx, "user")
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("wrong type", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.LocalsMock["user"] = "u1"

		_, ok := authstate.GetRouterClaims(ctx, "user")
		assert.False(t, ok)
	})
}
