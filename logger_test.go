package authstate_test

import (
	"testing"

	"github.com/goliatone/go-authstate"
	"github.com/stretchr/testify/assert"
)

type namedLogger struct {
	nopLogger
	name string
}

type loggerProviderSpy struct {
	names []string
}

func (p *loggerProviderSpy) GetLogger(name string) authstate.Logger {
	p.names = append(p.names, name)
	return namedLogger{name: name}
}

func TestResolveLogger(t *testing.T) {
	t.Run("explicit logger wins", func(t *testing.T) {
		provider := &loggerProviderSpy{}
		explicit := namedLogger{name: "explicit"}

		_, logger := authstate.ResolveLogger("auth.store", provider, explicit)
		assert.Equal(t, explicit, logger)
		assert.Empty(t, provider.names)
	})

	t.Run("provider gets the component name", func(t *testing.T) {
		provider := &loggerProviderSpy{}

		gotProvider, logger := authstate.ResolveLogger("auth.store", provider, nil)
		assert.Same(t, provider, gotProvider)
		assert.Equal(t, namedLogger{name: "auth.store"}, logger)
		assert.Equal(t, []string{"auth.store"}, provider.names)
	})

	t.Run("falls back to the default printer", func(t *testing.T) {
		_, logger := authstate.ResolveLogger("auth.store", nil, nil)
		assert.NotNil(t, logger)
		assert.NotPanics(t, func() { logger.Debug("debug %s", "ok") })
	})

	t.Run("provider func returning nil", func(t *testing.T) {
		provider := authstate.LoggerProviderFunc(func(string) authstate.Logger { return nil })

		_, logger := authstate.ResolveLogger("auth.store", provider, nil)
		assert.NotNil(t, logger)
	})
}

func TestStore_UsesProviderLogger(t *testing.T) {
	provider := &loggerProviderSpy{}
	authstate.NewStore(newMockBackend(t), authstate.WithStoreLoggerProvider(provider))

	assert.Equal(t, []string{"auth.store"}, provider.names)
}
