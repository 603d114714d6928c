package authstate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// watchInvariant records every state the store applies and fails the test
// if IsAuthenticated ever disagrees with User.
func watchInvariant(t *testing.T, store *authstate.Store) func() []authstate.State {
	t.Helper()

	var mu sync.Mutex
	var seen []authstate.State

	sub := store.Subscribe(func(st authstate.State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
		assert.Equal(t, st.User != nil, st.IsAuthenticated, "isAuthenticated must mirror user")
	})
	t.Cleanup(sub.Unsubscribe)

	return func() []authstate.State {
		mu.Lock()
		defer mu.Unlock()
		return append([]authstate.State(nil), seen...)
	}
}

func newTestStore(t *testing.T, backend *MockBackend, opts ...authstate.StoreOption) *authstate.Store {
	t.Helper()
	backend.stubFallbacks()
	opts = append([]authstate.StoreOption{authstate.WithStoreLogger(nopLogger{})}, opts...)
	store := authstate.NewStore(backend, opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_InitialState(t *testing.T) {
	store := newTestStore(t, newMockBackend(t))

	st := store.State()
	assert.True(t, st.IsLoading)
	assert.Nil(t, st.User)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, authstate.PhaseInitializing, st.Phase)
}

func TestStore_StartProbe(t *testing.T) {
	t.Run("existing session authenticates", func(t *testing.T) {
		backend := newMockBackend(t)
		user := testUser("u1", "a@b.com")
		backend.On("GetSession", mock.Anything).Return(testSession(user, 0), nil)

		store := newTestStore(t, backend)
		require.NoError(t, store.Start(context.Background()))

		st := store.State()
		assert.Equal(t, authstate.PhaseAuthenticated, st.Phase)
		assert.True(t, st.IsAuthenticated)
		assert.False(t, st.IsLoading)
		assert.Equal(t, "u1", st.User.ID)
		backend.AssertNumberOfCalls(t, "OnChange", 1)
	})

	t.Run("no session is unauthenticated", func(t *testing.T) {
		store := newTestStore(t, newMockBackend(t))
		require.NoError(t, store.Start(context.Background()))

		st := store.State()
		assert.Equal(t, authstate.PhaseUnauthenticated, st.Phase)
		assert.False(t, st.IsLoading)
	})

	t.Run("failed session read fails open to unauthenticated", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.On("GetSession", mock.Anything).
			Return(nil, authstate.NewBackendError("network down", 0, errors.New("dial tcp")))

		store := newTestStore(t, backend)
		require.NoError(t, store.Start(context.Background()))

		st := store.State()
		assert.Equal(t, authstate.PhaseUnauthenticated, st.Phase)
		assert.False(t, st.IsLoading)
		assert.Nil(t, st.User)
	})

	t.Run("start twice subscribes once", func(t *testing.T) {
		backend := newMockBackend(t)
		store := newTestStore(t, backend)
		require.NoError(t, store.Start(context.Background()))
		require.NoError(t, store.Start(context.Background()))
		backend.AssertNumberOfCalls(t, "OnChange", 1)
		backend.AssertNumberOfCalls(t, "GetSession", 1)
	})
}

func TestStore_ChangeDuringSubscribeWinsOverSessionRead(t *testing.T) {
	backend := newMockBackend(t)
	user := testUser("u1", "a@b.com")
	backend.On("OnChange", mock.Anything).Run(func(args mock.Arguments) {
		fn := args.Get(0).(authstate.ChangeFunc)
		fn(authstate.ChangeEvent{Kind: authstate.ChangeSignedIn, Session: testSession(user, 0)})
	}).Return().Once()
	backend.On("GetSession", mock.Anything).Return(nil, nil)

	store := newTestStore(t, backend)
	watchInvariant(t, store)
	require.NoError(t, store.Start(context.Background()))

	st := store.State()
	assert.True(t, st.IsAuthenticated)
	require.NotNil(t, st.User)
	assert.Equal(t, "u1", st.User.ID)
	assert.False(t, st.IsLoading)
	backend.AssertNumberOfCalls(t, "GetSession", 1)
}

func TestStore_ChangeEventWinsOverLateProbe(t *testing.T) {
	backend := newMockBackend(t)
	readStarted := make(chan struct{})
	release := make(chan struct{})

	stale := testUser("stale", "old@b.com")
	backend.On("GetSession", mock.Anything).Run(func(mock.Arguments) {
		close(readStarted)
		<-release
	}).Return(testSession(stale, 0), nil)

	store := newTestStore(t, backend)
	watch := watchInvariant(t, store)

	done := make(chan error, 1)
	go func() { done <- store.Start(context.Background()) }()

	<-readStarted
	fresh := testUser("u2", "new@b.com")
	backend.Emit(authstate.ChangeEvent{Kind: authstate.ChangeSignedIn, Session: testSession(fresh, 0)})
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}

	st := store.State()
	require.NotNil(t, st.User)
	assert.Equal(t, "u2", st.User.ID)
	assert.False(t, st.IsLoading)
	assert.NotEmpty(t, watch())
}

func TestStore_LastChangeEventWins(t *testing.T) {
	u1 := testUser("u1", "one@b.com")
	u2 := testUser("u2", "two@b.com")

	sequences := map[string][]authstate.ChangeEvent{
		"sign in then out": {
			{Kind: authstate.ChangeSignedIn, Session: testSession(u1, 0)},
			{Kind: authstate.ChangeSignedOut},
		},
		"sign out then in": {
			{Kind: authstate.ChangeSignedOut},
			{Kind: authstate.ChangeSignedIn, Session: testSession(u2, 0)},
		},
		"refresh switches session": {
			{Kind: authstate.ChangeSignedIn, Session: testSession(u1, 100)},
			{Kind: authstate.ChangeTokenRefreshed, Session: testSession(u1, 200)},
			{Kind: authstate.ChangeSignedIn, Session: testSession(u2, 300)},
		},
		"user updated without session": {
			{Kind: authstate.ChangeSignedIn, Session: testSession(u1, 0)},
			{Kind: authstate.ChangeUserUpdated, User: u2, Session: testSession(u2, 0)},
		},
	}

	for name, events := range sequences {
		t.Run(name, func(t *testing.T) {
			backend := newMockBackend(t)
			store := newTestStore(t, backend)
			watch := watchInvariant(t, store)
			require.NoError(t, store.Start(context.Background()))

			for _, ev := range events {
				backend.Emit(ev)
			}

			last := events[len(events)-1]
			st := store.State()
			assert.Equal(t, last.Session, st.Session)
			if last.Session == nil && last.User == nil {
				assert.Nil(t, st.User)
			} else {
				require.NotNil(t, st.User)
				if last.User != nil {
					assert.Equal(t, last.User.ID, st.User.ID)
				} else {
					assert.Equal(t, last.Session.User.ID, st.User.ID)
				}
			}
			assert.False(t, st.IsLoading)

			seen := watch()
			require.NotEmpty(t, seen)
			assert.Equal(t, st, seen[len(seen)-1])
		})
	}
}

func TestStore_SignIn(t *testing.T) {
	t.Run("end to end", func(t *testing.T) {
		backend := newMockBackend(t)
		expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
		user := testUser("u1", "a@b.com")
		backend.On("SignIn", mock.Anything, authstate.Credential{Email: "a@b.com", Password: "secret1"}).
			Return(&authstate.AuthResult{User: user, Session: testSession(user, expiry)}, nil)

		store := newTestStore(t, backend)
		watch := watchInvariant(t, store)
		require.NoError(t, store.Start(context.Background()))

		err := store.SignIn(context.Background(), authstate.Credential{Email: "a@b.com", Password: "secret1"})
		require.NoError(t, err)

		st := store.State()
		require.NotNil(t, st.User)
		assert.Equal(t, "u1", st.User.ID)
		assert.True(t, st.IsAuthenticated)
		assert.False(t, st.IsLoading)
		assert.Equal(t, expiry, st.Session.ExpiresAt)

		var sawLoading bool
		for _, s := range watch() {
			if s.IsLoading && s.Phase == authstate.PhaseUnauthenticated {
				sawLoading = true
			}
		}
		assert.True(t, sawLoading, "loading must be set while the call is in flight")
	})

	t.Run("backend rejection propagates", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.On("SignIn", mock.Anything, mock.Anything).
			Return(nil, authstate.NewBackendError("Invalid login credentials", 400, nil))

		store := newTestStore(t, backend)
		watchInvariant(t, store)
		require.NoError(t, store.Start(context.Background()))

		err := store.SignIn(context.Background(), authstate.Credential{Email: "a@b.com", Password: "nope"})
		require.Error(t, err)
		assert.True(t, authstate.IsBackendError(err))
		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, "Invalid login credentials", richErr.Message)
		assert.Equal(t, 400, richErr.Code)

		st := store.State()
		assert.False(t, st.IsAuthenticated)
		assert.False(t, st.IsLoading)
	})

	t.Run("missing session is an error", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.On("SignIn", mock.Anything, mock.Anything).
			Return(&authstate.AuthResult{User: testUser("u1", "a@b.com")}, nil)

		store := newTestStore(t, backend)
		require.NoError(t, store.Start(context.Background()))

		err := store.SignIn(context.Background(), authstate.Credential{Email: "a@b.com", Password: "secret1"})
		require.Error(t, err)
		assert.False(t, store.State().IsAuthenticated)
		assert.False(t, store.State().IsLoading)
	})
}

func TestStore_SignUp(t *testing.T) {
	t.Run("confirmation pending", func(t *testing.T) {
		backend := newMockBackend(t)
		backend.On("SignUp", mock.Anything, mock.Anything, map[string]any{"full_name": "Ada"}).
			Return(&authstate.AuthResult{User: testUser("u9", "new@b.com")}, nil)

		store := newTestStore(t, backend)
		watchInvariant(t, store)
		require.NoError(t, store.Start(context.Background()))

		res, err := store.SignUp(context.Background(),
			authstate.Credential{Email: "new@b.com", Password: "secret1"},
			map[string]any{"full_name": "Ada"},
		)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.True(t, res.ConfirmationPending)
		assert.Equal(t, "u9", res.User.ID)

		st := store.State()
		assert.False(t, st.IsAuthenticated)
		assert.False(t, st.IsLoading)
		assert.Nil(t, st.User)
	})

	t.Run("immediate session authenticates", func(t *testing.T) {
		backend := newMockBackend(t)
		user := testUser("u9", "new@b.com")
		backend.On("SignUp", mock.Anything, mock.Anything, mock.Anything).
			Return(&authstate.AuthResult{User: user, Session: testSession(user, 0)}, nil)

		store := newTestStore(t, backend)
		require.NoError(t, store.Start(context.Background()))

		res, err := store.SignUp(context.Background(), authstate.Credential{Email: "new@b.com", Password: "secret1"}, nil)
		require.NoError(t, err)
		assert.False(t, res.ConfirmationPending)
		assert.True(t, store.State().IsAuthenticated)
	})

	t.Run("missing user is an error", func(t *testing.T) {
		store := newTestStore(t, newMockBackend(t))
		require.NoError(t, store.Start(context.Background()))

		res, err := store.SignUp(context.Background(), authstate.Credential{Email: "new@b.com", Password: "secret1"}, nil)
		require.Error(t, err)
		assert.Nil(t, res)
		assert.False(t, store.State().IsLoading)
	})
}

func TestStore_SignOutClearsEvenOnBackendFailure(t *testing.T) {
	backend := newMockBackend(t)
	user := testUser("u1", "a@b.com")
	backend.On("GetSession", mock.Anything).Return(testSession(user, 0), nil)
	backend.On("SignOut", mock.Anything).Return(authstate.NewBackendError("session_not_found", 404, nil))

	sink := &recordingSink{}
	store := newTestStore(t, backend, authstate.WithStoreActivitySink(sink))
	watchInvariant(t, store)
	require.NoError(t, store.Start(context.Background()))
	require.True(t, store.State().IsAuthenticated)

	err := store.SignOut(context.Background())
	require.Error(t, err)
	assert.True(t, authstate.IsBackendError(err))

	st := store.State()
	assert.Nil(t, st.User)
	assert.Nil(t, st.Session)
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)

	require.NotEmpty(t, sink.events)
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, authstate.ActivityEventSignOut, last.EventType)
	assert.Equal(t, "u1", last.UserID)
	assert.Equal(t, false, last.Metadata["remote_confirmed"])
}

func TestStore_ResetPasswordDoesNotTransition(t *testing.T) {
	backend := newMockBackend(t)
	backend.On("ResetPassword", mock.Anything, "a@b.com").Return(nil).Once()

	store := newTestStore(t, backend)
	require.NoError(t, store.Start(context.Background()))
	before := store.State()

	var transitions int
	sub := store.Subscribe(func(authstate.State) { transitions++ })
	defer sub.Unsubscribe()

	require.NoError(t, store.ResetPassword(context.Background(), "a@b.com"))
	backend.AssertExpectations(t)
	assert.Equal(t, before, store.State())
	assert.Zero(t, transitions)
}

func TestStore_Close(t *testing.T) {
	backend := newMockBackend(t)
	backend.stubFallbacks()
	store := authstate.NewStore(backend, authstate.WithStoreLogger(nopLogger{}))
	require.NoError(t, store.Start(context.Background()))

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.Equal(t, 1, backend.Unsubscribes())

	err := store.SignIn(context.Background(), authstate.Credential{Email: "a@b.com", Password: "secret1"})
	assert.ErrorIs(t, err, authstate.ErrStoreClosed)
	assert.ErrorIs(t, store.Start(context.Background()), authstate.ErrStoreClosed)
}

func TestStore_TransitionHooks(t *testing.T) {
	backend := newMockBackend(t)
	var causes []authstate.Cause
	store := newTestStore(t, backend, authstate.WithTransitionHook(func(_ context.Context, tr authstate.Transition) {
		causes = append(causes, tr.Cause)
	}))

	require.NoError(t, store.Start(context.Background()))
	backend.Emit(authstate.ChangeEvent{Kind: authstate.ChangeSignedOut})

	assert.Equal(t, []authstate.Cause{authstate.CauseProbe, authstate.CauseChange}, causes)
}

func TestStore_ListenerMayUnsubscribeItself(t *testing.T) {
	backend := newMockBackend(t)
	store := newTestStore(t, backend)

	var calls int
	var sub authstate.Subscription
	sub = store.Subscribe(func(authstate.State) {
		calls++
		sub.Unsubscribe()
	})

	done := make(chan error, 1)
	go func() { done <- store.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}

	backend.Emit(authstate.ChangeEvent{Kind: authstate.ChangeSignedOut})
	assert.Equal(t, 1, calls)
}

func TestStore_ListenerMayCloseStore(t *testing.T) {
	backend := newMockBackend(t)
	store := newTestStore(t, backend)

	var calls int
	store.Subscribe(func(authstate.State) {
		calls++
		_ = store.Close()
	})

	done := make(chan error, 1)
	go func() { done <- store.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, backend.Unsubscribes())
	assert.ErrorIs(t, store.SignOut(context.Background()), authstate.ErrStoreClosed)
}

func TestStore_FailedMutationBeforeStartLeavesInitializing(t *testing.T) {
	backend := newMockBackend(t)
	backend.On("SignIn", mock.Anything, mock.Anything).
		Return(nil, authstate.NewBackendError("Invalid login credentials", 400, nil))

	store := newTestStore(t, backend)
	watchInvariant(t, store)

	err := store.SignIn(context.Background(), authstate.Credential{Email: "a@b.com", Password: "nope"})
	require.Error(t, err)

	st := store.State()
	assert.Equal(t, authstate.PhaseUnauthenticated, st.Phase)
	assert.False(t, st.IsLoading)
	assert.False(t, st.IsAuthenticated)

	require.NoError(t, store.Start(context.Background()))
	assert.Equal(t, authstate.PhaseUnauthenticated, store.State().Phase)
}
