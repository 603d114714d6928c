package authstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SignUpResult is returned by a successful sign up. ConfirmationPending is
// set when the backend created the user but withheld the session until the
// e-mail address is confirmed.
type SignUpResult struct {
	User                *User
	Session             *Session
	ConfirmationPending bool
}

// StoreOption customizes store construction.
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreLoggerProvider resolves the store logger by name.
func WithStoreLoggerProvider(provider LoggerProvider) StoreOption {
	return func(s *Store) {
		s.loggerProvider = provider
	}
}

// WithStoreActivitySink sets the ActivitySink used to publish auth events.
func WithStoreActivitySink(sink ActivitySink) StoreOption {
	return func(s *Store) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithStoreClock injects a custom clock (useful for tests).
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTransitionHook adds a hook executed after every applied transition.
// Hooks run in application order and must not call back into store
// mutations.
func WithTransitionHook(h TransitionHook) StoreOption {
	return func(s *Store) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

type stateListener struct {
	id     string
	fn     func(State)
	active atomic.Bool
}

// Store owns the State of one running application instance. Every update
// goes through apply, which serializes writers and delivers the resulting
// states to listeners in the order they were applied.
type Store struct {
	backend        Backend
	logger         Logger
	loggerProvider LoggerProvider
	activitySink   ActivitySink
	now            func() time.Time
	hooks          []TransitionHook

	mu       sync.Mutex
	state    State
	inflight int
	// writes counts settled writes (change events and mutation results). A
	// probe that observes a different count on return is stale.
	writes  uint64
	started bool
	closed  bool
	sub     Subscription

	// dispatch orders delivery; listenersMu only guards the slice so a
	// listener may unsubscribe or close the store from its callback.
	dispatch    sync.Mutex
	listenersMu sync.Mutex
	listeners   []*stateListener
}

var _ Actions = (*Store)(nil)

// NewStore builds a store in the Initializing phase. Call Start to
// subscribe to backend changes and run the initial session probe.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend:      backend,
		activitySink: noopActivitySink{},
		now:          time.Now,
		state:        InitialState(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.loggerProvider, s.logger = ResolveLogger("auth.store", s.loggerProvider, s.logger)

	return s
}

// Start subscribes to backend change notifications and then probes the
// current session. A failed probe is logged and leaves the store
// unauthenticated. Calling Start more than once is a no-op.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	probeAt := s.writes
	s.mu.Unlock()

	sub := s.backend.OnChange(s.handleChange)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return ErrStoreClosed
	}
	s.sub = sub
	s.mu.Unlock()

	session, err := s.backend.GetSession(ctx)
	if err != nil {
		s.logger.Error("initial session probe failed: %v", err)
	}

	s.apply(ctx, CauseProbe, "", func(cur State) (State, bool) {
		if s.writes != probeAt {
			s.logger.Debug("discarding stale session probe result")
			return cur, false
		}
		if err != nil {
			return newState(nil, nil, s.inflight > 0), true
		}
		return newState(userFromSession(session), session, s.inflight > 0), true
	})

	return nil
}

// Close releases the backend subscription. It is safe to call more than
// once and from every teardown path.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	s.listenersMu.Lock()
	for _, l := range s.listeners {
		l.active.Store(false)
	}
	s.listeners = nil
	s.listenersMu.Unlock()

	return nil
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every state the store applies, in
// order. fn runs synchronously on the writer goroutine and must not call
// store mutations. It may unsubscribe itself or close the store; a removed
// listener gets nothing further.
func (s *Store) Subscribe(fn func(State)) Subscription {
	if fn == nil {
		return SubscriptionFunc(nil)
	}

	l := &stateListener{id: uuid.NewString(), fn: fn}
	l.active.Store(true)

	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()

	return SubscriptionFunc(func() {
		if !l.active.CompareAndSwap(true, false) {
			return
		}
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, other := range s.listeners {
			if other.id == l.id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	})
}

// SignIn authenticates with the backend. On failure the current user and
// session are kept, loading is cleared and the backend error is returned
// unchanged.
func (s *Store) SignIn(ctx context.Context, cred Credential) error {
	if err := s.beginMutation(ctx); err != nil {
		return err
	}

	result, err := s.backend.SignIn(ctx, cred)
	if err == nil && (result == nil || result.User == nil || result.Session == nil) {
		err = ErrMissingSession.Clone()
	}

	if err != nil {
		s.endMutation(ctx, CauseMutationFailed, nil)
		s.record(ctx, ActivityEventSignInFailure, nil, cred.Email, map[string]any{"error": err.Error()})
		return err
	}

	s.endMutation(ctx, CauseSignIn, func(cur State) State {
		return newState(result.User, result.Session, cur.IsLoading)
	})
	s.record(ctx, ActivityEventSignInSuccess, result.User, cred.Email, nil)

	return nil
}

// SignUp registers a new account. When the backend withholds the session
// the store ends unauthenticated and the result is marked
// ConfirmationPending; that is not an error.
func (s *Store) SignUp(ctx context.Context, cred Credential, metadata map[string]any) (*SignUpResult, error) {
	if err := s.beginMutation(ctx); err != nil {
		return nil, err
	}

	result, err := s.backend.SignUp(ctx, cred, metadata)
	if err == nil && (result == nil || result.User == nil) {
		err = ErrMissingUser.Clone()
	}

	if err != nil {
		s.endMutation(ctx, CauseMutationFailed, nil)
		s.record(ctx, ActivityEventSignUpFailure, nil, cred.Email, map[string]any{"error": err.Error()})
		return nil, err
	}

	out := &SignUpResult{
		User:                result.User,
		Session:             result.Session,
		ConfirmationPending: result.Session == nil,
	}

	s.endMutation(ctx, CauseSignUp, func(cur State) State {
		if result.Session == nil {
			return newState(nil, nil, cur.IsLoading)
		}
		return newState(result.User, result.Session, cur.IsLoading)
	})
	s.record(ctx, ActivityEventSignUpSuccess, result.User, cred.Email, map[string]any{
		"confirmation_pending": out.ConfirmationPending,
	})

	return out, nil
}

// SignOut revokes the session. Local user and session are cleared whether
// or not the backend call succeeds; a backend error is still returned so
// the caller can warn that remote revocation is unconfirmed.
func (s *Store) SignOut(ctx context.Context) error {
	if err := s.beginMutation(ctx); err != nil {
		return err
	}

	prev := s.State().User

	err := s.backend.SignOut(ctx)
	if err != nil {
		s.logger.Warn("backend sign out failed, clearing local session anyway: %v", err)
	}

	s.endMutation(ctx, CauseSignOut, func(cur State) State {
		return newState(nil, nil, cur.IsLoading)
	})

	meta := map[string]any{"remote_confirmed": err == nil}
	if err != nil {
		meta["error"] = err.Error()
	}
	s.record(ctx, ActivityEventSignOut, prev, "", meta)

	return err
}

// ResetPassword asks the backend to send a password reset e-mail. It does
// not change state.
func (s *Store) ResetPassword(ctx context.Context, email string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	if err := s.backend.ResetPassword(ctx, email); err != nil {
		return err
	}

	s.record(ctx, ActivityEventPasswordResetRequested, nil, email, nil)
	return nil
}

// UpdatePassword changes the signed in user's password. The backend
// reports the result through a USER_UPDATED change event.
func (s *Store) UpdatePassword(ctx context.Context, newPassword string) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	if err := s.backend.UpdatePassword(ctx, newPassword); err != nil {
		return err
	}

	s.record(ctx, ActivityEventPasswordUpdated, s.State().User, "", nil)
	return nil
}

// FetchSession reads the current session straight from the backend.
func (s *Store) FetchSession(ctx context.Context) (*Session, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	return s.backend.GetSession(ctx)
}

// FetchUser reads the current user straight from the backend.
func (s *Store) FetchUser(ctx context.Context) (*User, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	return s.backend.GetUser(ctx)
}

func (s *Store) handleChange(event ChangeEvent) {
	ctx := context.Background()

	user := event.User
	if user == nil {
		user = userFromSession(event.Session)
	}

	var from State
	applied := s.apply(ctx, CauseChange, event.Kind, func(cur State) (State, bool) {
		if s.closed {
			return cur, false
		}
		from = cur
		s.writes++
		return newState(user, event.Session, false), true
	})

	if applied {
		s.record(ctx, ActivityEventSessionChanged, user, "", map[string]any{
			"kind":       string(event.Kind),
			"from_phase": string(from.Phase),
		})
	}
}

func (s *Store) beginMutation(ctx context.Context) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	s.apply(ctx, CauseMutationStart, "", func(cur State) (State, bool) {
		s.inflight++
		next := cur
		next.IsLoading = true
		return next, true
	})
	return nil
}

// endMutation settles a mutation. next may be nil when the mutation
// failed and only the loading flag changes. Initializing is only left
// loading while a mutation or the first session read is still pending.
func (s *Store) endMutation(ctx context.Context, cause Cause, next func(State) State) {
	s.apply(ctx, cause, "", func(cur State) (State, bool) {
		if s.inflight > 0 {
			s.inflight--
		}
		out := cur
		out.IsLoading = s.inflight > 0
		if next != nil {
			s.writes++
			out = next(out)
		}
		if out.Phase == PhaseInitializing && !out.IsLoading {
			out = newState(out.User, out.Session, false)
		}
		return out, true
	})
}

// apply runs fn under the state lock and fans the result out. The dispatch
// lock is taken before the state lock is released so listeners see states
// in the order they were applied.
func (s *Store) apply(ctx context.Context, cause Cause, kind ChangeKind, fn func(State) (State, bool)) bool {
	s.mu.Lock()
	from := s.state
	next, ok := fn(from)
	if !ok {
		s.mu.Unlock()
		return false
	}

	if err := checkTransition(from, next); err != nil {
		s.mu.Unlock()
		s.logger.Error("rejected transition %s -> %s (%s): %v", from.Phase, next.Phase, cause, err)
		return false
	}

	s.state = next
	s.dispatch.Lock()
	s.mu.Unlock()

	s.listenersMu.Lock()
	listeners := append([]*stateListener(nil), s.listeners...)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		if l.active.Load() {
			l.fn(next)
		}
	}

	t := Transition{From: from, To: next, Cause: cause, Kind: kind}
	for _, hook := range s.hooks {
		hook(ctx, t)
	}
	s.dispatch.Unlock()

	if from.Phase != next.Phase {
		s.logger.Debug("auth state %s -> %s (%s)", from.Phase, next.Phase, cause)
	}

	return true
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) record(ctx context.Context, eventType ActivityEventType, user *User, email string, meta map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Email:      email,
		Metadata:   meta,
		OccurredAt: s.now(),
	}
	if user != nil {
		event.UserID = user.ID
		if event.Email == "" {
			event.Email = user.Email
		}
	}

	st := s.State()
	event.ToPhase = st.Phase
	if from, ok := meta["from_phase"].(string); ok {
		event.FromPhase = Phase(from)
	}

	if err := s.activitySink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink failed for %s: %v", eventType, err)
	}
}
