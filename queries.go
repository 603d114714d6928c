package authstate

import (
	"context"

	"github.com/goliatone/go-authstate/query"
)

// Auth cache keys.
var (
	AuthKeyAll     = query.Key{"auth"}
	AuthKeySession = query.Key{"auth", "session"}
	AuthKeyUser    = query.Key{"auth", "user"}
)

// authReadOptions: long validity, explicit invalidation, no retry so auth
// failures surface immediately.
var authReadOptions = query.Options{StaleTime: query.StaleRare, Retry: 0}

// SessionSource is the part of the store the query layer reads and mutates
// through.
type SessionSource interface {
	Actions
	UpdatePassword(ctx context.Context, newPassword string) error
	FetchSession(ctx context.Context) (*Session, error)
	FetchUser(ctx context.Context) (*User, error)
}

var _ SessionSource = (*Store)(nil)

// StateSubscriber is implemented by sources that publish applied states.
// Queries uses it to drop cached auth reads when the backend changes the
// session on its own, e.g. a token refresh or a remote sign out.
type StateSubscriber interface {
	Subscribe(fn func(State)) Subscription
}

var _ StateSubscriber = (*Store)(nil)

// Queries exposes store reads and mutations as cacheable units. The store
// does not know about cache consumers; invalidation happens here.
type Queries struct {
	source SessionSource
	cache  *query.Client
	read   query.Options
	logger Logger

	sub      Subscription
	lastUser *User
	lastSess *Session
}

// QueriesOption customizes Queries.
type QueriesOption func(*Queries)

// WithQueriesStaleTime overrides the stale time of the auth read units.
func WithQueriesStaleTime(cfg Config) QueriesOption {
	return func(q *Queries) {
		if cfg != nil && cfg.GetQueryStaleTime() != 0 {
			q.read.StaleTime = cfg.GetQueryStaleTime()
		}
	}
}

// WithQueriesLogger sets the logger.
func WithQueriesLogger(logger Logger) QueriesOption {
	return func(q *Queries) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewQueries binds source to a shared cache client.
func NewQueries(source SessionSource, cache *query.Client, opts ...QueriesOption) *Queries {
	q := &Queries{
		source: source,
		cache:  cache,
		read:   authReadOptions,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}

	if subscriber, ok := source.(StateSubscriber); ok {
		st := source.State()
		q.lastUser, q.lastSess = st.User, st.Session
		q.sub = subscriber.Subscribe(q.onState)
	}
	return q
}

// Close stops following source state changes.
func (q *Queries) Close() {
	if q.sub != nil {
		q.sub.Unsubscribe()
	}
}

// onState runs on the store writer, one state at a time.
func (q *Queries) onState(st State) {
	if st.User == q.lastUser && st.Session == q.lastSess {
		return
	}
	q.lastUser, q.lastSess = st.User, st.Session
	q.invalidateAuth()
}

// Cache returns the shared cache client.
func (q *Queries) Cache() *query.Client {
	return q.cache
}

// Session is the "auth/session" read unit.
func (q *Queries) Session(ctx context.Context) (*Session, error) {
	return query.Fetch(ctx, q.cache, AuthKeySession, q.read, q.source.FetchSession)
}

// User is the "auth/user" read unit.
func (q *Queries) User(ctx context.Context) (*User, error) {
	return query.Fetch(ctx, q.cache, AuthKeyUser, q.read, q.source.FetchUser)
}

// SignIn signs in and invalidates every auth read unit.
func (q *Queries) SignIn(ctx context.Context, cred Credential) error {
	if err := q.source.SignIn(ctx, cred); err != nil {
		return err
	}
	q.invalidateAuth()
	return nil
}

// SignUp signs up and invalidates every auth read unit.
func (q *Queries) SignUp(ctx context.Context, cred Credential, metadata map[string]any) (*SignUpResult, error) {
	res, err := q.source.SignUp(ctx, cred, metadata)
	if err != nil {
		return nil, err
	}
	q.invalidateAuth()
	return res, nil
}

// SignOut signs out and drops every cached entry of every feature, since
// any of them may belong to the previous user. The store clears the local
// session even when the backend fails, so the cache follows it.
func (q *Queries) SignOut(ctx context.Context) error {
	err := q.source.SignOut(ctx)
	q.cache.Clear()
	q.logger.Debug("query cache cleared after sign out")
	return err
}

// ResetPassword requests a reset e-mail. Nothing is invalidated.
func (q *Queries) ResetPassword(ctx context.Context, email string) error {
	return q.source.ResetPassword(ctx, email)
}

// UpdatePassword changes the password and invalidates the user unit.
func (q *Queries) UpdatePassword(ctx context.Context, newPassword string) error {
	if err := q.source.UpdatePassword(ctx, newPassword); err != nil {
		return err
	}
	q.cache.Invalidate(AuthKeyUser)
	return nil
}

// State returns the current store state.
func (q *Queries) State() State {
	return q.source.State()
}

var _ Actions = (*Queries)(nil)

func (q *Queries) invalidateAuth() {
	n := q.cache.Invalidate(AuthKeyAll)
	q.logger.Debug("invalidated %d auth query entries", n)
}
