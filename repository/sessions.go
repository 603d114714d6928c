package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/uptrace/bun"
)

// DefaultSessionKey is the row used when no key is configured.
const DefaultSessionKey = "default"

// SessionModel is the Bun model for a persisted session.
type SessionModel struct {
	bun.BaseModel `bun:"table:auth_sessions"`

	StorageKey   string          `bun:"storage_key,pk"`
	UserID       string          `bun:"user_id"`
	AccessToken  string          `bun:"access_token,notnull"`
	RefreshToken string          `bun:"refresh_token"`
	TokenType    string          `bun:"token_type"`
	ExpiresIn    int64           `bun:"expires_in"`
	ExpiresAt    int64           `bun:"expires_at"`
	User         *authstate.User `bun:"user_data,type:jsonb"`
	UpdatedAt    time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// SessionRepository stores the current session in a single row keyed by
// storage key. It satisfies gotrue.SessionStorage.
type SessionRepository struct {
	db  *bun.DB
	key string
}

type SessionRepositoryOption func(*SessionRepository)

// WithSessionKey sets the row key, so several clients can share a table.
func WithSessionKey(key string) SessionRepositoryOption {
	return func(r *SessionRepository) {
		if key != "" {
			r.key = key
		}
	}
}

// NewSessionRepository creates a new repository.
func NewSessionRepository(db *bun.DB, opts ...SessionRepositoryOption) *SessionRepository {
	r := &SessionRepository{db: db, key: DefaultSessionKey}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateTable creates the sessions table when missing.
func (r *SessionRepository) CreateTable(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*SessionModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Load returns the stored session, nil when there is none.
func (r *SessionRepository) Load(ctx context.Context) (*authstate.Session, error) {
	var model SessionModel
	err := r.db.NewSelect().
		Model(&model).
		Where("storage_key = ?", r.key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toSession(&model), nil
}

// Save replaces the stored session. A nil session removes it.
func (r *SessionRepository) Save(ctx context.Context, session *authstate.Session) error {
	if session == nil {
		return r.Remove(ctx)
	}

	model := fromSession(r.key, session)
	model.UpdatedAt = time.Now().UTC()

	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (storage_key) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_type = EXCLUDED.token_type").
		Set("expires_in = EXCLUDED.expires_in").
		Set("expires_at = EXCLUDED.expires_at").
		Set("user_data = EXCLUDED.user_data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

// Remove deletes the stored session. Removing nothing is not an error.
func (r *SessionRepository) Remove(ctx context.Context) error {
	_, err := r.db.NewDelete().
		Model((*SessionModel)(nil)).
		Where("storage_key = ?", r.key).
		Exec(ctx)
	return err
}

func toSession(m *SessionModel) *authstate.Session {
	return &authstate.Session{
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		TokenType:    m.TokenType,
		ExpiresIn:    m.ExpiresIn,
		ExpiresAt:    m.ExpiresAt,
		User:         m.User,
	}
}

func fromSession(key string, s *authstate.Session) *SessionModel {
	model := &SessionModel{
		StorageKey:   key,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		ExpiresAt:    s.ExpiresAt,
		User:         s.User,
	}
	if s.User != nil {
		model.UserID = s.User.ID
	}
	return model
}
