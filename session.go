package authstate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is the backend issued identity record. This package only holds a
// read-only copy.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	Audience     string         `json:"aud,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
}

// UUID parses the user id.
func (u *User) UUID() (uuid.UUID, error) {
	if u == nil {
		return uuid.Nil, ErrMissingUser
	}
	return uuid.Parse(u.ID)
}

// DisplayName returns the full_name metadata entry, falling back to email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name, ok := u.UserMetadata["full_name"].(string); ok && name != "" {
		return name
	}
	return u.Email
}

// Session is the backend issued proof of authentication.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user"`
}

// Expiry returns the absolute expiry time, zero when unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the session expires before now+margin.
// Sessions without an expiry never expire.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(margin).Before(exp)
}

// String keeps tokens out of logs.
func (s Session) String() string {
	userID := "<nil>"
	if s.User != nil {
		userID = s.User.ID
	}
	expiresAt := "<none>"
	if exp := s.Expiry(); !exp.IsZero() {
		expiresAt = exp.Format(time.RFC1123)
	}
	return fmt.Sprintf("user=%s type=%s exp=%s", userID, s.TokenType, expiresAt)
}

// State is the locally owned snapshot of authentication status.
type State struct {
	User            *User    `json:"user"`
	Session         *Session `json:"-"`
	IsLoading       bool     `json:"is_loading"`
	IsAuthenticated bool     `json:"is_authenticated"`
	Phase           Phase    `json:"phase"`
}

// newState is the only place a State is assembled so IsAuthenticated
// always mirrors User.
func newState(user *User, session *Session, loading bool) State {
	return State{
		User:            user,
		Session:         session,
		IsLoading:       loading,
		IsAuthenticated: user != nil,
		Phase:           phaseFor(user),
	}
}

// InitialState is the state a store starts in.
func InitialState() State {
	st := newState(nil, nil, true)
	st.Phase = PhaseInitializing
	return st
}

// userFromSession returns the session user when present.
func userFromSession(session *Session) *User {
	if session == nil {
		return nil
	}
	return session.User
}
