package authstate

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authstate/middleware/jwtware"
)

// AccessClaims are the claims carried by a GoTrue access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserEmail    string         `json:"email,omitempty"`
	UserRole     string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

var _ jwtware.AuthClaims = (*AccessClaims)(nil)

// ClaimsFromUser builds claims for a user resolved by the backend.
func ClaimsFromUser(user *User) *AccessClaims {
	if user == nil {
		return nil
	}
	claims := &AccessClaims{
		UserEmail:    user.Email,
		UserRole:     user.Role,
		UserMetadata: user.UserMetadata,
		AppMetadata:  user.AppMetadata,
	}
	claims.RegisteredClaims.Subject = user.ID
	if user.Audience != "" {
		claims.RegisteredClaims.Audience = jwt.ClaimStrings{user.Audience}
	}
	return claims
}

// Subject returns the subject claim
func (c *AccessClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user id, which GoTrue stores in the subject.
func (c *AccessClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

func (c *AccessClaims) Email() string {
	return c.UserEmail
}

func (c *AccessClaims) Role() string {
	return c.UserRole
}

// HasRole checks the token role.
func (c *AccessClaims) HasRole(role string) bool {
	return role != "" && c.UserRole == role
}

// Expires returns the expiration time
func (c *AccessClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// User returns the identity described by the claims.
func (c *AccessClaims) User() *User {
	if c == nil {
		return nil
	}
	user := &User{
		ID:           c.UserID(),
		Email:        c.UserEmail,
		Role:         c.UserRole,
		UserMetadata: c.UserMetadata,
		AppMetadata:  c.AppMetadata,
	}
	if len(c.RegisteredClaims.Audience) > 0 {
		user.Audience = c.RegisteredClaims.Audience[0]
	}
	return user
}
