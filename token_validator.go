package authstate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authstate/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultAudience is the audience GoTrue puts in user access tokens.
const DefaultAudience = "authenticated"

// TokenVerifier checks an access token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*AccessClaims, error)
}

// TokenVerifierFunc adapts a function into a TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*AccessClaims, error)

// Verify satisfies the TokenVerifier interface.
func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*AccessClaims, error) {
	if f == nil {
		return nil, ErrTokenInvalid.Clone()
	}
	return f(ctx, token)
}

// JWTVerifierConfig configures local access token verification. At least
// one of Secret or JWKSURL is required.
type JWTVerifierConfig struct {
	Secret   string
	JWKSURL  string
	Audience string
	Leeway   time.Duration
	Logger   Logger
	Now      func() time.Time
}

// JWTVerifier verifies access tokens locally using the project JWT secret
// (HS256) or the project JWKS (asymmetric keys).
type JWTVerifier struct {
	secret []byte
	jwks   *keyfunc.JWKS
	parser *jwt.Parser
	logger Logger
}

var _ TokenVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier builds a verifier. When JWKSURL is set the key set is
// fetched once and refreshed in the background until Close.
func NewJWTVerifier(cfg JWTVerifierConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" && strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil, NewConfigurationError([]string{"SUPABASE_JWT_SECRET", "SUPABASE_JWKS_URL"}, nil)
	}

	_, logger := ResolveLogger("auth.verifier", nil, cfg.Logger)

	v := &JWTVerifier{logger: logger}

	var methods []string
	if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}

	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshErrorHandler: func(err error) {
				logger.Error("failed to do a background refresh of JWT set: %s", err)
			},
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, NewConfigurationError([]string{"SUPABASE_JWKS_URL"}, err)
		}
		v.jwks = jwks
		methods = append(methods,
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodES256.Alg(),
		)
	}

	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	v.parser = jwt.NewParser(opts...)

	return v, nil
}

// Verify satisfies the TokenVerifier interface.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*AccessClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenInvalid.Clone()
	}

	claims := &AccessClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, tokenError(ErrTokenExpired, err)
		}
		return nil, tokenError(ErrTokenInvalid, err)
	}

	if claims.UserID() == "" {
		return nil, tokenError(ErrTokenInvalid, errors.New("token has no subject"))
	}

	return claims, nil
}

// Close stops the background key set refresh.
func (v *JWTVerifier) Close() error {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
	return nil
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(v.secret) == 0 {
			return nil, fmt.Errorf("unexpected jwt signing method: %q", token.Method.Alg())
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, fmt.Errorf("unexpected jwt signing method: %q", token.Method.Alg())
	}
	return v.jwks.Keyfunc(token)
}

// UserLookup resolves the user owning an access token.
type UserLookup interface {
	UserForToken(ctx context.Context, accessToken string) (*User, error)
}

// RemoteVerifier asks the identity service who owns the token. It accepts
// every token the service accepts, including ones signed with keys this
// process does not know.
type RemoteVerifier struct {
	lookup UserLookup
}

var _ TokenVerifier = (*RemoteVerifier)(nil)

// NewRemoteVerifier returns a verifier backed by lookup.
func NewRemoteVerifier(lookup UserLookup) *RemoteVerifier {
	return &RemoteVerifier{lookup: lookup}
}

// Verify satisfies the TokenVerifier interface.
func (r *RemoteVerifier) Verify(ctx context.Context, token string) (*AccessClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTokenInvalid.Clone()
	}

	user, err := r.lookup.UserForToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil || user.ID == "" {
		return nil, ErrTokenInvalid.Clone()
	}

	return ClaimsFromUser(user), nil
}

// MultiVerifier tries verifiers in order until one succeeds.
// It treats ErrTokenInvalid as "try next" and returns the last invalid
// error if all verifiers fail. Expired tokens stop the chain.
type MultiVerifier struct {
	verifiers []TokenVerifier
}

// NewMultiVerifier filters nil verifiers and returns a composite verifier.
func NewMultiVerifier(verifiers ...TokenVerifier) *MultiVerifier {
	filtered := make([]TokenVerifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	return &MultiVerifier{verifiers: filtered}
}

// Verify satisfies the TokenVerifier interface.
func (m *MultiVerifier) Verify(ctx context.Context, token string) (*AccessClaims, error) {
	var lastErr error
	for _, v := range m.verifiers {
		claims, err := v.Verify(ctx, token)
		if err == nil {
			return claims, nil
		}
		if IsTokenInvalid(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTokenInvalid.Clone()
}

// IsTokenInvalid reports errors produced for malformed or unknown tokens.
func IsTokenInvalid(err error) bool {
	return hasTextCode(err, TextCodeTokenInvalid)
}

// IsTokenExpired reports errors produced for expired tokens.
func IsTokenExpired(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// Validator adapts a TokenVerifier to the middleware validator contract.
func Validator(verifier TokenVerifier) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(ctx context.Context, token string) (jwtware.AuthClaims, error) {
		claims, err := verifier.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

func tokenError(base *goerrors.Error, cause error) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = cause
	return clone
}
