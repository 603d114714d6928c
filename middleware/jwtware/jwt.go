package jwtware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization

	// ErrMissingAuthorization is returned when no token could be found.
	ErrMissingAuthorization = errors.New("Missing authorization header")
	// ErrMalformedAuthorization is returned when the header is not "<scheme> <token>".
	ErrMalformedAuthorization = errors.New("Invalid authorization header format")
)

// DefaultPublicPaths are served without a token.
var DefaultPublicPaths = []string{"/health", "/docs", "/redoc", "/openapi.json"}

// DefaultPublicPrefixes are path prefixes served without a token.
var DefaultPublicPrefixes = []string{"/api/auth/"}

// TokenValidator interface for validating tokens without import cycles
// This mirrors the TokenVerifier contract from the authstate package
type TokenValidator interface {
	Validate(ctx context.Context, token string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(ctx context.Context, token string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(ctx context.Context, token string) (AuthClaims, error) {
	return f(ctx, token)
}

// AuthClaims interface for structured claims without import cycles
// This mirrors the AccessClaims type from the authstate package
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	Role() string
	HasRole(role string) bool
}

// ValidationListener is invoked after a token has been validated but before authorization checks.
type ValidationListener func(ctx router.Context, claims AuthClaims) error

type Config struct {
	// Filter skips the middleware when it returns true.
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	ContextKey     string
	TokenLookup    string
	AuthScheme     string

	// PublicPaths are matched exactly, PublicPrefixes by prefix. Both are
	// checked before any token lookup. Nil slices use the defaults, empty
	// slices disable the check.
	PublicPaths    []string
	PublicPrefixes []string

	// TokenValidator is required for token validation
	TokenValidator TokenValidator

	// RequiredRole specifies an exact role that must be present
	RequiredRole string
	// RoleChecker is an optional function to validate roles against custom logic
	RoleChecker func(AuthClaims, string) bool

	// ContextEnricher is an optional function to propagate claims to the standard
	// Go context. If provided, it will be called after successful token validation.
	ContextEnricher func(c context.Context, claims AuthClaims) context.Context

	// ValidationListeners are invoked after token validation succeeds.
	ValidationListeners []ValidationListener
}

// AuthError is handed to the ErrorHandler. Detail is the message sent to
// the client.
type AuthError struct {
	Status int
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	return e.Detail
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			if cfg.hasPublicRoutes() && cfg.isPublic(ctx.Path()) {
				return ctx.Next()
			}

			token, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, &AuthError{
					Status: router.StatusUnauthorized,
					Detail: err.Error(),
					Err:    err,
				})
			}

			claims, err := cfg.TokenValidator.Validate(ctx.Context(), token)
			if err != nil {
				return cfg.ErrorHandler(ctx, &AuthError{
					Status: router.StatusUnauthorized,
					Detail: "Authentication failed: " + errorMessage(err),
					Err:    err,
				})
			}

			if err := cfg.runValidationListeners(ctx, claims); err != nil {
				return cfg.ErrorHandler(ctx, &AuthError{
					Status: router.StatusUnauthorized,
					Detail: "Authentication failed: " + errorMessage(err),
					Err:    err,
				})
			}

			if err := performAuthorizationChecks(claims, cfg); err != nil {
				return cfg.ErrorHandler(ctx, &AuthError{
					Status: router.StatusForbidden,
					Detail: err.Error(),
					Err:    err,
				})
			}

			ctx.Locals(cfg.ContextKey, claims)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), claims))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// performAuthorizationChecks performs role checks using the configured options
func performAuthorizationChecks(claims AuthClaims, cfg Config) error {
	if cfg.RequiredRole == "" {
		return nil
	}

	if cfg.RoleChecker != nil {
		if !cfg.RoleChecker(claims, cfg.RequiredRole) {
			return fmt.Errorf("access denied: custom role check failed for role '%s'", cfg.RequiredRole)
		}
		return nil
	}

	if !claims.HasRole(cfg.RequiredRole) {
		return fmt.Errorf("access denied: required role '%s' not found", cfg.RequiredRole)
	}

	return nil
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	err := ErrMissingAuthorization

	for _, extractor := range extractors {
		var e error
		raw, e = extractor(ctx)
		if raw != "" && e == nil {
			return raw, nil
		}
		// a present but malformed value is reported over a missing one
		if errors.Is(e, ErrMalformedAuthorization) {
			err = e
		}
	}

	return "", err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: JWT middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.PublicPaths == nil {
		cfg.PublicPaths = DefaultPublicPaths
	}

	if cfg.PublicPrefixes == nil {
		cfg.PublicPrefixes = DefaultPublicPrefixes
	}

	return cfg
}

// DefaultErrorHandler answers {"detail": ...} with the status carried by
// an AuthError, 401 otherwise.
func DefaultErrorHandler(c router.Context, err error) error {
	status := router.StatusUnauthorized
	detail := err.Error()

	var authErr *AuthError
	if errors.As(err, &authErr) {
		status = authErr.Status
		detail = authErr.Detail
	}

	return c.JSON(status, map[string]string{"detail": detail})
}

func (cfg *Config) hasPublicRoutes() bool {
	return len(cfg.PublicPaths) > 0 || len(cfg.PublicPrefixes) > 0
}

func (cfg *Config) isPublic(path string) bool {
	for _, p := range cfg.PublicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range cfg.PublicPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims AuthClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, jwtFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(parts[1]))
		}
	}

	return extractors
}

type JWTExtractor func(c router.Context) (string, error)

// jwtFromHeader returns a function that extracts token from the request
// header. The value must be exactly two space separated parts, the first
// matching authScheme case insensitively.
func jwtFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		if strings.TrimSpace(a) == "" {
			return "", ErrMissingAuthorization
		}
		parts := strings.Fields(a)
		if len(parts) != 2 || !strings.EqualFold(parts[0], authScheme) {
			return "", ErrMalformedAuthorization
		}
		return parts[1], nil
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrMissingAuthorization
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrMissingAuthorization
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrMissingAuthorization
		}
		return token, nil
	}
}

// errorMessage prefers the rich error message over its decorated Error() string.
func errorMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}
