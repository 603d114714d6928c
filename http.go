package authstate

import (
	"context"
	"net/http"

	"github.com/goliatone/go-authstate/middleware/jwtware"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// StateSource exposes the current session state.
type StateSource interface {
	State() State
}

// GuardedRoutes are the views that need a session.
var GuardedRoutes = []string{"/", "/onboarding", "/settings", "/mcp", "/projects", "/projects/:id"}

// RouteGuard applies a Guard to router requests.
type RouteGuard struct {
	guard  Guard
	source StateSource
	Logger Logger
}

// NewRouteGuard returns a RouteGuard reading state from source.
func NewRouteGuard(guard Guard, source StateSource) *RouteGuard {
	return &RouteGuard{
		guard:  guard,
		source: source,
		Logger: defLogger{},
	}
}

func (g *RouteGuard) WithLogger(l Logger) *RouteGuard {
	g.Logger = l
	return g
}

// ProtectedRoute redirects to the login route when the guard denies the
// request path. GET requests get 302, everything else 303.
func (g *RouteGuard) ProtectedRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			path := ctx.Path()
			decision := g.guard.Decide(g.source.State(), path)
			if decision.Allow {
				return next(ctx)
			}

			g.Logger.Info("unauthenticated access to %s, redirecting to %s", path, decision.RedirectTo)

			statusCode := http.StatusSeeOther
			if ctx.Method() == string(router.GET) {
				statusCode = http.StatusFound
			}
			return ctx.Redirect(decision.RedirectTo, statusCode)
		}
	}
}

// APIMiddleware protects API routes with bearer token verification. Claims
// are stored under the configured context key and propagated to the
// request context.
func APIMiddleware(verifier TokenVerifier, cfg Config, logger Logger, opts ...func(*jwtware.Config)) router.MiddlewareFunc {
	if logger == nil {
		logger = defLogger{}
	}

	mwCfg := jwtware.Config{
		TokenValidator: Validator(verifier),
		ContextKey:     cfg.GetContextKey(),
		ErrorHandler: func(c router.Context, err error) error {
			logger.Info("api authentication rejected: %s", err)
			return jwtware.DefaultErrorHandler(c, err)
		},
		ContextEnricher: enrichContext,
	}

	for _, opt := range opts {
		opt(&mwCfg)
	}

	return jwtware.New(mwCfg)
}

func enrichContext(ctx context.Context, claims jwtware.AuthClaims) context.Context {
	ac, ok := claims.(*AccessClaims)
	if !ok {
		return ctx
	}
	ctx = WithClaimsContext(ctx, ac)
	return WithContext(ctx, ac.User())
}

// ErrorStatus maps an error to the HTTP status sent to clients.
func ErrorStatus(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	if richErr.Code >= http.StatusBadRequest && richErr.Code < 600 {
		return richErr.Code
	}

	switch richErr.Category {
	case goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorPayload is the JSON body sent for err.
func ErrorPayload(err error) map[string]any {
	payload := map[string]any{"detail": ErrorMessage(err)}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.TextCode != "" {
			payload["code"] = richErr.TextCode
		}
		if len(richErr.ValidationErrors) > 0 {
			payload["fields"] = richErr.ValidationMap()
		}
	}

	return payload
}

func writeError(ctx router.Context, logger Logger, err error) error {
	status := ErrorStatus(err)

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		logger.Warn("request failed: %s %s", richErr.Message, print.MaybePrettyJSON(richErr.Metadata))
	} else {
		logger.Warn("request failed: %s", err)
	}

	return ctx.JSON(status, ErrorPayload(err))
}
