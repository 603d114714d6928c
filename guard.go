package authstate

import "strings"

// DefaultLoginRoute is where unauthenticated visitors of guarded views are
// sent.
const DefaultLoginRoute = "/login"

// Decision is the outcome of an access check. RedirectTo is only set when
// Allow is false.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// Allowed is the decision that lets the view render.
var Allowed = Decision{Allow: true}

// Check decides whether a view can render for state. It does no I/O.
func Check(state State, requiresAuth bool, loginRoute string) Decision {
	if !requiresAuth || state.IsAuthenticated {
		return Allowed
	}
	if loginRoute == "" {
		loginRoute = DefaultLoginRoute
	}
	return Decision{RedirectTo: loginRoute}
}

// Guard applies Check to request paths. Paths listed in Public, and the
// login route itself, never require authentication. Entries ending in
// "/*" match every path below the prefix.
type Guard struct {
	LoginRoute string
	Public     []string
}

// DefaultPublicRoutes lists the views reachable without a session.
var DefaultPublicRoutes = []string{"/login", "/signup", "/reset-password"}

// NewGuard returns a guard using the default login route and public views.
func NewGuard() Guard {
	return Guard{
		LoginRoute: DefaultLoginRoute,
		Public:     append([]string(nil), DefaultPublicRoutes...),
	}
}

// Decide checks path against state.
func (g Guard) Decide(state State, path string) Decision {
	return Check(state, g.RequiresAuth(path), g.loginRoute())
}

// RequiresAuth reports whether path is a guarded view.
func (g Guard) RequiresAuth(path string) bool {
	path = normalizePath(path)
	if path == normalizePath(g.loginRoute()) {
		return false
	}
	for _, p := range g.Public {
		if matchRoute(p, path) {
			return false
		}
	}
	return true
}

func (g Guard) loginRoute() string {
	if g.LoginRoute == "" {
		return DefaultLoginRoute
	}
	return g.LoginRoute
}

func matchRoute(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		prefix = normalizePath(prefix)
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return normalizePath(pattern) == path
}

func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
