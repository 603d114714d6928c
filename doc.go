// Package authstate keeps a single client-side authentication session in
// sync with a hosted identity backend and exposes it to views and APIs.
//
// Session state:
//   - Store owns the State (user, session, loading flag, phase). It is the
//     only writer: backend change notifications, the startup probe and the
//     sign in/up/out actions all go through it. Subscribers are notified
//     after every transition and may unsubscribe or close the store from
//     their callback.
//   - Sign out is optimistic. Local state is cleared even when the backend
//     could not confirm the revocation; the error is still returned.
//
// Queries:
//   - Queries caches the session and user reads in a query.Client keyed by
//     ["auth", ...]. Mutations invalidate or clear the cache, and a change
//     of user or session applied by the store invalidates the auth reads,
//     so views never read a stale user.
//
// Access:
//   - Guard decides whether a view can render for a state and where to
//     redirect otherwise. RouteGuard applies it to router requests.
//   - APIMiddleware verifies bearer tokens with a TokenVerifier (local JWT
//     or remote lookup) and stores AccessClaims in the request locals.
//
// Single user:
//   - One Store holds one user's session. The authshell command serves it
//     to a local browser and listens on 127.0.0.1 by default; every client
//     that can reach the listener acts as that user.
//
// Activity sinks:
//   - ActivitySink receives sign in/up/out, password and session events.
//     Sinks run best-effort (errors are logged).
package authstate
