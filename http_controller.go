package authstate

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the session actions and the auth API on app.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Get(controller.Routes.State, controller.StateShow).
		SetName("auth-state.get")

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")
	app.Post(controller.Routes.SignUp, controller.SignUpPost).
		SetName("sign-up.post")
	app.Post(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.post")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("pwd-reset.post")
	app.Post(controller.Routes.PasswordUpdate, controller.PasswordUpdatePost).
		SetName("pwd-update.post")

	app.Post(controller.Routes.Verify, controller.VerifyPost).
		SetName("auth-api.verify")
	app.Get(controller.Routes.User, controller.CurrentUser).
		SetName("auth-api.user")
	app.Get(controller.Routes.Health, controller.Health).
		SetName("auth-api.health")

	return controller
}

type AuthControllerRoutes struct {
	State          string
	Login          string
	SignUp         string
	Logout         string
	PasswordReset  string
	PasswordUpdate string
	Verify         string
	User           string
	Health         string
}

type AuthController struct {
	Logger     Logger
	Queries    *Queries
	Verifier   TokenVerifier
	ContextKey string
	Routes     *AuthControllerRoutes
	// ErrorHandler writes failed actions. Defaults to a JSON body with the
	// status taken from the error.
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithQueries sets the query layer the actions go through.
func WithQueries(q *Queries) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Queries = q
		return c
	}
}

// WithVerifier sets the verifier used by the auth API.
func WithVerifier(v TokenVerifier) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Verifier = v
		return c
	}
}

func WithControllerLogger(l Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = l
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		ContextKey: DefaultContextKey,
		Routes: &AuthControllerRoutes{
			State:          "/auth/state",
			Login:          "/login",
			SignUp:         "/signup",
			Logout:         "/logout",
			PasswordReset:  "/reset-password",
			PasswordUpdate: "/update-password",
			Verify:         "/api/auth/verify",
			User:           "/api/auth/user",
			Health:         "/api/auth/health",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Queries == nil {
		panic("Missing Queries in auth controller...")
	}

	if c.Verifier == nil {
		panic("Missing TokenVerifier in auth controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return writeError(ctx, c.Logger, err)
		}
	}

	return c
}

// StateShow answers the current session state.
func (a *AuthController) StateShow(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, a.Queries.State())
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}
	return a.Login(ctx, *payload)
}

// Login signs in and answers the new state.
func (a *AuthController) Login(ctx router.Context, payload LoginRequest) error {
	if err := SubmitLogin(ctx.Context(), a.Queries, payload); err != nil {
		a.Logger.Error("Login error: %s", ErrorMessage(err))
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, a.Queries.State())
}

// SignUpResponse tells the view whether the account still needs e-mail
// confirmation.
type SignUpResponse struct {
	User                *User `json:"user"`
	ConfirmationPending bool  `json:"confirmation_pending"`
	State               State `json:"state"`
}

func (a *AuthController) SignUpPost(ctx router.Context) error {
	payload := new(SignUpRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}
	return a.SignUp(ctx, *payload)
}

// SignUp creates the account. A pending confirmation is not an error.
func (a *AuthController) SignUp(ctx router.Context, payload SignUpRequest) error {
	res, err := SubmitSignUp(ctx.Context(), a.Queries, payload)
	if err != nil {
		a.Logger.Error("Sign up error: %s", ErrorMessage(err))
		return a.ErrorHandler(ctx, err)
	}

	status := http.StatusOK
	if res.ConfirmationPending {
		status = http.StatusAccepted
	}

	return ctx.JSON(status, SignUpResponse{
		User:                res.User,
		ConfirmationPending: res.ConfirmationPending,
		State:               a.Queries.State(),
	})
}

// LogOut clears the session. The local state is cleared even when the
// backend could not confirm the revocation; that failure is still reported.
func (a *AuthController) LogOut(ctx router.Context) error {
	if err := a.Queries.SignOut(ctx.Context()); err != nil {
		a.Logger.Warn("Sign out not confirmed by backend: %s", ErrorMessage(err))
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, a.Queries.State())
}

func (a *AuthController) PasswordResetPost(ctx router.Context) error {
	payload := new(ResetPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}
	return a.PasswordReset(ctx, *payload)
}

// PasswordReset asks the backend to e-mail a reset link.
func (a *AuthController) PasswordReset(ctx router.Context, payload ResetPasswordRequest) error {
	if err := SubmitResetPassword(ctx.Context(), a.Queries, payload); err != nil {
		a.Logger.Error("Password reset error: %s", ErrorMessage(err))
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]any{"sent": true})
}

func (a *AuthController) PasswordUpdatePost(ctx router.Context) error {
	payload := new(UpdatePasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}
	return a.PasswordUpdate(ctx, *payload)
}

// PasswordUpdate sets a new password for the signed in user.
func (a *AuthController) PasswordUpdate(ctx router.Context, payload UpdatePasswordRequest) error {
	if err := SubmitUpdatePassword(ctx.Context(), a.Queries, payload); err != nil {
		a.Logger.Error("Password update error: %s", ErrorMessage(err))
		return a.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, a.Queries.State())
}

// VerifyRequest carries a token to check.
type VerifyRequest struct {
	Token string `form:"token" json:"token"`
}

// VerifyResponse reports whether a token is valid and who owns it.
type VerifyResponse struct {
	Valid bool      `json:"valid"`
	User  *UserInfo `json:"user"`
}

// UserInfo is the public view of a verified user.
type UserInfo struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

// UserInfoFromClaims builds the public user view.
func UserInfoFromClaims(claims *AccessClaims) *UserInfo {
	if claims == nil {
		return nil
	}
	info := &UserInfo{
		ID:           claims.UserID(),
		Email:        claims.Email(),
		UserMetadata: claims.UserMetadata,
		AppMetadata:  claims.AppMetadata,
	}
	if info.UserMetadata == nil {
		info.UserMetadata = map[string]any{}
	}
	if info.AppMetadata == nil {
		info.AppMetadata = map[string]any{}
	}
	return info
}

func (a *AuthController) VerifyPost(ctx router.Context) error {
	payload := new(VerifyRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, bindError(err))
	}
	return a.Verify(ctx, *payload)
}

// Verify never fails the request: an unusable token answers valid=false.
func (a *AuthController) Verify(ctx router.Context, payload VerifyRequest) error {
	claims, err := a.Verifier.Verify(ctx.Context(), payload.Token)
	if err != nil {
		a.Logger.Debug("token verification failed: %s", ErrorMessage(err))
		return ctx.JSON(router.StatusOK, VerifyResponse{Valid: false})
	}
	return ctx.JSON(router.StatusOK, VerifyResponse{Valid: true, User: UserInfoFromClaims(claims)})
}

// CurrentUser answers the user behind the request. Claims set by the API
// middleware are used when present, otherwise the bearer token is verified
// here since the route sits under the public auth prefix.
func (a *AuthController) CurrentUser(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.ContextKey)
	if !ok {
		token := bearerToken(ctx.GetString(router.HeaderAuthorization, ""))
		if token != "" {
			verified, err := a.Verifier.Verify(ctx.Context(), token)
			if err == nil {
				claims, ok = verified, true
			} else {
				a.Logger.Debug("current user verification failed: %s", ErrorMessage(err))
			}
		}
	}

	if !ok {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
	}

	return ctx.JSON(router.StatusOK, UserInfoFromClaims(claims))
}

// Health reports the auth service as up.
func (a *AuthController) Health(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "auth",
	})
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func bindError(err error) error {
	verr := NewValidationError("invalid request payload", nil)
	verr.Source = err
	return verr
}
