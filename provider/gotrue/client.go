package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// Client implements authstate.Backend against the GoTrue REST API.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	storage    SessionStorage
	logger     authstate.Logger
	now        func() time.Time

	notifier     notifier
	refreshGroup singleflight.Group

	loopMu     sync.Mutex
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

var _ authstate.Backend = (*Client)(nil)

// New creates a new GoTrue client. URL and AnonKey are required.
func New(cfg Config) (*Client, error) {
	var missing []string
	if strings.TrimSpace(cfg.URL) == "" {
		missing = append(missing, "URL")
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		missing = append(missing, "AnonKey")
	}
	if len(missing) > 0 {
		return nil, authstate.NewConfigurationError(missing, nil)
	}

	cfg = cfg.withDefaults()

	_, logger := authstate.ResolveLogger("auth.gotrue", nil, cfg.Logger)

	return &Client{
		config:     cfg,
		baseURL:    cfg.authURL(),
		httpClient: cfg.HTTPClient,
		storage:    cfg.Storage,
		logger:     logger,
		now:        cfg.Now,
	}, nil
}

// SignIn implements authstate.Backend.
func (c *Client) SignIn(ctx context.Context, cred authstate.Credential) (*authstate.AuthResult, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "", map[string]any{
		"email":    cred.Email,
		"password": cred.Password,
	}, &resp)
	if err != nil {
		return nil, err
	}

	session := resp.session(c.now())
	if session == nil || session.User == nil {
		return nil, authstate.ErrMissingSession.Clone()
	}

	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	c.emit(authstate.ChangeSignedIn, session.User, session)

	return &authstate.AuthResult{User: session.User, Session: session}, nil
}

// SignUp implements authstate.Backend. The session is nil when the project
// requires e-mail confirmation.
func (c *Client) SignUp(ctx context.Context, cred authstate.Credential, metadata map[string]any) (*authstate.AuthResult, error) {
	body := map[string]any{
		"email":    cred.Email,
		"password": cred.Password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", nil, "", body, &raw); err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, authstate.NewBackendError("invalid sign up response", 0, err)
	}

	if session := resp.session(c.now()); session != nil && session.User != nil {
		if err := c.saveSession(ctx, session); err != nil {
			return nil, err
		}
		c.emit(authstate.ChangeSignedIn, session.User, session)
		return &authstate.AuthResult{User: session.User, Session: session}, nil
	}

	user := resp.User
	if user == nil {
		user = &authstate.User{}
		if err := json.Unmarshal(raw, user); err != nil {
			return nil, authstate.NewBackendError("invalid sign up response", 0, err)
		}
	}
	if user.ID == "" {
		return nil, authstate.ErrMissingUser.Clone()
	}

	return &authstate.AuthResult{User: user}, nil
}

// SignOut implements authstate.Backend. The stored session is dropped and
// SIGNED_OUT emitted even when the revoke call fails; the failure is still
// returned.
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.storage.Load(ctx)
	if err != nil {
		c.logger.Warn("load session for sign out: %v", err)
	}

	var revokeErr error
	if session != nil && session.AccessToken != "" {
		revokeErr = c.do(ctx, http.MethodPost, "/logout", nil, session.AccessToken, nil, nil)
		if revokeErr != nil && isSessionGone(revokeErr) {
			revokeErr = nil
		}
	}

	if err := c.storage.Remove(ctx); err != nil {
		c.logger.Error("remove stored session: %v", err)
	}
	c.emit(authstate.ChangeSignedOut, nil, nil)

	return revokeErr
}

// GetSession implements authstate.Backend. A session close to expiry is
// refreshed first.
func (c *Client) GetSession(ctx context.Context) (*authstate.Session, error) {
	session, err := c.storage.Load(ctx)
	if err != nil {
		return nil, authstate.NewBackendError("failed to load session", 0, err)
	}
	if session == nil {
		return nil, nil
	}

	if session.RefreshToken != "" && session.ExpiresWithin(c.now(), c.config.RefreshMargin) {
		return c.refresh(ctx, session.RefreshToken)
	}

	return session, nil
}

// GetUser implements authstate.Backend.
func (c *Client) GetUser(ctx context.Context) (*authstate.User, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	return c.UserForToken(ctx, session.AccessToken)
}

// UserForToken asks the backend which user owns accessToken.
func (c *Client) UserForToken(ctx context.Context, accessToken string) (*authstate.User, error) {
	if accessToken == "" {
		return nil, authstate.ErrTokenInvalid.Clone()
	}

	var user authstate.User
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, authstate.ErrMissingUser.Clone()
	}
	return &user, nil
}

// ResetPassword implements authstate.Backend.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	var q url.Values
	if c.config.RedirectTo != "" {
		q = url.Values{"redirect_to": {c.config.RedirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", q, "", map[string]any{"email": email}, nil)
}

// UpdatePassword implements authstate.Backend.
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	session, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		missing := authstate.ErrMissingSession.Clone()
		missing.Message = "auth session missing"
		return missing
	}

	var user authstate.User
	if err := c.do(ctx, http.MethodPut, "/user", nil, session.AccessToken, map[string]any{
		"password": newPassword,
	}, &user); err != nil {
		return err
	}

	if user.ID != "" {
		session.User = &user
	}
	if err := c.saveSession(ctx, session); err != nil {
		return err
	}
	c.emit(authstate.ChangeUserUpdated, session.User, session)

	return nil
}

// RecoverSession installs the session carried by a password recovery link
// and emits PASSWORD_RECOVERY.
func (c *Client) RecoverSession(ctx context.Context, accessToken, refreshToken string, expiresIn int64) (*authstate.Session, error) {
	user, err := c.UserForToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	resp := tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    expiresIn,
		User:         user,
	}
	session := resp.session(c.now())

	if err := c.saveSession(ctx, session); err != nil {
		return nil, err
	}
	c.emit(authstate.ChangePasswordRecovery, user, session)

	return session, nil
}

// OnChange implements authstate.Backend.
func (c *Client) OnChange(fn authstate.ChangeFunc) authstate.Subscription {
	return c.notifier.subscribe(fn)
}

func (c *Client) saveSession(ctx context.Context, session *authstate.Session) error {
	if err := c.storage.Save(ctx, session); err != nil {
		return authstate.NewBackendError("failed to persist session", 0, err)
	}
	return nil
}

func (c *Client) emit(kind authstate.ChangeKind, user *authstate.User, session *authstate.Session) {
	if user == nil && session != nil {
		user = session.User
	}
	c.logger.Debug("auth change %s", kind)
	c.notifier.emit(authstate.ChangeEvent{Kind: kind, User: user, Session: session})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return authstate.NewBackendError("failed to encode request", 0, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return authstate.NewBackendError("failed to build request", 0, err)
	}

	if token == "" {
		token = c.config.AnonKey
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return authstate.NewBackendError(err.Error(), 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return authstate.NewBackendError(err.Error(), resp.StatusCode, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return authstate.NewBackendError(apiErrorMessage(data, resp.StatusCode), resp.StatusCode, nil)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return authstate.NewBackendError("invalid response from identity service", resp.StatusCode, err)
	}

	return nil
}

type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	RefreshToken string          `json:"refresh_token"`
	User         *authstate.User `json:"user"`
}

func (r tokenResponse) session(now time.Time) *authstate.Session {
	if r.AccessToken == "" {
		return nil
	}

	expiresAt := r.ExpiresAt
	if expiresAt == 0 && r.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second).Unix()
	}

	return &authstate.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresIn:    r.ExpiresIn,
		ExpiresAt:    expiresAt,
		User:         r.User,
	}
}

type apiError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            any    `json:"error"`
}

// apiErrorMessage returns the backend supplied message unchanged.
func apiErrorMessage(body []byte, status int) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil {
		for _, msg := range []string{e.Msg, e.Message, e.ErrorDescription} {
			if msg != "" {
				return msg
			}
		}
		if s, ok := e.Error.(string); ok && s != "" {
			return s
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(status)
	}
	return msg
}

func statusOf(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if status, ok := richErr.Metadata["status"].(int); ok {
			return status
		}
	}
	return 0
}

// isSessionGone reports backend answers meaning the session no longer
// exists remotely.
func isSessionGone(err error) bool {
	switch statusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
