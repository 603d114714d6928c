package gotrue

import (
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-authstate"
)

const (
	authPath = "/auth/v1"

	defaultRefreshMargin = 60 * time.Second
	defaultTickInterval  = 30 * time.Second
	defaultHTTPTimeout   = 10 * time.Second
)

// Config holds the GoTrue client configuration.
type Config struct {
	// URL is the project URL, e.g. "https://xyz.supabase.co". The auth API
	// is served under /auth/v1.
	URL string

	// AnonKey is the public API key sent with every request.
	AnonKey string

	// RedirectTo is the page password reset e-mails link back to.
	RedirectTo string

	// RefreshMargin is how close to expiry a session is refreshed.
	// Default: 60 seconds.
	RefreshMargin time.Duration

	// AutoRefresh starts a background loop that refreshes the session
	// before it expires.
	AutoRefresh bool

	// TickInterval is how often the auto refresh loop checks the session.
	// Default: 30 seconds.
	TickInterval time.Duration

	// Storage persists the current session. Default: MemoryStorage.
	Storage SessionStorage

	HTTPClient *http.Client
	Logger     authstate.Logger
	Now        func() time.Time
}

// ConfigFrom builds a Config from the package configuration surface.
func ConfigFrom(cfg authstate.Config) Config {
	return Config{
		URL:           cfg.GetBackendURL(),
		AnonKey:       cfg.GetAnonKey(),
		RedirectTo:    authstate.PasswordResetRedirect(cfg),
		RefreshMargin: cfg.GetRefreshMargin(),
		AutoRefresh:   cfg.GetAutoRefresh(),
	}
}

func (c Config) authURL() string {
	return strings.TrimRight(strings.TrimSpace(c.URL), "/") + authPath
}

func (c Config) withDefaults() Config {
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = defaultRefreshMargin
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.Storage == nil {
		c.Storage = NewMemoryStorage()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
