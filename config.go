package authstate

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the configuration surface used by the package components.
type Config interface {
	GetBackendURL() string
	GetAnonKey() string
	GetSiteURL() string
	GetLoginRoute() string
	GetJWTSecret() string
	GetJWKSURL() string
	GetAudience() string
	GetAutoRefresh() bool
	GetRefreshMargin() time.Duration
	GetQueryStaleTime() time.Duration
	GetQueryCacheSize() int
	GetContextKey() string
}

// EnvConfig is loaded from the process environment. SUPABASE_URL and
// SUPABASE_ANON_KEY are required.
type EnvConfig struct {
	BackendURL     string        `env:"SUPABASE_URL" json:"backend_url"`
	AnonKey        string        `env:"SUPABASE_ANON_KEY" json:"-"`
	SiteURL        string        `env:"AUTH_SITE_URL" envDefault:"http://localhost:3737" json:"site_url"`
	LoginRoute     string        `env:"AUTH_LOGIN_ROUTE" envDefault:"/login" json:"login_route"`
	JWTSecret      string        `env:"SUPABASE_JWT_SECRET" json:"-"`
	JWKSURL        string        `env:"SUPABASE_JWKS_URL" json:"jwks_url,omitempty"`
	Audience       string        `env:"AUTH_JWT_AUDIENCE" envDefault:"authenticated" json:"audience"`
	AutoRefresh    bool          `env:"AUTH_AUTO_REFRESH" envDefault:"true" json:"auto_refresh"`
	RefreshMargin  time.Duration `env:"AUTH_REFRESH_MARGIN" envDefault:"60s" json:"refresh_margin"`
	QueryStaleTime time.Duration `env:"AUTH_QUERY_STALE_TIME" envDefault:"5m" json:"query_stale_time"`
	QueryCacheSize int           `env:"AUTH_QUERY_CACHE_SIZE" envDefault:"256" json:"query_cache_size"`
	ContextKey     string        `env:"AUTH_CONTEXT_KEY" envDefault:"user" json:"context_key"`
	// HTTPAddr defaults to loopback: the shell serves one user's session.
	HTTPAddr       string        `env:"AUTH_HTTP_ADDR" envDefault:"127.0.0.1:8181" json:"http_addr"`
	SessionDB      string        `env:"AUTH_SESSION_DB" json:"session_db,omitempty"`
	Debug          bool          `env:"AUTH_DEBUG" json:"debug"`
}

var _ Config = (*EnvConfig)(nil)

// LoadConfig reads EnvConfig from the process environment.
func LoadConfig() (*EnvConfig, error) {
	return loadConfig(env.Options{})
}

// LoadConfigFrom reads EnvConfig from environ instead of the process
// environment.
func LoadConfigFrom(environ map[string]string) (*EnvConfig, error) {
	return loadConfig(env.Options{Environment: environ})
}

func loadConfig(opts env.Options) (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, NewConfigurationError(nil, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing required values as a configuration error.
func (c *EnvConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.BackendURL) == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if strings.TrimSpace(c.AnonKey) == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	if len(missing) > 0 {
		return NewConfigurationError(missing, nil)
	}

	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		return NewConfigurationError([]string{"SUPABASE_URL"}, err)
	}

	return nil
}

func (c *EnvConfig) GetBackendURL() string {
	return strings.TrimRight(c.BackendURL, "/")
}

func (c *EnvConfig) GetAnonKey() string {
	return c.AnonKey
}

func (c *EnvConfig) GetSiteURL() string {
	return strings.TrimRight(c.SiteURL, "/")
}

func (c *EnvConfig) GetLoginRoute() string {
	if c.LoginRoute == "" {
		return DefaultLoginRoute
	}
	return c.LoginRoute
}

func (c *EnvConfig) GetJWTSecret() string {
	return c.JWTSecret
}

func (c *EnvConfig) GetJWKSURL() string {
	return c.JWKSURL
}

func (c *EnvConfig) GetAudience() string {
	return c.Audience
}

func (c *EnvConfig) GetAutoRefresh() bool {
	return c.AutoRefresh
}

func (c *EnvConfig) GetRefreshMargin() time.Duration {
	return c.RefreshMargin
}

func (c *EnvConfig) GetQueryStaleTime() time.Duration {
	return c.QueryStaleTime
}

func (c *EnvConfig) GetQueryCacheSize() int {
	return c.QueryCacheSize
}

func (c *EnvConfig) GetContextKey() string {
	return c.ContextKey
}

// PasswordResetRedirect is the page the reset e-mail links back to.
func PasswordResetRedirect(cfg Config) string {
	return cfg.GetSiteURL() + "/reset-password"
}

// IsLoopbackAddr reports whether a listen address only accepts local
// connections.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
