package eventauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, read from EVENTAUTH_* variables
type Config struct {
	Addr        string `env:"EVENTAUTH_ADDR" envDefault:":8080"`
	Development bool   `env:"EVENTAUTH_DEVELOPMENT"`

	// TrustProxyHeaders honours X-Forwarded-For for the login rate limiter
	TrustProxyHeaders bool `env:"EVENTAUTH_TRUST_PROXY_HEADERS"`

	AccessSecret       string        `env:"EVENTAUTH_ACCESS_SECRET"`
	RefreshSecret      string        `env:"EVENTAUTH_REFRESH_SECRET"`
	Issuer             string        `env:"EVENTAUTH_ISSUER" envDefault:"eventauth"`
	AccessTokenExpiry  time.Duration `env:"EVENTAUTH_ACCESS_TTL" envDefault:"15m"`
	RefreshTokenExpiry time.Duration `env:"EVENTAUTH_REFRESH_TTL" envDefault:"168h"`

	PasswordPepper    string `env:"EVENTAUTH_PASSWORD_PEPPER"`
	Argon2Memory      uint32 `env:"EVENTAUTH_ARGON2_MEMORY_KB" envDefault:"65536"`
	Argon2Time        uint32 `env:"EVENTAUTH_ARGON2_TIME" envDefault:"3"`
	Argon2Parallelism uint8  `env:"EVENTAUTH_ARGON2_PARALLELISM" envDefault:"2"`

	CookieSecure bool   `env:"EVENTAUTH_COOKIE_SECURE" envDefault:"true"`
	CookieDomain string `env:"EVENTAUTH_COOKIE_DOMAIN"`

	DatabasePath string `env:"EVENTAUTH_DB_PATH" envDefault:"eventauth.db"`

	RedisAddr       string        `env:"EVENTAUTH_REDIS_ADDR"`
	LoginRateLimit  int           `env:"EVENTAUTH_LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow time.Duration `env:"EVENTAUTH_LOGIN_RATE_WINDOW" envDefault:"1m"`

	GoogleClientID     string `env:"EVENTAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"EVENTAUTH_GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"EVENTAUTH_GOOGLE_CALLBACK_URL"`
}

// LoadConfig parses the environment and validates the result
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required secrets are set and distinct
func (c *Config) Validate() error {
	var errs []error
	if c.AccessSecret == "" {
		errs = append(errs, errors.New("EVENTAUTH_ACCESS_SECRET is required"))
	}
	if c.RefreshSecret == "" {
		errs = append(errs, errors.New("EVENTAUTH_REFRESH_SECRET is required"))
	}
	if c.AccessSecret != "" && c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}
	if c.PasswordPepper == "" {
		errs = append(errs, errors.New("EVENTAUTH_PASSWORD_PEPPER is required"))
	}
	if c.AccessTokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.GoogleClientID != "" && (c.GoogleClientSecret == "" || c.GoogleCallbackURL == "") {
		errs = append(errs, errors.New("google client secret and callback URL are required with a client id"))
	}
	return errors.Join(errs...)
}

// Argon2Params returns the configured hashing cost
func (c *Config) Argon2Params() Argon2Params {
	params := DefaultArgon2Params()
	params.Memory = c.Argon2Memory
	params.Time = c.Argon2Time
	params.Parallelism = c.Argon2Parallelism
	return params
}

// TokenIssuer builds a token issuer over store from the configured secrets
func (c *Config) TokenIssuer(store IdentityStore) *TokenIssuer {
	return (&TokenIssuer{
		Store:              store,
		AccessSecret:       c.AccessSecret,
		RefreshSecret:      c.RefreshSecret,
		Issuer:             c.Issuer,
		AccessTokenExpiry:  c.AccessTokenExpiry,
		RefreshTokenExpiry: c.RefreshTokenExpiry,
	}).EnsureDefaults()
}

// CookieTransport builds the cookie transport from the configured flags
func (c *Config) CookieTransport() *CookieTransport {
	transport := NewCookieTransport(c.CookieSecure)
	transport.Access.Domain = c.CookieDomain
	transport.Refresh.Domain = c.CookieDomain
	return transport
}
