package eventauth_test

import (
	"strings"
	"testing"
	"time"

	ea "github.com/panyam/eventauth"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("EVENTAUTH_ACCESS_SECRET", "a-secret")
	t.Setenv("EVENTAUTH_REFRESH_SECRET", "r-secret")
	t.Setenv("EVENTAUTH_PASSWORD_PEPPER", "pepper")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := ea.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Issuer != "eventauth" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.AccessTokenExpiry != 15*time.Minute || cfg.RefreshTokenExpiry != 7*24*time.Hour {
		t.Errorf("unexpected TTLs %v %v", cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
	}
	if !cfg.CookieSecure || cfg.Development || cfg.TrustProxyHeaders {
		t.Error("expected secure cookies and production mode by default")
	}
	if cfg.Argon2Params() != ea.DefaultArgon2Params() {
		t.Errorf("argon2 params %+v", cfg.Argon2Params())
	}

	issuer := cfg.TokenIssuer(nil)
	if issuer.AccessTokenExpiry != 15*time.Minute || issuer.Issuer != "eventauth" {
		t.Errorf("token issuer %+v", issuer)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EVENTAUTH_ACCESS_TTL", "5m")
	t.Setenv("EVENTAUTH_COOKIE_SECURE", "false")
	t.Setenv("EVENTAUTH_COOKIE_DOMAIN", "example.com")
	t.Setenv("EVENTAUTH_ARGON2_TIME", "4")
	t.Setenv("EVENTAUTH_TRUST_PROXY_HEADERS", "true")

	cfg, err := ea.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AccessTokenExpiry != 5*time.Minute || cfg.Argon2Params().Time != 4 || !cfg.TrustProxyHeaders {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	transport := cfg.CookieTransport()
	if transport.Access.Secure || transport.Access.Domain != "example.com" || transport.Refresh.Domain != "example.com" {
		t.Errorf("cookie transport %+v", transport)
	}
	if transport.Refresh.Path != ea.DefaultRefreshPath {
		t.Errorf("refresh path %q", transport.Refresh.Path)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secrets", map[string]string{"EVENTAUTH_ACCESS_SECRET": "", "EVENTAUTH_REFRESH_SECRET": ""}, "EVENTAUTH_ACCESS_SECRET is required"},
		{"shared secret", map[string]string{"EVENTAUTH_REFRESH_SECRET": "a-secret"}, "must differ"},
		{"missing pepper", map[string]string{"EVENTAUTH_PASSWORD_PEPPER": ""}, "PEPPER is required"},
		{"partial google", map[string]string{"EVENTAUTH_GOOGLE_CLIENT_ID": "id"}, "google client secret"},
		{"negative ttl", map[string]string{"EVENTAUTH_REFRESH_TTL": "-1h"}, "TTLs must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := ea.LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
