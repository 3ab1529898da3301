package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
oauth:
  providers:
    github:
      client_id: from-file
      scope: "read:user, user:email"
`)

	t.Setenv("OAUTHD_SERVER_PUBLIC_URL", "https://login.example.com")
	t.Setenv("OAUTHD_PROVIDER_GITHUB_CLIENT_SECRET", "s3cret")
	t.Setenv("OAUTHD_OAUTH_TIMEOUT", "3s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.PublicURL != "https://login.example.com" {
		t.Fatalf("PublicURL override mismatch, got %q", cfg.Server.PublicURL)
	}
	gh := cfg.OAuth.Providers["github"]
	if gh.ClientID != "from-file" || gh.ClientSecret != "s3cret" {
		t.Fatalf("provider credentials mismatch: %+v", gh)
	}
	if cfg.ProviderTimeout() != 3*time.Second {
		t.Fatalf("timeout override mismatch, got %s", cfg.ProviderTimeout())
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  unknown_field: value
`)
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigIgnoresCommentLines(t *testing.T) {
	path := writeConfig(t, `# top comment
server:
  # public url
  public_url: http://localhost:9000
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.PublicURL != "http://localhost:9000" {
		t.Fatalf("unexpected public url %q", cfg.Server.PublicURL)
	}
}

func TestLoadConfigScopeForms(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
oauth:
  providers:
    github:
      client_id: gh
      scope: "read:user, ,user:email"
    gitlab:
      client_id: gl
      scope: [read_user, " api ", ""]
    google:
      client_id: go
`)
	t.Setenv("OAUTHD_PROVIDER_GOOGLE_SCOPE", "openid,email")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := map[string]string{
		"github": "read:user|user:email",
		"gitlab": "read_user|api",
		"google": "openid|email",
	}
	for name, scopes := range want {
		if got := strings.Join(cfg.OAuth.Providers[name].Scope, "|"); got != scopes {
			t.Fatalf("%s scopes = %q, want %q", name, got, scopes)
		}
	}

	bad := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
oauth:
  providers:
    github:
      client_id: gh
      scope: {read: true}
`)
	if _, err := LoadConfig(bad); err == nil {
		t.Fatalf("expected error for mapping scope")
	}
}

func TestScopesMarshalAsString(t *testing.T) {
	out, err := yaml.Marshal(ProviderConfig{ClientID: "gh", Scope: Scopes{"repo", "user"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), "scope: repo, user") {
		t.Fatalf("unexpected yaml:\n%s", out)
	}
}

func TestConfigValidateProviders(t *testing.T) {
	cases := map[string]struct {
		provider ProviderConfig
		name     string
		wantErr  string
	}{
		"builtin":            {name: "github", provider: ProviderConfig{ClientID: "id"}},
		"missing client id":  {name: "github", provider: ProviderConfig{}, wantErr: "client_id is required"},
		"unknown without type": {name: "acme", provider: ProviderConfig{ClientID: "id"}, wantErr: "not a builtin provider"},
		"custom oauth2": {name: "acme", provider: ProviderConfig{
			ClientID: "id", Type: "oauth2", AuthURL: "https://acme/auth", TokenURL: "https://acme/token",
		}},
		"oauth2 missing token url": {name: "acme", provider: ProviderConfig{
			ClientID: "id", Type: "oauth2", AuthURL: "https://acme/auth",
		}, wantErr: "token_url"},
		"oauth1 missing request url": {name: "acme", provider: ProviderConfig{
			ClientID: "id", Type: "oauth1", AuthURL: "https://acme/auth", TokenURL: "https://acme/token",
		}, wantErr: "request_token_url"},
		"oidc missing issuer": {name: "corp", provider: ProviderConfig{ClientID: "id", Type: "oidc"}, wantErr: "issuer"},
		"bad type":            {name: "corp", provider: ProviderConfig{ClientID: "id", Type: "saml"}, wantErr: "type must be"},
		"bad auth style": {name: "github", provider: ProviderConfig{ClientID: "id", AuthStyle: "basic"}, wantErr: "auth_style"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.OAuth.Providers = map[string]ProviderConfig{tc.name: tc.provider}
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestConfigValidateSessionDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions.Driver = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when redis driver has no address")
	}
	cfg.Sessions.Redis.Addr = "127.0.0.1:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Sessions.Driver = "memcached"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestConfigValidateRejectsShortSigningKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OAuth.StateSigningKey = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for short signing key")
	}
}

func TestConfigValidateRejectsBadDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions.PendingTTL = "-5m"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative pending ttl")
	}
}

func TestConfigValidateCookieDomain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "https://login.example.com"
	cfg.Server.CookieDomain = ".example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Server.CookieDomain = "other.org"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected cookie domain mismatch")
	}
}

func TestCallbackURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "https://login.example.com/"
	cfg.OAuth.RoutePrefix = "auth/"
	if got := cfg.CallbackURL("github"); got != "https://login.example.com/auth/github/callback" {
		t.Fatalf("callback url mismatch: %q", got)
	}
	cfg.OAuth.RoutePrefix = ""
	if got := cfg.RoutePrefix(); got != DefaultRoutePrefix {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestSplitAndTrimRemovesEmpty(t *testing.T) {
	in := " a , ,b,, c "
	out := splitAndTrim(in)
	expected := []string{"a", "b", "c"}
	if len(out) != len(expected) {
		t.Fatalf("unexpected length: got %d want %d", len(out), len(expected))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("element %d mismatch: got %q want %q", i, out[i], expected[i])
		}
	}
}

func TestParseBoolFallback(t *testing.T) {
	if parseBool("", true) != true {
		t.Fatalf("empty input should return fallback true")
	}
	if parseBool("invalid", false) != false {
		t.Fatalf("invalid input should return fallback false")
	}
	if parseBool("YES", false) != true {
		t.Fatalf("expected true for yes")
	}
	if parseBool("0", true) != false {
		t.Fatalf("expected false for zero")
	}
}

func TestParseDurationFallback(t *testing.T) {
	fallback := 5 * time.Minute
	if parseDuration("bogus", fallback) != fallback {
		t.Fatalf("invalid duration should return fallback")
	}
	if parseDuration("30s", fallback) != 30*time.Second {
		t.Fatalf("parsed duration mismatch")
	}
}
