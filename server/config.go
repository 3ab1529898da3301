package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"oauthd/flow"
)

// Hardcoded flow and session defaults
const (
	DefaultRoutePrefix     = "/oauth"
	DefaultProviderTimeout = 10 * time.Second
	DefaultPendingTTL      = flow.DefaultPendingTTL
	DefaultCookieTTL       = time.Hour
	DefaultRedirect        = "/"
)

// Session drivers
const (
	SessionDriverMemory = "memory"
	SessionDriverRedis  = "redis"
)

// Provider types accepted in configuration
const (
	ProviderTypeOAuth1 = "oauth1"
	ProviderTypeOAuth2 = "oauth2"
	ProviderTypeOIDC   = "oidc"
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	OAuth    OAuthConfig   `yaml:"oauth"`
	Sessions SessionConfig `yaml:"sessions"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	SecretsPath     string    `yaml:"secrets_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// OAuthConfig groups the login routes and the providers offered on them.
type OAuthConfig struct {
	RoutePrefix     string                    `yaml:"route_prefix"`
	Timeout         string                    `yaml:"timeout"`
	DefaultRedirect string                    `yaml:"default_redirect"`
	StateSigningKey string                    `yaml:"state_signing_key"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds credentials for one provider. Type and the endpoint
// fields are only needed for providers that are not builtin.
type ProviderConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	Scope           Scopes `yaml:"scope"`
	Type            string `yaml:"type,omitempty"`
	AuthURL         string `yaml:"auth_url,omitempty"`
	TokenURL        string `yaml:"token_url,omitempty"`
	RequestTokenURL string `yaml:"request_token_url,omitempty"`
	AuthStyle       string `yaml:"auth_style,omitempty"`
	Issuer          string `yaml:"issuer,omitempty"`
	TenantID        string `yaml:"tenant_id,omitempty"`
}

// Scopes is a provider scope list. In YAML it is either a comma separated
// string or a sequence of strings.
type Scopes []string

// UnmarshalYAML accepts both scope spellings.
func (s *Scopes) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = flow.ParseScopes(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		out := make(Scopes, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: scope must be a string or a list of strings", value.Line)
	}
}

// MarshalYAML writes scopes in the comma separated form.
func (s Scopes) MarshalYAML() (any, error) {
	return strings.Join(s, ", "), nil
}

// SessionConfig selects where pending OAuth1 authorizations live.
type SessionConfig struct {
	Driver     string      `yaml:"driver"`
	PendingTTL string      `yaml:"pending_ttl"`
	CookieTTL  string      `yaml:"cookie_ttl"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis session driver.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
		},
		OAuth: OAuthConfig{
			RoutePrefix:     DefaultRoutePrefix,
			Timeout:         DefaultProviderTimeout.String(),
			DefaultRedirect: DefaultRedirect,
			Providers:       map[string]ProviderConfig{},
		},
		Sessions: SessionConfig{
			Driver:     SessionDriverMemory,
			PendingTTL: DefaultPendingTTL.String(),
			CookieTTL:  DefaultCookieTTL.String(),
			Redis: RedisConfig{
				KeyPrefix: "oauthd:",
			},
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"OAUTHD_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"OAUTHD_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"OAUTHD_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"OAUTHD_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"OAUTHD_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"OAUTHD_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"OAUTHD_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"OAUTHD_SERVER_SECRETS_PATH":      func(v string) { cfg.Server.SecretsPath = v },
		"OAUTHD_OAUTH_ROUTE_PREFIX":       func(v string) { cfg.OAuth.RoutePrefix = v },
		"OAUTHD_OAUTH_TIMEOUT":            func(v string) { cfg.OAuth.Timeout = v },
		"OAUTHD_OAUTH_STATE_SIGNING_KEY":  func(v string) { cfg.OAuth.StateSigningKey = v },
		"OAUTHD_SESSIONS_DRIVER":          func(v string) { cfg.Sessions.Driver = v },
		"OAUTHD_SESSIONS_REDIS_ADDR":      func(v string) { cfg.Sessions.Redis.Addr = v },
		"OAUTHD_SESSIONS_REDIS_PASSWORD":  func(v string) { cfg.Sessions.Redis.Password = v },
		"OAUTHD_SESSIONS_REDIS_DB": func(v string) {
			if db, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				cfg.Sessions.Redis.DB = db
			}
		},
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}

	// Provider secrets usually come from the environment:
	// OAUTHD_PROVIDER_GITHUB_CLIENT_ID, OAUTHD_PROVIDER_GITHUB_CLIENT_SECRET.
	for name, p := range cfg.OAuth.Providers {
		prefix := "OAUTHD_PROVIDER_" + envName(name) + "_"
		if v, ok := os.LookupEnv(prefix + "CLIENT_ID"); ok {
			p.ClientID = v
		}
		if v, ok := os.LookupEnv(prefix + "CLIENT_SECRET"); ok {
			p.ClientSecret = v
		}
		if v, ok := os.LookupEnv(prefix + "SCOPE"); ok {
			p.Scope = flow.ParseScopes(v)
		}
		cfg.OAuth.Providers[name] = p
	}
}

func envName(provider string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(provider))
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	return flow.ParseScopes(val)
}

// ProviderTimeout returns the configured provider call timeout.
func (c Config) ProviderTimeout() time.Duration {
	return parseDuration(c.OAuth.Timeout, DefaultProviderTimeout)
}

// PendingTTL returns how long OAuth1 request tokens are kept.
func (c Config) PendingTTL() time.Duration {
	return parseDuration(c.Sessions.PendingTTL, DefaultPendingTTL)
}

// CookieTTL returns the lifetime of the session cookie.
func (c Config) CookieTTL() time.Duration {
	return parseDuration(c.Sessions.CookieTTL, DefaultCookieTTL)
}

// RoutePrefix returns the normalised login route prefix, e.g. "/oauth".
func (c Config) RoutePrefix() string {
	prefix := "/" + strings.Trim(strings.TrimSpace(c.OAuth.RoutePrefix), "/")
	if prefix == "/" {
		return DefaultRoutePrefix
	}
	return prefix
}

// CallbackURL is the redirect URI registered with provider.
func (c Config) CallbackURL(provider string) string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + c.RoutePrefix() + "/" + provider + "/callback"
}

// ProviderNames lists configured providers in sorted order.
func (c Config) ProviderNames() []string {
	names := make([]string, 0, len(c.OAuth.Providers))
	for name := range c.OAuth.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if c.Server.CookieDomain != "" {
		host := hostOf(c.Server.PublicURL)
		cookieDomain := strings.TrimPrefix(c.Server.CookieDomain, ".")
		if !strings.HasSuffix(host, cookieDomain) {
			slog.Error("Cookie domain mismatch",
				"field", "server.cookie_domain",
				"cookie_domain", c.Server.CookieDomain,
				"public_url_domain", host,
				"reason", "cookie_domain must be a suffix of public_url domain")
			return fmt.Errorf("server.cookie_domain '%s' does not match server.public_url domain '%s'", c.Server.CookieDomain, host)
		}
	}

	for field, val := range map[string]string{
		"oauth.timeout":        c.OAuth.Timeout,
		"sessions.pending_ttl": c.Sessions.PendingTTL,
		"sessions.cookie_ttl":  c.Sessions.CookieTTL,
	} {
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			slog.Error("Invalid duration", "field", field, "value", val)
			return fmt.Errorf("%s must be a positive duration, got: %s", field, val)
		}
	}

	if c.OAuth.StateSigningKey != "" && len(c.OAuth.StateSigningKey) < 32 {
		slog.Error("State signing key too short", "field", "oauth.state_signing_key", "min_length", 32)
		return errors.New("oauth.state_signing_key must be at least 32 characters")
	}

	switch c.Sessions.Driver {
	case "", SessionDriverMemory:
	case SessionDriverRedis:
		if c.Sessions.Redis.Addr == "" {
			slog.Error("Missing redis address", "field", "sessions.redis.addr")
			return errors.New("sessions.redis.addr is required when sessions.driver is redis")
		}
	default:
		slog.Error("Unknown session driver", "field", "sessions.driver", "value", c.Sessions.Driver)
		return fmt.Errorf("sessions.driver must be 'memory' or 'redis', got: %s", c.Sessions.Driver)
	}

	for _, name := range c.ProviderNames() {
		if err := c.OAuth.Providers[name].validate(name); err != nil {
			slog.Error("Invalid provider configuration", "provider", name, "error", err)
			return err
		}
	}

	return nil
}

func (p ProviderConfig) validate(name string) error {
	if p.ClientID == "" {
		return fmt.Errorf("oauth.providers.%s.client_id is required", name)
	}
	switch p.AuthStyle {
	case "", "params", "header":
	default:
		return fmt.Errorf("oauth.providers.%s.auth_style must be 'params' or 'header', got: %s", name, p.AuthStyle)
	}

	switch strings.ToLower(p.Type) {
	case "":
		if !flow.IsBuiltin(name) {
			return fmt.Errorf("oauth.providers.%s is not a builtin provider; set type to oauth1, oauth2 or oidc", name)
		}
	case ProviderTypeOAuth2:
		if p.AuthURL == "" || p.TokenURL == "" {
			return fmt.Errorf("oauth.providers.%s: auth_url and token_url are required for oauth2", name)
		}
	case ProviderTypeOAuth1:
		if p.RequestTokenURL == "" || p.AuthURL == "" || p.TokenURL == "" {
			return fmt.Errorf("oauth.providers.%s: request_token_url, auth_url and token_url are required for oauth1", name)
		}
	case ProviderTypeOIDC:
		if p.Issuer == "" {
			return fmt.Errorf("oauth.providers.%s.issuer is required for oidc", name)
		}
	default:
		return fmt.Errorf("oauth.providers.%s.type must be oauth1, oauth2 or oidc, got: %s", name, p.Type)
	}
	return nil
}

func hostOf(rawURL string) string {
	host := strings.TrimPrefix(rawURL, "http://")
	host = strings.TrimPrefix(host, "https://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
