package flow

import (
	"strings"
	"sync"
)

// Credentials identify this application to one provider. The zero value is
// empty; use NewCredentials to build one.
type Credentials struct {
	clientID     string
	clientSecret string
	redirectURI  string
}

// NewCredentials returns an immutable credential set.
func NewCredentials(clientID, clientSecret, redirectURI string) Credentials {
	return Credentials{
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		redirectURI:  strings.TrimSpace(redirectURI),
	}
}

func (c Credentials) ClientID() string     { return c.clientID }
func (c Credentials) ClientSecret() string { return c.clientSecret }
func (c Credentials) RedirectURI() string  { return c.redirectURI }

// ProviderSettings pairs a provider's credentials with the scopes it requests.
type ProviderSettings struct {
	Credentials Credentials
	Scopes      []string
}

// CredentialStore looks up the settings configured for a provider.
type CredentialStore interface {
	Lookup(provider string) (ProviderSettings, bool)
}

// StaticCredentials is a CredentialStore backed by a fixed map.
type StaticCredentials struct {
	mu       sync.RWMutex
	settings map[string]ProviderSettings
}

// NewStaticCredentials constructs an empty store.
func NewStaticCredentials() *StaticCredentials {
	return &StaticCredentials{settings: make(map[string]ProviderSettings)}
}

// Set stores settings for provider, replacing earlier ones.
func (s *StaticCredentials) Set(provider string, settings ProviderSettings) {
	settings.Scopes = append([]string(nil), settings.Scopes...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[normalizeName(provider)] = settings
}

// Lookup returns a copy of the settings stored for provider.
func (s *StaticCredentials) Lookup(provider string) (ProviderSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[normalizeName(provider)]
	if !ok {
		return ProviderSettings{}, false
	}
	settings.Scopes = append([]string(nil), settings.Scopes...)
	return settings, true
}

// ParseScopes splits a comma separated scope list, trimming entries and
// dropping empty ones. An empty input yields an empty, non-nil slice.
func ParseScopes(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
