package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"oauthd/flow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildProvidersRegistersConfiguredProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OAuth.Providers = map[string]ProviderConfig{
		"github": {ClientID: "gh-id", ClientSecret: "gh-secret", Scope: Scopes{"read:user"}},
		"legacy": {
			ClientID:        "key",
			ClientSecret:    "secret",
			Type:            "oauth1",
			RequestTokenURL: "https://legacy.example.com/request",
			AuthURL:         "https://legacy.example.com/authorize",
			TokenURL:        "https://legacy.example.com/access",
		},
	}

	registry, creds, err := BuildProviders(context.Background(), cfg, http.DefaultClient, discardLogger())
	if err != nil {
		t.Fatalf("BuildProviders returned error: %v", err)
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "github" || names[1] != "legacy" {
		t.Fatalf("unexpected providers %v", names)
	}
	desc, err := registry.Resolve("legacy")
	if err != nil || desc.Variant != flow.OAuth1 {
		t.Fatalf("legacy should resolve to oauth1, got %+v (%v)", desc, err)
	}
	if registry.Has("twitter") {
		t.Fatalf("unconfigured builtin should not be registered")
	}

	settings, ok := creds.Lookup("github")
	if !ok {
		t.Fatalf("expected github credentials")
	}
	if settings.Credentials.RedirectURI() != "http://127.0.0.1:8080/oauth/github/callback" {
		t.Fatalf("redirect uri mismatch: %q", settings.Credentials.RedirectURI())
	}
	if len(settings.Scopes) != 1 || settings.Scopes[0] != "read:user" {
		t.Fatalf("scopes mismatch: %v", settings.Scopes)
	}
}

func TestBuildProvidersDiscoversOIDC(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/jwks",
		})
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.OAuth.Providers = map[string]ProviderConfig{
		"corp": {ClientID: "corp-id", Type: "oidc", Issuer: srv.URL},
	}

	registry, _, err := BuildProviders(context.Background(), cfg, srv.Client(), discardLogger())
	if err != nil {
		t.Fatalf("BuildProviders returned error: %v", err)
	}
	desc, err := registry.Resolve("corp")
	if err != nil || desc.Variant != flow.OAuth2 {
		t.Fatalf("corp should resolve to oauth2, got %+v (%v)", desc, err)
	}
}

func TestBuildProvidersDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.OAuth.Providers = map[string]ProviderConfig{
		"corp":   {ClientID: "corp-id", Type: "oidc", Issuer: srv.URL},
		"github": {ClientID: "gh-id"},
	}

	cfg.Server.DevMode = true
	registry, creds, err := BuildProviders(context.Background(), cfg, srv.Client(), discardLogger())
	if err != nil {
		t.Fatalf("dev mode should skip failing providers: %v", err)
	}
	if registry.Has("corp") {
		t.Fatalf("failed provider should not be registered")
	}
	if _, ok := creds.Lookup("corp"); ok {
		t.Fatalf("failed provider should have no credentials")
	}
	if !registry.Has("github") {
		t.Fatalf("healthy provider should still be registered")
	}

	cfg.Server.DevMode = false
	if _, _, err := BuildProviders(context.Background(), cfg, srv.Client(), discardLogger()); err == nil {
		t.Fatalf("expected discovery failure outside dev mode")
	}
}
