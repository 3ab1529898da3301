package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"oauthd/flow"
	"oauthd/server"
)

type stubAuthorizer struct {
	url string
	err error
}

func (s *stubAuthorizer) BeginAuthorization(ctx context.Context, session, provider, redirect string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunConnectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/login", http.StatusFound)
		case "/login":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("login"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	if err := runConnect(context.Background(), discard(), &stubAuthorizer{url: srv.URL + "/start"}, "stub", nil); err != nil {
		t.Fatalf("runConnect returned error: %v", err)
	}
}

func TestRunConnectFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := runConnect(context.Background(), discard(), &stubAuthorizer{url: srv.URL}, "stub", nil); err == nil {
		t.Fatalf("expected error but got nil")
	}
}

func TestRunConnectUnsupportedProvider(t *testing.T) {
	auth := &stubAuthorizer{err: &flow.FlowError{Kind: flow.ErrUnsupportedProvider, Provider: "missing"}}
	err := runConnect(context.Background(), discard(), auth, "missing", nil)
	if !errors.Is(err, flow.ErrUnsupportedProvider) {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}

func TestRunConnectThroughEngine(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/authorize" || r.URL.Query().Get("client_id") != "acme-id" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("login page"))
	}))
	defer provider.Close()

	cfg := server.DefaultConfig()
	cfg.OAuth.Providers = map[string]server.ProviderConfig{
		"acme": {
			ClientID: "acme-id",
			Type:     "oauth2",
			AuthURL:  provider.URL + "/authorize",
			TokenURL: provider.URL + "/token",
		},
	}
	app, err := server.NewApp(context.Background(), cfg, discard())
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	defer app.Close()

	if err := runConnect(context.Background(), discard(), app.Engine, "acme", provider.Client()); err != nil {
		t.Fatalf("runConnect returned error: %v", err)
	}
}

func TestRunSetupWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	input := strings.Join([]string{
		"y",                     // dev mode
		"http://localhost:9090", // public url
		"",                      // listen addr
		"github",
		"gh-id",
		"gh-secret",
		"read:user, user:email",
		"",  // finish providers
		"n", // redis
	}, "\n") + "\n"
	var out bytes.Buffer

	cfg, err := runSetup(path, bufio.NewReader(strings.NewReader(input)), &out, discard())
	if err != nil {
		t.Fatalf("runSetup returned error: %v", err)
	}
	gh, ok := cfg.OAuth.Providers["github"]
	if !ok || gh.ClientID != "gh-id" || strings.Join(gh.Scope, ",") != "read:user,user:email" {
		t.Fatalf("github provider not written: %+v", cfg.OAuth.Providers)
	}
	if cfg.Server.PublicURL != "http://localhost:9090" {
		t.Fatalf("public url mismatch: %q", cfg.Server.PublicURL)
	}
	if !strings.Contains(out.String(), "http://localhost:9090/oauth/github/callback") {
		t.Fatalf("setup should print the callback url, got:\n%s", out.String())
	}

	if err := runConfigInit(path, strings.NewReader(""), io.Discard, discard()); err == nil {
		t.Fatalf("expected init to refuse an existing file")
	}
}

func TestPrintProvidersMarksConfigured(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.OAuth.Providers = map[string]server.ProviderConfig{
		"github": {ClientID: "id"},
		"corp":   {ClientID: "id", Type: "oidc", Issuer: "https://corp.example.com"},
	}
	var out bytes.Buffer
	if err := printProviders(&out, cfg); err != nil {
		t.Fatalf("printProviders returned error: %v", err)
	}
	lines := strings.Split(out.String(), "\n")
	var github, twitter, corp string
	for _, l := range lines {
		fields := strings.Fields(l)
		if len(fields) != 3 {
			continue
		}
		switch fields[0] {
		case "github":
			github = fields[1] + " " + fields[2]
		case "twitter":
			twitter = fields[1] + " " + fields[2]
		case "corp":
			corp = fields[1] + " " + fields[2]
		}
	}
	if github != "oauth2 true" || twitter != "oauth1 false" || corp != "oidc true" {
		t.Fatalf("unexpected listing:\n%s", out.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERR":     slog.LevelError,
	}

	for input, want := range tests {
		got, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseLogLevelInvalid(t *testing.T) {
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}
