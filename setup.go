package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"oauthd/flow"
	"oauthd/server"
)

func runConfigInit(path string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s. Remove it first or use a different path", path)
	}
	_, err := runSetup(path, bufio.NewReader(in), out, logger)
	return err
}

func runSetup(path string, reader *bufio.Reader, out io.Writer, logger *slog.Logger) (server.Config, error) {
	fmt.Fprintf(out, "No configuration file found at %s.\n", path)
	fmt.Fprintln(out, "Starting guided setup. Press Enter to accept defaults.")

	cfg := server.DefaultConfig()

	devMode := askYesNo(reader, out, "Run in development mode?", true)
	cfg.Server.DevMode = devMode

	if devMode {
		publicURL := strings.TrimSuffix(ask(reader, out, "Gateway public URL", cfg.Server.PublicURL), "/")
		if publicURL != "" {
			cfg.Server.PublicURL = publicURL
		}
		cfg.Server.DevListenAddr = ask(reader, out, "Gateway dev listen address", cfg.Server.DevListenAddr)
	} else {
		domain := askRequired(reader, out, "Primary public domain (e.g. login.example.com)")
		cfg.Server.TLS.Domains = []string{domain}
		cfg.Server.PublicURL = "https://" + strings.TrimSuffix(domain, "/")
		cfg.Server.TLS.Email = ask(reader, out, "ACME contact email", cfg.Server.TLS.Email)
		cfg.Server.HTTPListenAddr = ":80"
		cfg.Server.HTTPSListenAddr = ":443"
	}

	fmt.Fprintf(out, "Builtin providers: %s\n", strings.Join(flow.BuiltinNames(), ", "))
	for {
		name := strings.ToLower(ask(reader, out, "Provider to configure (empty to finish)", ""))
		if name == "" {
			break
		}
		if !flow.IsBuiltin(name) {
			fmt.Fprintf(out, "%s is not builtin; add it to the config file by hand with a type and endpoints.\n", name)
			continue
		}
		fmt.Fprintf(out, "Register this callback URL with %s: %s\n", name, cfg.CallbackURL(name))
		cfg.OAuth.Providers[name] = server.ProviderConfig{
			ClientID:     askRequired(reader, out, name+" client ID"),
			ClientSecret: askRequired(reader, out, name+" client secret"),
			Scope:        flow.ParseScopes(ask(reader, out, name+" scopes (comma separated)", "")),
		}
	}

	if askYesNo(reader, out, "Use redis for pending logins?", false) {
		cfg.Sessions.Driver = server.SessionDriverRedis
		cfg.Sessions.Redis.Addr = ask(reader, out, "Redis address", "127.0.0.1:6379")
	}

	if err := writeConfigFile(path, cfg); err != nil {
		return server.Config{}, err
	}
	logger.Info("configuration created", "path", path, "providers", cfg.ProviderNames())

	return server.LoadConfig(path)
}

func runConfigValidate(ctx context.Context, path string, logger *slog.Logger) error {
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	logger.Info("validating provider endpoints...")
	for _, name := range cfg.ProviderNames() {
		target := probeURL(name, cfg.OAuth.Providers[name])
		if target == "" {
			continue
		}
		if err := validateURL(ctx, target); err != nil {
			logger.Warn("provider endpoint may not be accessible", "provider", name, "url", target, "error", err)
		} else {
			logger.Info("provider endpoint is accessible", "provider", name, "url", target)
		}
	}

	logger.Info("configuration validation complete", "providers", cfg.ProviderNames())
	return nil
}

// probeURL picks the endpoint checked for a provider. Builtin endpoints are
// not probed.
func probeURL(name string, pc server.ProviderConfig) string {
	switch strings.ToLower(pc.Type) {
	case server.ProviderTypeOIDC:
		issuer := pc.Issuer
		if resolved, ok := flow.ResolveAzureTenantIssuer(pc.Issuer, pc.TenantID); ok {
			issuer = resolved
		}
		return strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
	case server.ProviderTypeOAuth1, server.ProviderTypeOAuth2:
		return pc.AuthURL
	default:
		return ""
	}
}

func validateURL(ctx context.Context, urlStr string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("received status %d", resp.StatusCode)
	}
	return nil
}

func ask(reader *bufio.Reader, out io.Writer, prompt, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(out, "%s: ", prompt)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return strings.TrimSpace(def)
	}
	return input
}

func askRequired(reader *bufio.Reader, out io.Writer, prompt string) string {
	for {
		fmt.Fprintf(out, "%s: ", prompt)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			return input
		}
		if err != nil {
			return ""
		}
		fmt.Fprintln(out, "This value is required. Please enter a value.")
	}
}

func askYesNo(reader *bufio.Reader, out io.Writer, prompt string, def bool) bool {
	defLabel := "Y"
	if !def {
		defLabel = "N"
	}
	for {
		fmt.Fprintf(out, "%s [%s]: ", prompt, defLabel)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "" {
			return def
		}
		switch input {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		default:
			if err != nil {
				return def
			}
			fmt.Fprintln(out, "Please enter 'y' or 'n'.")
		}
	}
}

func writeConfigFile(path string, cfg server.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
