package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"oauthd/flow"
)

// BuildProviders registers every configured provider and its credentials.
// OIDC providers are discovered over the network; in dev mode a provider that
// fails to initialise is skipped with a warning instead of failing start-up.
func BuildProviders(ctx context.Context, cfg Config, client *http.Client, logger *slog.Logger) (*flow.Registry, *flow.StaticCredentials, error) {
	registry := flow.NewRegistry()
	credentials := flow.NewStaticCredentials()

	for _, name := range cfg.ProviderNames() {
		pc := cfg.OAuth.Providers[name]
		if err := registerProvider(ctx, registry, name, pc, client); err != nil {
			if cfg.Server.DevMode {
				logger.Warn("provider init failed", "provider", name, "error", err)
				continue
			}
			return nil, nil, err
		}
		credentials.Set(name, flow.ProviderSettings{
			Credentials: flow.NewCredentials(pc.ClientID, pc.ClientSecret, cfg.CallbackURL(name)),
			Scopes:      pc.Scope,
		})
		logger.Debug("provider registered", "provider", name, "type", providerType(name, pc))
	}

	return registry, credentials, nil
}

func registerProvider(ctx context.Context, registry *flow.Registry, name string, pc ProviderConfig, client *http.Client) error {
	switch strings.ToLower(pc.Type) {
	case "":
		endpoint, variant, ok := flow.BuiltinEndpoint(name)
		if !ok {
			return fmt.Errorf("provider %s is not builtin and has no type", name)
		}
		return registry.Register(name, variant, func() flow.Endpoint { return endpoint })
	case ProviderTypeOAuth2:
		endpoint := flow.Endpoint{
			AuthURL:   pc.AuthURL,
			TokenURL:  pc.TokenURL,
			AuthStyle: authStyle(pc.AuthStyle),
		}
		return registry.Register(name, flow.OAuth2, func() flow.Endpoint { return endpoint })
	case ProviderTypeOAuth1:
		endpoint := flow.Endpoint{
			RequestTokenURL: pc.RequestTokenURL,
			AuthURL:         pc.AuthURL,
			TokenURL:        pc.TokenURL,
			SignatureMethod: flow.SignatureHMACSHA1,
		}
		return registry.Register(name, flow.OAuth1, func() flow.Endpoint { return endpoint })
	case ProviderTypeOIDC:
		issuer := pc.Issuer
		if pc.TenantID != "" {
			if resolved, ok := flow.ResolveAzureTenantIssuer(pc.Issuer, pc.TenantID); ok {
				issuer = resolved
			}
		}
		_, factory, err := flow.DiscoverOIDC(ctx, issuer, client)
		if err != nil {
			return fmt.Errorf("discover provider %s: %w", name, err)
		}
		return registry.RegisterDriver(name, flow.OAuth2, factory)
	default:
		return fmt.Errorf("provider %s: unknown type %q", name, pc.Type)
	}
}

func authStyle(s string) oauth2.AuthStyle {
	switch s {
	case "header":
		return oauth2.AuthStyleInHeader
	default:
		return oauth2.AuthStyleInParams
	}
}

func providerType(name string, pc ProviderConfig) string {
	if pc.Type != "" {
		return strings.ToLower(pc.Type)
	}
	if _, variant, ok := flow.BuiltinEndpoint(name); ok {
		return variant.String()
	}
	return ""
}
