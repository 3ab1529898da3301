package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DiscoverOIDC fetches the issuer's discovery document and returns the
// endpoint plus a driver factory that verifies id_tokens against the
// issuer's keys. It performs network I/O and belongs in start-up code.
func DiscoverOIDC(ctx context.Context, issuer string, client *http.Client) (Endpoint, DriverFactory, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	op, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return Endpoint{}, nil, fmt.Errorf("discover %s: %w", issuer, err)
	}
	ep := op.Endpoint()
	endpoint := Endpoint{
		AuthURL:   ep.AuthURL,
		TokenURL:  ep.TokenURL,
		AuthStyle: ep.AuthStyle,
	}
	factory := func(settings ProviderSettings) (any, error) {
		local := endpoint
		if settings.Credentials.ClientSecret() == "" {
			local.AuthStyle = oauth2.AuthStyleInParams
		}
		if !containsScope(settings.Scopes, oidc.ScopeOpenID) {
			settings.Scopes = append([]string{oidc.ScopeOpenID}, settings.Scopes...)
		}
		base, err := newOAuth2Driver(local, settings)
		if err != nil {
			return nil, err
		}
		return &oidcDriver{
			oauth2Driver: base,
			verifier:     op.Verifier(&oidc.Config{ClientID: settings.Credentials.ClientID()}),
		}, nil
	}
	return endpoint, factory, nil
}

type oidcDriver struct {
	*oauth2Driver
	verifier *oidc.IDTokenVerifier
}

func (d *oidcDriver) Exchange(ctx context.Context, code string) (*AccessToken, error) {
	tok, err := d.oauth2Driver.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if tok.IDToken == "" {
		return nil, errors.New("id_token missing in response")
	}
	idToken, err := d.verifier.Verify(ctx, tok.IDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	tok.Claims = claims
	return tok, nil
}

// ResolveAzureTenantIssuer rewrites a multi-tenant Microsoft issuer to a
// single tenant. Other issuers are returned unchanged with ok=false.
func ResolveAzureTenantIssuer(base, tenant string) (string, bool) {
	if base == "" || tenant == "" {
		return base, false
	}
	if !strings.Contains(base, "login.microsoftonline.com") {
		return base, false
	}

	trimmed := strings.TrimSuffix(base, "/")
	if strings.Contains(trimmed, "{tenant}") {
		return strings.ReplaceAll(trimmed, "{tenant}", tenant), true
	}

	const segment = "/common"
	idx := strings.Index(trimmed, segment)
	if idx == -1 {
		return base, false
	}
	prefix := trimmed[:idx]
	suffix := trimmed[idx+len(segment):]
	if len(suffix) > 0 && suffix[0] != '/' {
		suffix = "/" + suffix
	}
	return prefix + "/" + tenant + suffix, true
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
