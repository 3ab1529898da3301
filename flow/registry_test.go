package flow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"oauthd/flow"
)

func TestBuiltinRegistryResolves(t *testing.T) {
	r := flow.NewBuiltinRegistry()

	cases := map[string]flow.Variant{
		"github":  flow.OAuth2,
		"GitHub ": flow.OAuth2,
		"google":  flow.OAuth2,
		"dropbox": flow.OAuth2,
		"twitter": flow.OAuth1,
		"trello":  flow.OAuth1,
		"xing":    flow.OAuth1,
	}
	for name, want := range cases {
		desc, err := r.Resolve(name)
		require.NoError(t, err, name)
		require.Equal(t, want, desc.Variant, name)
	}

	desc, err := r.Resolve(" GitHub")
	require.NoError(t, err)
	require.Equal(t, "github", desc.Name)

	require.Equal(t, flow.BuiltinNames(), r.Names())
	require.IsNonDecreasing(t, r.Names())
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	r := flow.NewBuiltinRegistry()

	for _, name := range []string{"", "myspace", "github2"} {
		_, err := r.Resolve(name)
		require.ErrorIs(t, err, flow.ErrUnsupportedProvider, name)

		var fe *flow.FlowError
		require.True(t, errors.As(err, &fe))
		require.Equal(t, name, fe.Provider)
	}
	require.False(t, r.Has("myspace"))
}

func TestRegistryRegister(t *testing.T) {
	r := flow.NewRegistry()
	endpoint := func() flow.Endpoint {
		return flow.Endpoint{AuthURL: "https://acme.example/auth", TokenURL: "https://acme.example/token"}
	}

	require.NoError(t, r.Register("Acme", flow.OAuth2, endpoint))
	require.True(t, r.Has("acme"))
	require.Error(t, r.Register("acme", flow.OAuth2, endpoint))
	require.Error(t, r.Register(" ", flow.OAuth2, endpoint))
	require.Error(t, r.Register("other", flow.Variant(9), endpoint))
	require.Error(t, r.Register("other", flow.OAuth1, nil))
	require.Error(t, r.RegisterDriver("other", flow.OAuth2, nil))

	require.Equal(t, []string{"acme"}, r.Names())
}

func TestParseVariant(t *testing.T) {
	for in, want := range map[string]flow.Variant{
		"oauth1": flow.OAuth1,
		"OAuth2": flow.OAuth2,
		"oidc":   flow.OAuth2,
	} {
		got, err := flow.ParseVariant(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := flow.ParseVariant("saml")
	require.Error(t, err)

	require.Equal(t, "oauth1", flow.OAuth1.String())
	require.Equal(t, "unknown", flow.Variant(0).String())
}

func TestBuiltinEndpoint(t *testing.T) {
	ep, variant, ok := flow.BuiltinEndpoint("twitter")
	require.True(t, ok)
	require.Equal(t, flow.OAuth1, variant)
	require.Equal(t, "https://api.twitter.com/oauth/request_token", ep.RequestTokenURL)
	require.Equal(t, flow.SignatureHMACSHA1, ep.SignatureMethod)

	ep, variant, ok = flow.BuiltinEndpoint("github")
	require.True(t, ok)
	require.Equal(t, flow.OAuth2, variant)
	require.Equal(t, "https://github.com/login/oauth/authorize", ep.AuthURL)

	_, _, ok = flow.BuiltinEndpoint("myspace")
	require.False(t, ok)
	require.False(t, flow.IsBuiltin("myspace"))
}

func TestParseScopes(t *testing.T) {
	require.Equal(t, []string{"read:user", "user:email"}, flow.ParseScopes(" read:user , ,user:email,"))
	scopes := flow.ParseScopes("")
	require.NotNil(t, scopes)
	require.Empty(t, scopes)
}

func TestStaticCredentialsCopiesScopes(t *testing.T) {
	creds := flow.NewStaticCredentials()
	scopes := []string{"a", "b"}
	creds.Set("GitHub", flow.ProviderSettings{
		Credentials: flow.NewCredentials(" id ", "secret", "https://cb"),
		Scopes:      scopes,
	})
	scopes[0] = "mutated"

	got, ok := creds.Lookup("github")
	require.True(t, ok)
	require.Equal(t, "id", got.Credentials.ClientID())
	require.Equal(t, "secret", got.Credentials.ClientSecret())
	require.Equal(t, "https://cb", got.Credentials.RedirectURI())
	require.Equal(t, []string{"a", "b"}, got.Scopes)

	got.Scopes[1] = "changed"
	again, _ := creds.Lookup("github")
	require.Equal(t, "b", again.Scopes[1])

	_, ok = creds.Lookup("gitlab")
	require.False(t, ok)
}

func TestKindOf(t *testing.T) {
	err := &flow.FlowError{Kind: flow.ErrTokenExchange, Provider: "github", Message: "bad code", Err: errors.New("400")}
	require.Equal(t, flow.ErrTokenExchange, flow.KindOf(err))
	require.Equal(t, "github: token exchange failed: bad code", err.Error())
	require.Nil(t, flow.KindOf(errors.New("other")))
}
