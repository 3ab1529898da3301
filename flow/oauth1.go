package flow

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dghubble/oauth1"
	"golang.org/x/oauth2"
)

// SignatureHMACSHA1 is the only OAuth1 signature method supported.
const SignatureHMACSHA1 = "HMAC-SHA1"

// RequestToken is the temporary credential pair of an OAuth1 flow. Secret
// must never leave the server.
type RequestToken struct {
	Token  string
	Secret string
}

// OAuth1Driver speaks the three-legged OAuth1 handshake to one provider.
type OAuth1Driver interface {
	RequestToken(ctx context.Context) (RequestToken, error)
	AuthorizationURL(token string) (string, error)
	AccessToken(ctx context.Context, request RequestToken, verifier string) (*AccessToken, error)
}

type oauth1Driver struct {
	config oauth1.Config
}

func newOAuth1Driver(endpoint Endpoint, settings ProviderSettings) (*oauth1Driver, error) {
	if endpoint.RequestTokenURL == "" || endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		return nil, fmt.Errorf("oauth1 provider requires request token, authorize and access token urls")
	}
	method := strings.ToUpper(strings.TrimSpace(endpoint.SignatureMethod))
	if method != "" && method != SignatureHMACSHA1 {
		return nil, fmt.Errorf("unsupported oauth1 signature method %q", endpoint.SignatureMethod)
	}
	creds := settings.Credentials
	return &oauth1Driver{
		config: oauth1.Config{
			ConsumerKey:    creds.ClientID(),
			ConsumerSecret: creds.ClientSecret(),
			CallbackURL:    creds.RedirectURI(),
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: endpoint.RequestTokenURL,
				AuthorizeURL:    endpoint.AuthURL,
				AccessTokenURL:  endpoint.TokenURL,
			},
		},
	}, nil
}

func (d *oauth1Driver) RequestToken(ctx context.Context) (RequestToken, error) {
	cfg := d.bind(ctx)
	token, secret, err := cfg.RequestToken()
	if err != nil {
		return RequestToken{}, err
	}
	return RequestToken{Token: token, Secret: secret}, nil
}

func (d *oauth1Driver) AuthorizationURL(token string) (string, error) {
	u, err := d.config.AuthorizationURL(token)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (d *oauth1Driver) AccessToken(ctx context.Context, request RequestToken, verifier string) (*AccessToken, error) {
	cfg := d.bind(ctx)
	token, secret, err := cfg.AccessToken(request.Token, request.Secret, verifier)
	if err != nil {
		return nil, err
	}
	return &AccessToken{
		Variant:     OAuth1,
		AccessToken: token,
		TokenSecret: secret,
	}, nil
}

// bind returns a copy of the config whose HTTP client honours ctx.
func (d *oauth1Driver) bind(ctx context.Context) *oauth1.Config {
	cfg := d.config
	cfg.HTTPClient = contextClient(ctx)
	return &cfg
}

// contextClient derives a client from the one stored under oauth2.HTTPClient
// whose requests all carry ctx.
func contextClient(ctx context.Context) *http.Client {
	base := http.DefaultClient
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		base = c
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport:     contextTransport{ctx: ctx, base: transport},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}
}

type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
