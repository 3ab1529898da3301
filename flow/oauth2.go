package flow

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// OAuth2Driver speaks the authorization-code grant to one provider.
type OAuth2Driver interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*AccessToken, error)
}

type oauth2Driver struct {
	config *oauth2.Config
	params map[string]string
}

func newOAuth2Driver(endpoint Endpoint, settings ProviderSettings) (*oauth2Driver, error) {
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		return nil, fmt.Errorf("oauth2 provider requires auth and token urls")
	}
	style := endpoint.AuthStyle
	if style == oauth2.AuthStyleAutoDetect {
		// Auto-detection resends a rejected code with the other style.
		style = oauth2.AuthStyleInParams
	}
	creds := settings.Credentials
	return &oauth2Driver{
		config: &oauth2.Config{
			ClientID:     creds.ClientID(),
			ClientSecret: creds.ClientSecret(),
			RedirectURL:  creds.RedirectURI(),
			Scopes:       append([]string(nil), settings.Scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoint.AuthURL,
				TokenURL:  endpoint.TokenURL,
				AuthStyle: style,
			},
		},
		params: endpoint.AuthParams,
	}, nil
}

func (d *oauth2Driver) AuthCodeURL(state string) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(d.params))
	for k, v := range d.params {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return d.config.AuthCodeURL(state, opts...)
}

func (d *oauth2Driver) Exchange(ctx context.Context, code string) (*AccessToken, error) {
	tok, err := d.config.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return fromOAuth2Token(tok), nil
}

// exchangeMessage extracts the provider's own explanation from a failed exchange.
func exchangeMessage(err error) string {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		switch {
		case rErr.ErrorDescription != "":
			return rErr.ErrorDescription
		case rErr.ErrorCode != "":
			return rErr.ErrorCode
		case rErr.Response != nil:
			return fmt.Sprintf("token endpoint returned %s", rErr.Response.Status)
		}
	}
	return err.Error()
}
