package flow

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/amazon"
	"golang.org/x/oauth2/bitbucket"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/foursquare"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/gitlab"
	"golang.org/x/oauth2/heroku"
	"golang.org/x/oauth2/instagram"
	"golang.org/x/oauth2/linkedin"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/oauth2/paypal"
	"golang.org/x/oauth2/slack"
	"golang.org/x/oauth2/spotify"
)

type builtin struct {
	variant  Variant
	endpoint Endpoint
}

var builtinProviders = map[string]builtin{
	"amazon":     oauth2Builtin(amazon.Endpoint),
	"bitbucket":  oauth2Builtin(bitbucket.Endpoint),
	"facebook":   oauth2Builtin(facebook.Endpoint),
	"foursquare": oauth2Builtin(foursquare.Endpoint),
	"github":     oauth2Builtin(github.Endpoint),
	"gitlab":     oauth2Builtin(gitlab.Endpoint),
	"heroku":     oauth2Builtin(heroku.Endpoint),
	"instagram":  oauth2Builtin(instagram.Endpoint),
	"linkedin":   oauth2Builtin(linkedin.Endpoint),
	"microsoft":  oauth2Builtin(microsoft.LiveConnectEndpoint),
	"paypal":     oauth2Builtin(paypal.Endpoint),
	"slack":      oauth2Builtin(slack.Endpoint),
	"spotify":    oauth2Builtin(spotify.Endpoint),
	"box": oauth2Builtin(oauth2.Endpoint{
		AuthURL:  "https://account.box.com/api/oauth2/authorize",
		TokenURL: "https://api.box.com/oauth2/token",
	}),
	"dropbox": oauth2Builtin(oauth2.Endpoint{
		AuthURL:  "https://www.dropbox.com/oauth2/authorize",
		TokenURL: "https://api.dropboxapi.com/oauth2/token",
	}),
	"google": oauth2Builtin(oauth2.Endpoint{
		AuthURL:   "https://accounts.google.com/o/oauth2/auth",
		TokenURL:  "https://oauth2.googleapis.com/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}),

	"etsy": oauth1Builtin(
		"https://openapi.etsy.com/v2/oauth/request_token",
		"https://www.etsy.com/oauth/signin",
		"https://openapi.etsy.com/v2/oauth/access_token",
	),
	"flickr": oauth1Builtin(
		"https://www.flickr.com/services/oauth/request_token",
		"https://www.flickr.com/services/oauth/authorize",
		"https://www.flickr.com/services/oauth/access_token",
	),
	"trello": oauth1Builtin(
		"https://trello.com/1/OAuthGetRequestToken",
		"https://trello.com/1/OAuthAuthorizeToken",
		"https://trello.com/1/OAuthGetAccessToken",
	),
	"tumblr": oauth1Builtin(
		"https://www.tumblr.com/oauth/request_token",
		"https://www.tumblr.com/oauth/authorize",
		"https://www.tumblr.com/oauth/access_token",
	),
	"twitter": oauth1Builtin(
		"https://api.twitter.com/oauth/request_token",
		"https://api.twitter.com/oauth/authorize",
		"https://api.twitter.com/oauth/access_token",
	),
	"xing": oauth1Builtin(
		"https://api.xing.com/v1/request_token",
		"https://api.xing.com/v1/authorize",
		"https://api.xing.com/v1/access_token",
	),
}

// BuiltinNames lists the providers known without configuration.
func BuiltinNames() []string {
	return NewBuiltinRegistry().Names()
}

// IsBuiltin reports whether name is a builtin provider.
func IsBuiltin(name string) bool {
	_, ok := builtinProviders[normalizeName(name)]
	return ok
}

// BuiltinEndpoint returns the builtin endpoint and variant for name.
func BuiltinEndpoint(name string) (Endpoint, Variant, bool) {
	b, ok := builtinProviders[normalizeName(name)]
	return b.endpoint, b.variant, ok
}

func oauth2Builtin(ep oauth2.Endpoint) builtin {
	return builtin{
		variant: OAuth2,
		endpoint: Endpoint{
			AuthURL:   ep.AuthURL,
			TokenURL:  ep.TokenURL,
			AuthStyle: ep.AuthStyle,
		},
	}
}

func oauth1Builtin(requestTokenURL, authorizeURL, accessTokenURL string) builtin {
	return builtin{
		variant: OAuth1,
		endpoint: Endpoint{
			RequestTokenURL: requestTokenURL,
			AuthURL:         authorizeURL,
			TokenURL:        accessTokenURL,
			SignatureMethod: SignatureHMACSHA1,
		},
	}
}
