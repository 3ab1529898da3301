package flow

import (
	"time"

	"golang.org/x/oauth2"
)

// AccessToken is the result of a successful flow. The engine does not keep it.
type AccessToken struct {
	Variant      Variant
	AccessToken  string
	TokenType    string
	RefreshToken string // OAuth2 only
	TokenSecret  string // OAuth1 only
	Expiry       time.Time
	Scope        string

	// IDToken and Claims are set for OpenID Connect providers after the
	// id_token has been verified.
	IDToken string
	Claims  map[string]any
}

// Expired reports whether the token carries an expiry that has passed.
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && now.After(t.Expiry)
}

func fromOAuth2Token(tok *oauth2.Token) *AccessToken {
	out := &AccessToken{
		Variant:      OAuth2,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	return out
}
