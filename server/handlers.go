package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oauthd/flow"
)

// TokenHandler receives the token of a completed flow. It returns true when
// it has written the response itself.
type TokenHandler func(w http.ResponseWriter, r *http.Request, provider string, tok *flow.AccessToken) bool

// LogTokenHandler logs token metadata and never writes a response. The
// token values themselves are not logged.
func LogTokenHandler(logger *slog.Logger) TokenHandler {
	return func(_ http.ResponseWriter, r *http.Request, provider string, tok *flow.AccessToken) bool {
		attrs := []any{
			"request_id", RequestIDFromContext(r.Context()),
			"provider", provider,
			"variant", tok.Variant.String(),
			"has_refresh_token", tok.RefreshToken != "",
		}
		if tok.TokenType != "" {
			attrs = append(attrs, "token_type", tok.TokenType)
		}
		if !tok.Expiry.IsZero() {
			attrs = append(attrs, "expires_at", tok.Expiry.UTC().Format(time.RFC3339))
		}
		if sub, ok := tok.Claims["sub"].(string); ok {
			attrs = append(attrs, "subject", sub)
		}
		logger.Info("token issued", attrs...)
		return false
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

type providerInfo struct {
	Name     string `json:"name"`
	Variant  string `json:"variant"`
	LoginURL string `json:"login_url"`
}

type tokenResponse struct {
	Provider     string         `json:"provider"`
	Variant      string         `json:"variant"`
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenSecret  string         `json:"token_secret,omitempty"`
	Expiry       *time.Time     `json:"expiry,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Claims       map[string]any `json:"claims,omitempty"`
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider := providerParam(r)
	session := a.Sessions.Ensure(w, r)

	redirect := r.URL.Query().Get("redirect")
	if redirect != "" && !a.isSafeRedirect(redirect) {
		a.Logger.Warn("unsafe redirect dropped", "provider", provider, "redirect", redirect)
		redirect = ""
	}

	authURL, err := a.Engine.BeginAuthorization(r.Context(), session, provider, redirect)
	if err != nil {
		a.writeFlowError(w, r, provider, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := providerParam(r)
	session := a.Sessions.ID(r)

	res, err := a.Engine.HandleCallback(r.Context(), session, provider, r.URL.Query())
	if err != nil {
		a.writeFlowError(w, r, provider, err)
		return
	}

	if a.OnToken != nil && a.OnToken(w, r, provider, res.Token) {
		return
	}

	target := res.Redirect
	if target != "" && !a.isSafeRedirect(target) {
		a.Logger.Warn("unsafe redirect dropped", "provider", provider, "redirect", target)
		target = ""
	}
	if target == "" && a.Config.Server.DevMode {
		writeJSON(w, http.StatusOK, newTokenResponse(provider, res.Token))
		return
	}
	if target == "" {
		target = a.defaultRedirect()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *App) handleProviders(w http.ResponseWriter, r *http.Request) {
	names := a.Registry.Names()
	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		desc, err := a.Registry.Resolve(name)
		if err != nil {
			continue
		}
		out = append(out, providerInfo{
			Name:     desc.Name,
			Variant:  desc.Variant.String(),
			LoginURL: a.Config.RoutePrefix() + "/" + desc.Name + "/login",
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.Pending.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			a.Logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) writeFlowError(w http.ResponseWriter, r *http.Request, provider string, err error) {
	status, code := flowErrorStatus(err)
	attrs := []any{
		"request_id", RequestIDFromContext(r.Context()),
		"provider", provider,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error("oauth flow failed", attrs...)
	} else {
		a.Logger.Warn("oauth flow rejected", attrs...)
	}

	desc := err.Error()
	if status == http.StatusInternalServerError {
		desc = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

// flowErrorStatus maps an engine error to an HTTP status and error code.
func flowErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, flow.ErrUnsupportedProvider):
		return http.StatusNotFound, "unsupported_provider"
	case errors.Is(err, flow.ErrUserDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, flow.ErrMissingToken):
		return http.StatusBadRequest, "missing_token"
	case errors.Is(err, flow.ErrMalformedState):
		return http.StatusBadRequest, "malformed_state"
	case errors.Is(err, flow.ErrNotFound):
		return http.StatusBadRequest, "unknown_request_token"
	case errors.Is(err, flow.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, flow.ErrTokenExchange):
		return http.StatusBadGateway, "token_exchange_failed"
	case errors.Is(err, flow.ErrProvider):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

// isSafeRedirect accepts relative paths and absolute URLs on the public origin.
// Targets carrying control characters or backslashes are never safe.
func (a *App) isSafeRedirect(target string) bool {
	if target == "" || strings.ContainsRune(target, '\\') {
		return false
	}
	for _, c := range target {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	u, err := url.Parse(target)
	if err != nil || u.Opaque != "" || u.User != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(u.Path, "/") && !strings.HasPrefix(target, "//")
	}
	if u.Scheme == "" || u.Host == "" {
		return false
	}
	public, err := url.Parse(a.Config.Server.PublicURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, public.Scheme) && strings.EqualFold(u.Host, public.Host)
}

func (a *App) defaultRedirect() string {
	if d := a.Config.OAuth.DefaultRedirect; d != "" {
		return d
	}
	return DefaultRedirect
}

func newTokenResponse(provider string, tok *flow.AccessToken) tokenResponse {
	resp := tokenResponse{
		Provider:     provider,
		Variant:      tok.Variant.String(),
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		TokenSecret:  tok.TokenSecret,
		Scope:        tok.Scope,
		Claims:       tok.Claims,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		resp.Expiry = &exp
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
