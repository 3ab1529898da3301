package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

const sessionCookieName = "oauthd_session"

// SessionManager issues the anonymous cookie that scopes pending OAuth1
// request tokens to one user agent.
type SessionManager struct {
	ttl          time.Duration
	secure       bool
	sameSite     http.SameSite
	cookieDomain string
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config) *SessionManager {
	// Lax in every mode: the callback is a top-level cross-site navigation
	// and must carry the cookie.
	return &SessionManager{
		ttl:          cfg.CookieTTL(),
		secure:       !cfg.Server.DevMode,
		sameSite:     http.SameSiteLaxMode,
		cookieDomain: cfg.Server.CookieDomain,
	}
}

// ID returns the session id carried by the request, or "" when absent or
// not a valid id.
func (sm *SessionManager) ID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

// Ensure returns the request's session id, issuing a new cookie when the
// request has none.
func (sm *SessionManager) Ensure(w http.ResponseWriter, r *http.Request) string {
	if id := sm.ID(r); id != "" {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return id
}
