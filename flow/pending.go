package flow

import (
	"context"
	"time"
)

// DefaultPendingTTL bounds how long an OAuth1 request token waits for its callback.
const DefaultPendingTTL = 10 * time.Minute

// PendingAuthorization is what an OAuth1 flow keeps between redirecting the
// user to the provider and receiving the callback.
type PendingAuthorization struct {
	Provider    string    `json:"provider"`
	TokenSecret string    `json:"token_secret"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingStore holds pending authorizations keyed by request token, partitioned
// by session id so equal tokens in different sessions never collide.
// Implementations return ErrNotFound for missing or expired entries.
//
// An entry expires at CreatedAt plus the store's TTL, so putting an entry
// back never extends its life. Put drops an entry that is already past that
// point.
type PendingStore interface {
	Put(ctx context.Context, session, key string, pending PendingAuthorization) error
	Get(ctx context.Context, session, key string) (PendingAuthorization, error)
	Delete(ctx context.Context, session, key string) error
	// Take atomically returns and removes the entry.
	Take(ctx context.Context, session, key string) (PendingAuthorization, error)
}
