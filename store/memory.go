// Package store provides PendingStore backends for the flow engine.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"oauthd/flow"
)

// MemoryStore keeps pending authorizations in process. Entries expire after
// the configured TTL and are swept by go-cache's janitor.
type MemoryStore struct {
	// mu serialises Take against Put/Delete; go-cache has no atomic get-and-delete.
	mu  sync.Mutex
	c   *gocache.Cache
	ttl time.Duration
}

// NewMemoryStore returns a store whose entries live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = flow.DefaultPendingTTL
	}
	cleanup := ttl / 2
	if cleanup > time.Minute {
		cleanup = time.Minute
	}
	return &MemoryStore{c: gocache.New(ttl, cleanup), ttl: ttl}
}

func (s *MemoryStore) Put(_ context.Context, session, key string, pending flow.PendingAuthorization) error {
	k, err := memoryKey(session, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl := lifetime(s.ttl, pending.CreatedAt, time.Now())
	if ttl <= 0 {
		s.c.Delete(k)
		return nil
	}
	s.c.Set(k, pending, ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, session, key string) (flow.PendingAuthorization, error) {
	k, err := memoryKey(session, key)
	if err != nil {
		return flow.PendingAuthorization{}, flow.ErrNotFound
	}
	v, ok := s.c.Get(k)
	if !ok {
		return flow.PendingAuthorization{}, flow.ErrNotFound
	}
	return v.(flow.PendingAuthorization), nil
}

func (s *MemoryStore) Delete(_ context.Context, session, key string) error {
	k, err := memoryKey(session, key)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Delete(k)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, session, key string) (flow.PendingAuthorization, error) {
	k, err := memoryKey(session, key)
	if err != nil {
		return flow.PendingAuthorization{}, flow.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(k)
	if !ok {
		return flow.PendingAuthorization{}, flow.ErrNotFound
	}
	s.c.Delete(k)
	return v.(flow.PendingAuthorization), nil
}

// Len reports the number of unexpired entries.
func (s *MemoryStore) Len() int {
	return len(s.c.Items())
}

// memoryKey namespaces key by session. The length prefix keeps
// ("a:b", "c") and ("a", "b:c") apart.
func memoryKey(session, key string) (string, error) {
	if err := validate(session, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s:%s", len(session), session, key), nil
}

// lifetime is what remains of ttl for an entry created at createdAt. A zero
// createdAt gets the full ttl.
func lifetime(ttl time.Duration, createdAt, now time.Time) time.Duration {
	if createdAt.IsZero() {
		return ttl
	}
	left := ttl - now.Sub(createdAt)
	if left > ttl {
		return ttl
	}
	return left
}

// validate rejects blank ids. Lookups with a blank id find nothing; only Put
// reports the error.
func validate(session, key string) error {
	if strings.TrimSpace(session) == "" {
		return fmt.Errorf("store: session id is required")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("store: key is required")
	}
	return nil
}
