// Package decision keeps merge requests that stopped at an ask-decision until
// the caller picks an option.
package decision

import (
	"context"
	"errors"
	"sync"
	"time"

	"docmerge/internal/merge"
)

var ErrNotFound = errors.New("decision not found or expired")

// Pending is a merge request waiting for a choice.
type Pending struct {
	Token     string          `json:"token"`
	Request   merge.Request   `json:"request"`
	Decision  *merge.Decision `json:"decision,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, pending Pending, ttl time.Duration) error
	// Take returns the pending decision and removes it, so a decision can
	// only be answered once.
	Take(ctx context.Context, token string) (Pending, error)
	Ping(ctx context.Context) error
	Close() error
}

type memoryEntry struct {
	pending   Pending
	expiresAt time.Time
}

// MemoryStore is the in-process fallback used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, pending Pending, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := s.now()
	for token, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, token)
		}
	}
	s.entries[pending.Token] = memoryEntry{pending: pending, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, token string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok {
		return Pending{}, ErrNotFound
	}
	delete(s.entries, token)
	if s.now().After(entry.expiresAt) {
		return Pending{}, ErrNotFound
	}
	return entry.pending, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
