package auth

import (
	"context"
	"sync"
	"time"
)

// Blocklist records revoked session ids.
type Blocklist interface {
	// Block revokes id until expiresAt, after which the token it belongs to
	// would fail verification anyway.
	Block(ctx context.Context, id string, expiresAt time.Time) error

	IsBlocked(ctx context.Context, id string) (bool, error)
}

// MemoryBlocklist is a process-local Blocklist. Expired entries are pruned as
// new ones are added.
type MemoryBlocklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlocklist returns an empty blocklist.
func NewMemoryBlocklist() *MemoryBlocklist {
	return &MemoryBlocklist{
		entries: map[string]time.Time{},
		now:     time.Now,
	}
}

func (b *MemoryBlocklist) Block(_ context.Context, id string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for k, exp := range b.entries {
		if !exp.After(now) {
			delete(b.entries, k)
		}
	}
	b.entries[id] = expiresAt
	return nil
}

func (b *MemoryBlocklist) IsBlocked(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.entries[id]
	return ok && exp.After(b.now()), nil
}

// Len returns the number of tracked entries, including expired ones that have
// not been pruned yet.
func (b *MemoryBlocklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
