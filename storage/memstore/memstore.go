// Package memstore is an in-memory storage.Store. Records are copied on the
// way in and out so callers never share state with the store.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/storage"
)

// Store keeps all records in maps guarded by a single mutex.
type Store struct {
	mu       sync.RWMutex
	users    map[string]storage.User
	profiles map[string]storage.Profile // by user id
	links    map[string]storage.OAuthLink
	keys     map[string]storage.APIKey
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    map[string]storage.User{},
		profiles: map[string]storage.Profile{},
		links:    map[string]storage.OAuthLink{},
		keys:     map[string]storage.APIKey{},
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) FindUserByID(_ context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	return &u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.userByEmail(email); ok {
		return &u, nil
	}
	return nil, errors.Mark(storage.ErrNotFound, 0)
}

func (s *Store) CreateUser(_ context.Context, user *storage.User, profile *storage.Profile, link *storage.OAuthLink) error {
	if user == nil || user.ID == "" || user.Email == "" {
		return errors.Mark(storage.ErrInvalidRecord, 0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	if _, ok := s.userByEmail(user.Email); ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	if link != nil {
		if _, ok := s.links[link.ID]; ok {
			return errors.Mark(storage.ErrAlreadyExists, 0)
		}
	}

	s.users[user.ID] = *user
	if profile != nil {
		p := *profile
		p.UserID = user.ID
		s.profiles[user.ID] = p
	}
	if link != nil {
		l := copyLink(*link)
		l.UserID = user.ID
		s.links[l.ID] = l
	}
	return nil
}

func (s *Store) CreateLink(_ context.Context, link *storage.OAuthLink) error {
	if link == nil || link.ID == "" || !link.Provider.Valid() {
		return errors.Mark(storage.ErrInvalidRecord, 0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[link.UserID]; !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if _, ok := s.links[link.ID]; ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	if _, ok := s.linkFor(link.UserID, link.Provider); ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	s.links[link.ID] = copyLink(*link)
	return nil
}

func (s *Store) FindLink(_ context.Context, userID string, provider storage.Provider) (*storage.OAuthLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.linkFor(userID, provider)
	if !ok {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	l = copyLink(l)
	return &l, nil
}

func (s *Store) UpdateLink(_ context.Context, id string, update storage.LinkUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	l = copyLink(l)
	update.Apply(&l)
	s.links[id] = l
	return nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *storage.APIKey) error {
	if key == nil || key.ID == "" || key.KeyHash == "" {
		return errors.Mark(storage.ErrInvalidRecord, 0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key.UserID]; !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if _, ok := s.keys[key.ID]; ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return errors.Mark(storage.ErrAlreadyExists, 0)
		}
	}
	s.keys[key.ID] = copyKey(*key)
	return nil
}

func (s *Store) FindAPIKeyByHash(_ context.Context, hash string) (*storage.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			k = copyKey(k)
			return &k, nil
		}
	}
	return nil, errors.Mark(storage.ErrNotFound, 0)
}

func (s *Store) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	k.LastUsedAt = &at
	s.keys[id] = k
	return nil
}

func (s *Store) DeleteAPIKey(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.keys, id)
	return nil
}

func (s *Store) ListAPIKeys(_ context.Context, userID string) ([]*storage.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*storage.APIKey{}
	for _, k := range s.keys {
		if k.UserID == userID {
			k = copyKey(k)
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) FindProfile(_ context.Context, userID string) (*storage.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	return &p, nil
}

func (s *Store) userByEmail(email string) (storage.User, bool) {
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return storage.User{}, false
}

func (s *Store) linkFor(userID string, provider storage.Provider) (storage.OAuthLink, bool) {
	for _, l := range s.links {
		if l.UserID == userID && l.Provider == provider {
			return l, true
		}
	}
	return storage.OAuthLink{}, false
}

func copyLink(l storage.OAuthLink) storage.OAuthLink {
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		l.ExpiresAt = &t
	}
	return l
}

func copyKey(k storage.APIKey) storage.APIKey {
	k.Scopes = slices.Clone(k.Scopes)
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		k.LastUsedAt = &t
	}
	return k
}
