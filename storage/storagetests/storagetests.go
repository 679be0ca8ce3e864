// Package storagetests provides acceptance tests shared by storage.Store
// implementations.
package storagetests

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newUser(id string) *storage.User {
	return &storage.User{
		ID:        id,
		Email:     id + "@example.com",
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

func ptr[T any](v T) *T {
	return &v
}

// Run exercises a store. newStore must return an empty store on every call.
//
//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("UserRoundTrip", func(t *testing.T) {
		s := newStore(t)
		u := newUser("u1")
		u.PasswordHash = "hash"
		require.NoError(t, s.CreateUser(ctx, u, &storage.Profile{ID: "p1", FirstName: "Ada", LastName: "Lovelace"}, nil))

		byID, err := s.FindUserByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1@example.com", byID.Email)
		assert.Equal(t, "hash", byID.PasswordHash)
		assert.True(t, epoch.Equal(byID.CreatedAt))

		byEmail, err := s.FindUserByEmail(ctx, "u1@example.com")
		require.NoError(t, err)
		assert.Equal(t, "u1", byEmail.ID)

		p, err := s.FindProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Ada", p.FirstName)
		assert.Equal(t, "u1", p.UserID)
	})

	t.Run("UserNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindUserByID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindUserByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindProfile(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newUser("u1"), nil, nil))

		dup := newUser("u2")
		dup.Email = "u1@example.com"
		err := s.CreateUser(ctx, dup, nil, nil)
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("CreateUserIsAtomic", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newUser("u1"), nil, &storage.OAuthLink{
			ID: "l1", Provider: storage.ProviderGoogle, ProviderID: "g1", AccessToken: "at",
		}))

		// The link id collides, so the user must not be written either.
		err := s.CreateUser(ctx, newUser("u2"), &storage.Profile{ID: "p2"}, &storage.OAuthLink{
			ID: "l1", Provider: storage.ProviderGitHub, ProviderID: "gh1", AccessToken: "at",
		})
		require.Error(t, err)

		_, err = s.FindUserByID(ctx, "u2")
		assert.ErrorIs(t, err, storage.ErrNotFound, "failed create should not leave a user behind")
		_, err = s.FindProfile(ctx, "u2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("LinkLifecycle", func(t *testing.T) {
		s := newStore(t)
		exp := epoch.Add(time.Hour)
		require.NoError(t, s.CreateUser(ctx, newUser("u1"), nil, &storage.OAuthLink{
			ID: "l1", Provider: storage.ProviderGoogle, ProviderID: "g1",
			AccessToken: "at1", RefreshToken: "rt1", ExpiresAt: &exp,
		}))

		l, err := s.FindLink(ctx, "u1", storage.ProviderGoogle)
		require.NoError(t, err)
		assert.Equal(t, "l1", l.ID)
		assert.Equal(t, "u1", l.UserID)
		assert.Equal(t, "rt1", l.RefreshToken)
		require.NotNil(t, l.ExpiresAt)
		assert.True(t, exp.Equal(*l.ExpiresAt))

		_, err = s.FindLink(ctx, "u1", storage.ProviderGitHub)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, s.UpdateLink(ctx, "l1", storage.LinkUpdate{AccessToken: ptr("at2")}))
		l, err = s.FindLink(ctx, "u1", storage.ProviderGoogle)
		require.NoError(t, err)
		assert.Equal(t, "at2", l.AccessToken)
		assert.Equal(t, "rt1", l.RefreshToken, "refresh token should be untouched")
		assert.NotNil(t, l.ExpiresAt, "expiry should be untouched")

		require.NoError(t, s.UpdateLink(ctx, "l1", storage.LinkUpdate{SetExpiry: true}))
		l, err = s.FindLink(ctx, "u1", storage.ProviderGoogle)
		require.NoError(t, err)
		assert.Nil(t, l.ExpiresAt, "nil expiry should clear the column")

		err = s.UpdateLink(ctx, "missing", storage.LinkUpdate{AccessToken: ptr("x")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("OneLinkPerProvider", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newUser("u1"), nil, nil))
		require.NoError(t, s.CreateLink(ctx, &storage.OAuthLink{
			ID: "l1", UserID: "u1", Provider: storage.ProviderGitHub, ProviderID: "gh", AccessToken: "a",
		}))
		err := s.CreateLink(ctx, &storage.OAuthLink{
			ID: "l2", UserID: "u1", Provider: storage.ProviderGitHub, ProviderID: "gh", AccessToken: "b",
		})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("APIKeyLifecycle", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newUser("u1"), nil, nil))
		require.NoError(t, s.CreateUser(ctx, newUser("u2"), nil, nil))

		for i := range 3 {
			require.NoError(t, s.CreateAPIKey(ctx, &storage.APIKey{
				ID:        fmt.Sprintf("k%d", i),
				UserID:    "u1",
				Name:      fmt.Sprintf("key %d", i),
				KeyHash:   fmt.Sprintf("hash%d", i),
				Scopes:    []string{"*"},
				CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
			}))
		}

		keys, err := s.ListAPIKeys(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, keys, 3)
		assert.Equal(t, []string{"k0", "k1", "k2"}, []string{keys[0].ID, keys[1].ID, keys[2].ID})
		assert.Equal(t, []string{"*"}, keys[0].Scopes)
		assert.Nil(t, keys[0].LastUsedAt)

		none, err := s.ListAPIKeys(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, none)

		k, err := s.FindAPIKeyByHash(ctx, "hash1")
		require.NoError(t, err)
		assert.Equal(t, "k1", k.ID)

		used := epoch.Add(time.Hour)
		require.NoError(t, s.TouchAPIKey(ctx, "k1", used))
		k, err = s.FindAPIKeyByHash(ctx, "hash1")
		require.NoError(t, err)
		require.NotNil(t, k.LastUsedAt)
		assert.True(t, used.Equal(*k.LastUsedAt))

		_, err = s.FindAPIKeyByHash(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DuplicateKeyHash", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newUser("u1"), nil, nil))
		require.NoError(t, s.CreateAPIKey(ctx, &storage.APIKey{ID: "k1", UserID: "u1", Name: "a", KeyHash: "h", CreatedAt: epoch}))
		err := s.CreateAPIKey(ctx, &storage.APIKey{ID: "k2", UserID: "u1", Name: "b", KeyHash: "h", CreatedAt: epoch})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("DeleteAPIKeyScopedToOwner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateUser(ctx, newUser("u1"), nil, nil))
		require.NoError(t, s.CreateUser(ctx, newUser("u2"), nil, nil))
		require.NoError(t, s.CreateAPIKey(ctx, &storage.APIKey{ID: "k1", UserID: "u1", Name: "a", KeyHash: "h", CreatedAt: epoch}))

		err := s.DeleteAPIKey(ctx, "k1", "u2")
		assert.ErrorIs(t, err, storage.ErrNotFound, "other users can't delete the key")

		_, err = s.FindAPIKeyByHash(ctx, "h")
		require.NoError(t, err, "key should survive a foreign delete")

		require.NoError(t, s.DeleteAPIKey(ctx, "k1", "u1"))
		_, err = s.FindAPIKeyByHash(ctx, "h")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = s.DeleteAPIKey(ctx, "k1", "u1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ConcurrentCreateSameEmail", func(t *testing.T) {
		s := newStore(t)
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			failed int
		)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				u := newUser(fmt.Sprintf("c%d", i))
				u.Email = "race@example.com"
				if err := s.CreateUser(ctx, u, nil, nil); err != nil {
					mu.Lock()
					defer mu.Unlock()
					if errors.Is(err, storage.ErrAlreadyExists) {
						failed++
					}
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 7, failed, "exactly one create should win")
	})
}
