package memstore

import (
	"testing"

	"github.com/dpup/authcore/storage"
	"github.com/dpup/authcore/storage/storagetests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	storagetests.Run(t, func(*testing.T) storage.Store {
		return New()
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := t.Context()
	require.NoError(t, s.CreateUser(ctx, &storage.User{ID: "u1", Email: "a@example.com"}, nil, nil))
	require.NoError(t, s.CreateAPIKey(ctx, &storage.APIKey{ID: "k1", UserID: "u1", KeyHash: "h", Scopes: []string{"read"}}))

	k, err := s.FindAPIKeyByHash(ctx, "h")
	require.NoError(t, err)
	k.Scopes[0] = "admin"

	again, err := s.FindAPIKeyByHash(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, again.Scopes)
}
