package oauth

import (
	"strings"
	"testing"
	"time"

	"github.com/dpup/authcore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCodec(t *testing.T) {
	c := NewStateCodec([]byte("key"))

	s, raw := c.New(storage.ProviderGoogle, "/settings")
	parsed, err := c.Parse(raw, storage.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "/settings", parsed.Redirect)
	assert.Equal(t, s.Nonce, parsed.Nonce)

	_, err = c.Parse(raw, storage.ProviderGitHub)
	assert.ErrorIs(t, err, errInvalidState, "state is bound to a provider")

	_, err = NewStateCodec([]byte("other")).Parse(raw, storage.ProviderGoogle)
	assert.ErrorIs(t, err, errInvalidState, "signature")

	for _, bad := range []string{"", "!!!", "e30", strings.ToUpper(raw)} {
		_, err = c.Parse(bad, storage.ProviderGoogle)
		assert.ErrorIs(t, err, errInvalidState, bad)
	}
}

func TestStateCodec_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewStateCodec([]byte("key"))
	c.now = func() time.Time { return now }

	_, raw := c.New(storage.ProviderGitHub, "")
	now = now.Add(stateExpiration + time.Second)
	_, err := c.Parse(raw, storage.ProviderGitHub)
	assert.ErrorIs(t, err, errInvalidState)
}
