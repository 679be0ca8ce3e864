package auth

import (
	"context"
	"testing"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key-0123456789abcdef")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSigner_RoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s, err := NewSigner(testKey, "http://localhost:8000", WithClock(clock.Now))
	require.NoError(t, err)

	authTime := clock.t.Add(-time.Hour)
	tok, err := s.Sign(Session{UserID: "u1", Email: "ada@example.com", AuthTime: authTime}, time.Hour)
	require.NoError(t, err)

	p, err := s.Verify(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, CredentialSession, p.Kind)
	assert.NotEmpty(t, p.SessionID)
	assert.True(t, authTime.Equal(p.AuthTime))
}

func TestSigner_MissingKey(t *testing.T) {
	_, err := NewSigner(nil, "issuer")
	assert.Error(t, err)
}

func TestSigner_Expired(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s, err := NewSigner(testKey, "issuer", WithClock(clock.Now))
	require.NoError(t, err)

	tok, err := s.Sign(Session{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute + 2*time.Second)
	_, err = s.Verify(ctx, tok)
	assert.NoError(t, err, "expiry should allow for a little clock skew")

	clock.Advance(10 * time.Second)
	_, err = s.Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_RejectsForeignTokens(t *testing.T) {
	ctx := context.Background()
	s, err := NewSigner(testKey, "issuer")
	require.NoError(t, err)

	other, err := NewSigner([]byte("another-key"), "issuer")
	require.NoError(t, err)
	tok, err := other.Sign(Session{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = s.Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	elsewhere, err := NewSigner(testKey, "other-issuer")
	require.NoError(t, err)
	tok, err = elsewhere.Sign(Session{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = s.Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "issuer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Verify(ctx, unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	_, err = s.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_Revoke(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	bl := NewMemoryBlocklist()
	bl.now = clock.Now
	s, err := NewSigner(testKey, "issuer", WithClock(clock.Now), WithBlocklist(bl))
	require.NoError(t, err)

	tok, err := s.Sign(Session{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	keep, err := s.Sign(Session{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, tok))
	_, err = s.Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrRevoked)

	_, err = s.Verify(ctx, keep)
	assert.NoError(t, err, "other sessions should be unaffected")

	assert.NoError(t, s.Revoke(ctx, "garbage"), "revoking an invalid token is a no-op")
}

func TestMemoryBlocklist_Prunes(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	bl := NewMemoryBlocklist()
	bl.now = clock.Now

	require.NoError(t, bl.Block(ctx, "a", clock.t.Add(time.Minute)))
	blocked, err := bl.IsBlocked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, blocked)

	clock.Advance(2 * time.Minute)
	blocked, err = bl.IsBlocked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, blocked, "entries lapse with the token")

	require.NoError(t, bl.Block(ctx, "b", clock.t.Add(time.Minute)))
	assert.Equal(t, 1, bl.Len(), "expired entries should be pruned on insert")
}

func TestPrincipal(t *testing.T) {
	key := Principal{UserID: "u1", Kind: CredentialAPIKey, Scopes: []string{"keys:read"}}
	assert.True(t, key.HasScope("keys:read"))
	assert.False(t, key.HasScope("keys:write"))

	key.Scopes = []string{"*"}
	assert.True(t, key.HasScope("keys:write"))

	assert.True(t, Principal{UserID: "u1", Kind: CredentialSession}.HasScope("anything"))
	assert.True(t, Principal{Kind: CredentialAnonymous}.Anonymous())
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	_, err := RequirePrincipal(ctx)
	assert.ErrorIs(t, err, ErrNoCredentials)

	scopes := []string{"a"}
	ctx = WithPrincipal(ctx, Principal{UserID: "u1", Kind: CredentialAPIKey, Scopes: scopes})
	scopes[0] = "mutated"

	p, err := RequirePrincipal(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Scopes, "principal should not share the caller's slice")

	p.Scopes[0] = "mutated"
	again, _ := PrincipalFromContext(ctx)
	assert.Equal(t, []string{"a"}, again.Scopes)

	anon := WithPrincipal(context.Background(), Principal{Kind: CredentialAnonymous})
	_, err = RequirePrincipal(anon)
	assert.True(t, errors.Is(err, ErrNoCredentials))
}
