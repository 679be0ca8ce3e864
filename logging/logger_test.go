package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTrack_ScopesDoNotLeakUpwards(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := With(t.Context(), NewZapLogger(zap.New(core)))
	Track(ctx, "user.id", "u1")

	for _, provider := range []string{"google", "github"} {
		pctx := With(ctx, FromContext(ctx).Named("oauth"))
		Track(pctx, "oauth.provider", provider)
		Info(pctx, "refreshed")
	}
	Info(ctx, "request complete")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "oauth", entries[0].LoggerName)
	assert.ElementsMatch(t, []zap.Field{
		zap.String("user.id", "u1"),
		zap.String("oauth.provider", "google"),
	}, entries[0].Context)
	assert.ElementsMatch(t, []zap.Field{
		zap.String("user.id", "u1"),
		zap.String("oauth.provider", "github"),
	}, entries[1].Context)

	assert.Equal(t, "request complete", entries[2].Message)
	assert.ElementsMatch(t, []zap.Field{zap.String("user.id", "u1")}, entries[2].Context,
		"fields tracked in a child scope stay there")
}

func TestFromContextWithoutLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Infow(t.Context(), "dropped", "k", "v")
	})
}

func TestEnsureLogger(t *testing.T) {
	core, obs := observer.New(zap.InfoLevel)
	fallback := NewZapLogger(zap.New(core))

	ctx := EnsureLogger(t.Context(), fallback)
	Info(ctx, "first")

	other, _ := observer.New(zap.InfoLevel)
	ctx = EnsureLogger(ctx, NewZapLogger(zap.New(other)))
	Info(ctx, "second")

	assert.Equal(t, 2, obs.Len(), "existing logger should be kept")
}
