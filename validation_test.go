package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidatePort(8000))
	assert.ErrorContains(t, ValidatePort(70000), "must be between 1 and 65535")
	assert.Error(t, ValidatePort(0))

	assert.NoError(t, ValidateIntRange(0, 0, 1024))
	assert.Error(t, ValidateIntRange(-1, 0, 1024))

	assert.NoError(t, ValidatePositiveDuration(time.Second))
	assert.Error(t, ValidatePositiveDuration(0))
	assert.NoError(t, ValidateNonNegativeDuration(0))
	assert.Error(t, ValidateNonNegativeDuration(-time.Second))

	assert.NoError(t, ValidateNonEmpty("x"))
	assert.Error(t, ValidateNonEmpty(""))
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://auth.example.com", true},
		{"http://localhost:8000", true},
		{"", false},
		{"auth.example.com", false},
		{"ftp://auth.example.com", false},
		{"https://", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckConfig(t *testing.T) {
	ApplyConfigDefaults()
	assert.Empty(t, CheckConfig(), "registered defaults are valid")

	require.NoError(t, LoadConfigDefaults(map[string]any{
		"server.port":      70000,
		"auth.expiration":  "-1h",
		"eventbus.workers": -1,
		"auth.github.id":   "client-id",
	}))
	t.Cleanup(func() {
		require.NoError(t, LoadConfigDefaults(map[string]any{
			"server.port":      8000,
			"auth.expiration":  "168h",
			"eventbus.workers": 4,
		}))
		Config.Delete("auth.github")
	})

	errs := CheckConfig()
	keys := make([]string, len(errs))
	for i, e := range errs {
		keys[i] = e.Key
	}
	assert.ElementsMatch(t, []string{"server.port", "auth.expiration", "eventbus.workers", "auth.github.secret"}, keys)

	msg := FormatConfigErrors(errs)
	assert.Contains(t, msg, "server.port: must be between 1 and 65535, got: 70000")
	assert.Contains(t, msg, "authcore.yaml")
	assert.Empty(t, FormatConfigErrors(nil))

	_, err := New(context.Background(),
		WithStore(memstore.New()),
		WithLogger(logging.NewNopLogger()),
		WithSigningKey([]byte("test-signing-key")),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
	assert.Contains(t, err.Error(), "auth.expiration")
}
