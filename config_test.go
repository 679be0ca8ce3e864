package authcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	require.NoError(t, LoadConfigDefaults(map[string]any{
		"myapp.retries": 3,
	}))
	t.Cleanup(func() { Config.Delete("myapp") })
	assert.Equal(t, 3, ConfigInt("myapp.retries"))
	assert.True(t, ConfigExists("myapp.retries"))
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("oauth:\n  timeout: 3s\n"), 0o600))

	require.NoError(t, LoadConfigFile(path))
	t.Cleanup(func() { Config.Delete("oauth.timeout") })
	assert.Equal(t, 3*time.Second, ConfigDuration("oauth.timeout"))
}

func TestValidateConfig(t *testing.T) {
	require.NoError(t, LoadConfigDefaults(map[string]any{
		"oauth.refreshThreshhold": "1m",
	}))
	t.Cleanup(func() { Config.Delete("oauth.refreshThreshhold") })

	warnings := ValidateConfig()
	assert.Contains(t, warnings, "'oauth.refreshThreshhold' is not a known config key. Did you mean 'oauth.refreshThreshold'?")
}
