package authcore

import (
	"net"
	"time"

	"github.com/dpup/authcore/internal/config"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFile is the name of the auto-discovered configuration file.
const ConfigFile = "authcore.yaml"

// ConfigKeyInfo describes a known configuration key.
type ConfigKeyInfo = config.ConfigKeyInfo

// Config is the global configuration.
//
// Sources, later overriding earlier:
//  1. Registered defaults, applied when the server is built.
//  2. authcore.yaml in the working directory or any parent.
//  3. Environment variables prefixed AC__ (AC__AUTH__SIGNING_KEY → auth.signingKey).
//  4. Anything loaded with LoadConfigFile or LoadConfigDefaults.
var Config = koanf.New(".")

const (
	defaultPort = "8000"
	defaultHost = "localhost"
)

func init() {
	registerConfigKeys()

	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys documents application keys so they pass validation.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.RegisterConfigKeys(infos...)
}

// LoadConfigFile merges a YAML file into Config.
func LoadConfigFile(path string) error {
	return Config.Load(file.Provider(path), yaml.Parser())
}

// LoadConfigDefaults merges a map of values into Config.
func LoadConfigDefaults(values map[string]any) error {
	return Config.Load(confmap.Provider(values, "."), nil)
}

// ApplyConfigDefaults fills in registered defaults for unset keys. New calls
// it, so it is only needed to read defaults before building an App.
func ApplyConfigDefaults() {
	config.ApplyDefaults(Config)
}

// ValidateConfig returns a human readable warning per unknown key.
func ValidateConfig() []string {
	warnings := config.ValidateConfigKeys(Config)
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.String()
	}
	return out
}

func ConfigString(key string) string {
	return Config.String(key)
}

func ConfigInt(key string) int {
	return Config.Int(key)
}

func ConfigBool(key string) bool {
	return Config.Bool(key)
}

func ConfigDuration(key string) time.Duration {
	return Config.Duration(key)
}

func ConfigStrings(key string) []string {
	return Config.Strings(key)
}

func ConfigExists(key string) bool {
	return Config.Exists(key)
}

func registerConfigKeys() {
	config.RegisterConfigKeys(
		ConfigKeyInfo{
			Key:         "name",
			Description: "User-facing name of the service, used as the token issuer",
			Type:        "string",
			Default:     "authcore",
		},
		ConfigKeyInfo{
			Key:         "address",
			Description: "External address of the service, used for OAuth redirect URLs",
			Type:        "string",
			Default:     "http://" + net.JoinHostPort(defaultHost, defaultPort),
		},
		ConfigKeyInfo{Key: "server.host", Description: "Host to bind to", Type: "string", Default: defaultHost},
		ConfigKeyInfo{Key: "server.port", Description: "Port to bind to", Type: "int", Default: 8000},
		ConfigKeyInfo{Key: "server.tls.certFile", Description: "Path to TLS certificate", Type: "string"},
		ConfigKeyInfo{Key: "server.tls.keyFile", Description: "Path to TLS key", Type: "string"},
		ConfigKeyInfo{Key: "server.shutdownTimeout", Description: "How long to wait for connections to drain", Type: "duration", Default: "5s"},
		ConfigKeyInfo{Key: "server.security.xFrameOptions", Description: "X-Frame-Options header, DENY or SAMEORIGIN", Type: "string", Default: "DENY"},
		ConfigKeyInfo{Key: "server.security.hstsExpiration", Description: "max-age of the Strict-Transport-Security header", Type: "duration"},
		ConfigKeyInfo{Key: "server.security.hstsPreload", Description: "Add preload to the HSTS header", Type: "bool", Default: false},
		ConfigKeyInfo{Key: "server.security.corsOrigins", Description: "Origins allowed to make cross-origin requests", Type: "[]string"},
		ConfigKeyInfo{
			Key:         "server.security.corsAllowHeaders",
			Description: "Request headers allowed on cross-origin requests",
			Type:        "[]string",
			Default:     []string{"Authorization", "Content-Type", "X-API-Key"},
		},
		ConfigKeyInfo{
			Key:         "server.security.corsExposeHeaders",
			Description: "Response headers exposed to cross-origin callers",
			Type:        "[]string",
			Default:     []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		},
		ConfigKeyInfo{Key: "server.security.corsAllowCredentials", Description: "Allow cookies on cross-origin requests", Type: "bool", Default: false},
		ConfigKeyInfo{Key: "server.security.corsMaxAge", Description: "How long browsers may cache preflight responses", Type: "duration", Default: "1h"},
		ConfigKeyInfo{Key: "logging.format", Description: "console or json", Type: "string", Default: "console"},
		ConfigKeyInfo{Key: "eventbus.workers", Description: "Goroutines delivering events to subscribers", Type: "int", Default: 4},

		ConfigKeyInfo{
			Key:         "storage.driver",
			Description: "Credential store backend: memory, sqlite or postgres",
			Type:        "string",
			Default:     "memory",
		},
		ConfigKeyInfo{Key: "storage.dsn", Description: "Data source name for sqlite or postgres", Type: "string"},

		ConfigKeyInfo{Key: "auth.signingKey", Description: "HMAC key for session tokens and OAuth state", Type: "string"},
		ConfigKeyInfo{Key: "auth.expiration", Description: "Session lifetime", Type: "duration", Default: "168h"},
		ConfigKeyInfo{Key: "auth.tokenExpiration", Description: "Bearer token lifetime", Type: "duration", Default: "15m"},
		ConfigKeyInfo{
			Key:         "auth.bypassPaths",
			Description: "Paths, and anything below them, that skip authentication",
			Type:        "[]string",
			Default: []string{
				"/api/auth/google",
				"/api/auth/github",
				"/api/auth/register",
				"/api/auth/login",
				"/api/auth/logout",
				"/metrics",
				"/healthz",
			},
		},
		ConfigKeyInfo{Key: "auth.apiKeyPrefix", Description: "Prefix added to generated API keys", Type: "string"},
		ConfigKeyInfo{Key: "auth.successRedirect", Description: "Where to send users after OAuth login", Type: "string", Default: "/dashboard"},
		ConfigKeyInfo{
			Key:         "auth.failureRedirect",
			Description: "Where to send users when OAuth login fails",
			Type:        "string",
			Default:     "/login?error=oauth_failed",
		},
		ConfigKeyInfo{Key: "auth.google.id", Description: "Google OAuth client ID", Type: "string"},
		ConfigKeyInfo{Key: "auth.google.secret", Description: "Google OAuth client secret", Type: "string"},
		ConfigKeyInfo{Key: "auth.github.id", Description: "GitHub OAuth client ID", Type: "string"},
		ConfigKeyInfo{Key: "auth.github.secret", Description: "GitHub OAuth client secret", Type: "string"},

		ConfigKeyInfo{
			Key:         "oauth.refreshThreshold",
			Description: "Refresh provider tokens that expire within this window",
			Type:        "duration",
			Default:     "5m",
		},
		ConfigKeyInfo{Key: "oauth.timeout", Description: "Timeout for calls to OAuth providers", Type: "duration", Default: "10s"},

		ConfigKeyInfo{
			Key:         "ratelimit.trustProxy",
			Description: "Use X-Forwarded-For and X-Real-IP to find the client address",
			Type:        "bool",
			Default:     false,
		},
	)
}
