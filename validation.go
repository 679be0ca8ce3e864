package authcore

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/authcore/errors"
	"google.golang.org/grpc/codes"
)

// ErrInvalidConfig is returned by New when CheckConfig finds problems.
var ErrInvalidConfig = errors.NewC("invalid configuration", codes.InvalidArgument)

// ValidateIntRange validates that a value is within the given range (inclusive).
func ValidateIntRange(value, minVal, maxVal int) error {
	if value < minVal || value > maxVal {
		return fmt.Errorf("must be between %d and %d, got: %d", minVal, maxVal, value)
	}
	return nil
}

// ValidatePort validates that a port number is valid (1-65535).
func ValidatePort(port int) error {
	return ValidateIntRange(port, 1, 65535)
}

func ValidatePositiveDuration(value time.Duration) error {
	if value <= 0 {
		return fmt.Errorf("must be positive, got: %s", value)
	}
	return nil
}

func ValidateNonNegativeDuration(value time.Duration) error {
	if value < 0 {
		return fmt.Errorf("must be non-negative, got: %s", value)
	}
	return nil
}

// ValidateURL validates that a string is an absolute http(s) URL.
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL must have an http:// or https:// scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func ValidateNonEmpty(value string) error {
	if value == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}

// ConfigError is a problem with a single configuration value.
type ConfigError struct {
	Key     string
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Message)
}

// CheckConfig validates the values the service depends on. Unset keys are
// skipped, registered defaults are always valid.
func CheckConfig() []ConfigError {
	var out []ConfigError
	check := func(key string, err error) {
		if err != nil {
			out = append(out, ConfigError{Key: key, Message: err.Error()})
		}
	}

	if Config.Exists("address") {
		check("address", ValidateURL(Config.String("address")))
	}
	if Config.Exists("server.port") {
		check("server.port", ValidatePort(Config.Int("server.port")))
	}
	if Config.Exists("server.host") {
		check("server.host", ValidateNonEmpty(Config.String("server.host")))
	}
	if Config.Exists("server.shutdownTimeout") {
		check("server.shutdownTimeout", ValidateNonNegativeDuration(Config.Duration("server.shutdownTimeout")))
	}
	if Config.Exists("server.security.hstsExpiration") {
		check("server.security.hstsExpiration", ValidateNonNegativeDuration(Config.Duration("server.security.hstsExpiration")))
	}
	if Config.Exists("server.security.corsMaxAge") {
		check("server.security.corsMaxAge", ValidateNonNegativeDuration(Config.Duration("server.security.corsMaxAge")))
	}
	if Config.Exists("eventbus.workers") {
		// 0 runs each event on its own goroutine.
		check("eventbus.workers", ValidateIntRange(Config.Int("eventbus.workers"), 0, 1024))
	}
	for _, key := range []string{"auth.expiration", "auth.tokenExpiration", "oauth.timeout"} {
		if Config.Exists(key) {
			check(key, ValidatePositiveDuration(Config.Duration(key)))
		}
	}
	if Config.Exists("oauth.refreshThreshold") {
		check("oauth.refreshThreshold", ValidateNonNegativeDuration(Config.Duration("oauth.refreshThreshold")))
	}
	for _, provider := range []string{"google", "github"} {
		if Config.String("auth."+provider+".id") != "" {
			check("auth."+provider+".secret", ValidateNonEmpty(Config.String("auth."+provider+".secret")))
		}
	}
	return out
}

// FormatConfigErrors formats errors into a readable multi-line message.
func FormatConfigErrors(errs []ConfigError) string {
	if len(errs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range errs {
		sb.WriteString("  - " + err.Error() + "\n")
	}
	sb.WriteString("\nFix these errors in " + ConfigFile + " or AC__ environment variables and try again.")
	return sb.String()
}
