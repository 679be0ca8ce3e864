package storage

import (
	"slices"
	"time"
)

// Provider identifies an external OAuth identity provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderGoogle, ProviderGitHub}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return slices.Contains(Providers, p)
}

// DisplayName is the provider's brand name.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderGoogle:
		return "Google"
	case ProviderGitHub:
		return "GitHub"
	default:
		return string(p)
	}
}

type User struct {
	ID    string
	Email string

	// Empty for users that only sign in through OAuth.
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Profile struct {
	ID        string
	UserID    string
	FirstName string
	LastName  string
	AvatarURL string
}

// OAuthLink binds a user to an account at a provider and holds the provider
// tokens. There is at most one link per user and provider.
type OAuthLink struct {
	ID           string
	UserID       string
	Provider     Provider
	ProviderID   string
	AccessToken  string
	RefreshToken string

	// Nil means the access token does not expire.
	ExpiresAt *time.Time
}

// APIKey is a stored API key. Only the SHA-256 hash of the key is kept.
type APIKey struct {
	ID         string
	UserID     string
	Name       string
	KeyHash    string
	Scopes     []string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
