// Package storage defines the credential store that backs users, OAuth links
// and API keys, along with the records it persists.
//
// Implementations live in subpackages: memstore for tests and single-process
// deployments, sqlstore for SQLite and PostgreSQL.
package storage

import (
	"context"
	"time"

	"github.com/dpup/authcore/errors"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a record does not exist.
	ErrNotFound = errors.NewC("record not found", codes.NotFound)

	// Returned when a record conflicts with a unique key, such as a user's email
	// or a second link for the same provider.
	ErrAlreadyExists = errors.NewC("record already exists", codes.AlreadyExists)

	// Returned when a record is missing required fields.
	ErrInvalidRecord = errors.NewC("invalid record", codes.InvalidArgument)
)

// Store persists users, profiles, OAuth links and API keys. Implementations
// must be safe for concurrent use.
type Store interface {
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// CreateUser inserts a user with its profile and, optionally, its first
	// OAuth link. Either every record is written or none is.
	CreateUser(ctx context.Context, user *User, profile *Profile, link *OAuthLink) error
	FindProfile(ctx context.Context, userID string) (*Profile, error)

	CreateLink(ctx context.Context, link *OAuthLink) error
	FindLink(ctx context.Context, userID string, provider Provider) (*OAuthLink, error)

	// UpdateLink applies the non-nil fields of update to the link with the given
	// id in a single write.
	UpdateLink(ctx context.Context, id string, update LinkUpdate) error

	CreateAPIKey(ctx context.Context, key *APIKey) error
	FindAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	// DeleteAPIKey removes the key only if it belongs to userID. ErrNotFound is
	// returned when nothing matched, whether the key is missing or owned by
	// someone else.
	DeleteAPIKey(ctx context.Context, id, userID string) error

	// ListAPIKeys returns a user's keys ordered by creation time.
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error)
}

// LinkUpdate is a partial update to an OAuth link.
type LinkUpdate struct {
	AccessToken  *string
	RefreshToken *string

	// When SetExpiry is true ExpiresAt is written, and a nil ExpiresAt clears
	// the expiry.
	SetExpiry bool
	ExpiresAt *time.Time
}

// Apply copies the update onto link.
func (u LinkUpdate) Apply(link *OAuthLink) {
	if u.AccessToken != nil {
		link.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		link.RefreshToken = *u.RefreshToken
	}
	if u.SetExpiry {
		if u.ExpiresAt == nil {
			link.ExpiresAt = nil
		} else {
			t := *u.ExpiresAt
			link.ExpiresAt = &t
		}
	}
}
