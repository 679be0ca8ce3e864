// Package apikey issues, validates and revokes long-lived API keys.
//
// A key is 256 bits from crypto/rand, hex encoded and optionally prefixed.
// Only its SHA-256 digest is stored.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/eventbus"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/metrics"
	"github.com/dpup/authcore/storage"
	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
)

// MaxNameLength is the longest accepted key name, in characters.
const MaxNameLength = 100

// Scopes assigned when none are requested.
var DefaultScopes = []string{"*"}

const keyBytes = 32

var (
	// Returned when a key name is empty or too long.
	ErrInvalidName = errors.NewC("invalid key name", codes.InvalidArgument)

	// Returned by Revoke for keys that don't exist and keys owned by someone
	// else alike.
	ErrKeyNotFound = errors.NewC("api key not found", codes.PermissionDenied).WithPublicMessage("api key not found")
)

// CreatedKey is returned once, at creation. It is the only value that ever
// carries the plaintext key.
type CreatedKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
}

// KeyInfo describes a stored key without any key material.
type KeyInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix prepends prefix to generated keys, which makes them easy to spot
// in logs and secret scanners.
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithClock overrides the time source for creation and last-use times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithPublisher publishes key lifecycle events.
func WithPublisher(p eventbus.Publisher) Option {
	return func(m *Manager) {
		m.events = p
	}
}

// WithMetrics counts key lifecycle operations.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// Manager implements the API key lifecycle on top of a credential store.
type Manager struct {
	store   storage.Store
	prefix  string
	now     func() time.Time
	events  eventbus.Publisher
	metrics *metrics.Collector
}

// NewManager returns a manager backed by store.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		events: eventbus.Discard,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate creates a key for userID. The returned CreatedKey holds the only
// copy of the plaintext.
func (m *Manager) Generate(ctx context.Context, userID, name string, scopes []string) (*CreatedKey, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	scopes = slices.Clone(scopes)

	plaintext, err := m.newKey()
	if err != nil {
		return nil, err
	}

	rec := &storage.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   Hash(plaintext),
		Scopes:    scopes,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateAPIKey(ctx, rec); err != nil {
		return nil, errors.WrapPrefix(err, "apikey: create", 0)
	}

	logging.Infow(ctx, "apikey: created", "apikey.id", rec.ID, "user.id", userID)
	m.metrics.RecordAPIKey("created")
	m.events.Publish(eventbus.TopicAPIKeyCreated, eventbus.APIKeyEvent{
		UserID: userID,
		KeyID:  rec.ID,
		Name:   name,
		At:     rec.CreatedAt,
	})

	return &CreatedKey{
		ID:        rec.ID,
		Name:      rec.Name,
		Key:       plaintext,
		Scopes:    slices.Clone(rec.Scopes),
		CreatedAt: rec.CreatedAt,
	}, nil
}

// Validate resolves a presented key. Unknown keys return a nil principal and
// no error so the caller can try other credentials. Recording the key's last
// use is best effort.
func (m *Manager) Validate(ctx context.Context, presented string) (*auth.Principal, error) {
	if presented == "" {
		return nil, nil
	}

	rec, err := m.store.FindAPIKeyByHash(ctx, Hash(presented))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WrapPrefix(err, "apikey: lookup", 0)
	}

	user, err := m.store.FindUserByID(ctx, rec.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		logging.Warnw(ctx, "apikey: key belongs to a missing user", "apikey.id", rec.ID)
		return nil, nil
	} else if err != nil {
		return nil, errors.WrapPrefix(err, "apikey: lookup owner", 0)
	}

	if err := m.store.TouchAPIKey(ctx, rec.ID, m.now().UTC()); err != nil {
		logging.Warnw(ctx, "apikey: failed to record usage", "apikey.id", rec.ID, "error", err)
	}
	m.metrics.RecordAPIKey("validated")

	return &auth.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Kind:   auth.CredentialAPIKey,
		KeyID:  rec.ID,
		Scopes: slices.Clone(rec.Scopes),
	}, nil
}

// List returns the user's keys, oldest first.
func (m *Manager) List(ctx context.Context, userID string) ([]KeyInfo, error) {
	recs, err := m.store.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, errors.WrapPrefix(err, "apikey: list", 0)
	}
	out := make([]KeyInfo, len(recs))
	for i, r := range recs {
		out[i] = KeyInfo{
			ID:         r.ID,
			Name:       r.Name,
			Scopes:     slices.Clone(r.Scopes),
			CreatedAt:  r.CreatedAt,
			LastUsedAt: r.LastUsedAt,
		}
	}
	return out, nil
}

// Revoke deletes a key owned by userID. Missing keys and keys owned by other
// users both yield ErrKeyNotFound.
func (m *Manager) Revoke(ctx context.Context, userID, keyID string) error {
	err := m.store.DeleteAPIKey(ctx, keyID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Mark(ErrKeyNotFound, 0)
	} else if err != nil {
		return errors.WrapPrefix(err, "apikey: revoke", 0)
	}

	logging.Infow(ctx, "apikey: revoked", "apikey.id", keyID, "user.id", userID)
	m.metrics.RecordAPIKey("revoked")
	m.events.Publish(eventbus.TopicAPIKeyRevoked, eventbus.APIKeyEvent{
		UserID: userID,
		KeyID:  keyID,
		At:     m.now().UTC(),
	})
	return nil
}

// Hash returns the stored form of a key.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) newKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.WrapPrefix(err, "apikey: read random", 0)
	}
	return m.prefix + hex.EncodeToString(b), nil
}

func validateName(name string) error {
	var desc string
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		desc = "name is required"
	case n > MaxNameLength:
		desc = "name must be at most 100 characters"
	default:
		return nil
	}
	return errors.Mark(ErrInvalidName, 0).
		WithPublicMessage(desc).
		WithDetails(&errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{
				{Field: "name", Description: desc},
			},
		})
}
