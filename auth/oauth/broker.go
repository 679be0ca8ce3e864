package oauth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/eventbus"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/metrics"
	"github.com/dpup/authcore/storage"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
)

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerHTTPClient sets the client used for code exchanges and profile fetches.
func WithBrokerHTTPClient(c *http.Client) BrokerOption {
	return func(b *Broker) {
		b.client = c
	}
}

// WithBrokerTimeout bounds the code exchange and profile fetch together.
func WithBrokerTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) {
		b.timeout = d
	}
}

// WithBrokerClock overrides the broker's time source.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		b.now = now
	}
}

// WithBrokerEvents publishes a LoginEvent for every completed login.
func WithBrokerEvents(p eventbus.Publisher) BrokerOption {
	return func(b *Broker) {
		b.events = p
	}
}

// WithBrokerMetrics counts logins.
func WithBrokerMetrics(c *metrics.Collector) BrokerOption {
	return func(b *Broker) {
		b.metrics = c
	}
}

// Broker turns authorization codes into local users.
type Broker struct {
	store     storage.Store
	providers providerSet
	client    *http.Client
	timeout   time.Duration
	now       func() time.Time
	events    eventbus.Publisher
	metrics   *metrics.Collector
}

// NewBroker returns a broker for the given providers.
func NewBroker(store storage.Store, providers []*Provider, opts ...BrokerOption) *Broker {
	b := &Broker{
		store:     store,
		providers: newProviderSet(providers),
		timeout:   DefaultTimeout,
		now:       time.Now,
		events:    eventbus.Discard,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configured reports whether provider can be used to log in.
func (b *Broker) Configured(provider storage.Provider) bool {
	_, ok := b.providers[provider]
	return ok
}

// AuthCodeURL returns the provider's consent screen URL.
func (b *Broker) AuthCodeURL(provider storage.Provider, state string) (string, error) {
	p, err := b.providers.get(provider)
	if err != nil {
		return "", err
	}
	return p.Config.AuthCodeURL(state, p.AuthCodeOptions...), nil
}

// CompleteLogin exchanges an authorization code and returns the local user
// the provider account maps to, joined on email.
//
// A new email creates the user, its profile and the link together. A known
// email gains a link for the provider, or has its existing link's tokens
// replaced, which is how a link whose refresh token was revoked recovers.
func (b *Broker) CompleteLogin(ctx context.Context, provider storage.Provider, code string) (*storage.User, error) {
	p, err := b.providers.get(provider)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, errors.Mark(ErrMissingCode, 0)
	}

	ctx = logging.With(ctx, logging.FromContext(ctx).Named("oauth").With("oauth.provider", string(provider)))

	tok, profile, err := b.fetch(ctx, p, code)
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		return nil, errors.Mark(ErrNoEmail, 0)
	}

	link := &storage.OAuthLink{
		ID:           uuid.NewString(),
		Provider:     provider,
		ProviderID:   profile.ProviderID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		link.ExpiresAt = &exp
	}

	user, created, err := b.findOrCreate(ctx, email, profile, link)
	if err != nil {
		return nil, err
	}

	logging.Infow(ctx, "oauth: login complete", "user.id", user.ID, "oauth.new_user", created)
	b.metrics.RecordLogin(string(provider), created)
	b.events.Publish(eventbus.TopicLogin, eventbus.LoginEvent{
		UserID:   user.ID,
		Email:    user.Email,
		Provider: string(provider),
		NewUser:  created,
		At:       b.now().UTC(),
	})
	return user, nil
}

func (b *Broker) fetch(ctx context.Context, p *Provider, code string) (*oauth2.Token, *Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	ctx = withClient(ctx, b.client)

	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, errors.WithCode(errors.WrapPrefix(err, "oauth: "+string(p.Name)+" code exchange", 0), codes.Unavailable)
	}

	profile, err := p.Profiles.FetchProfile(ctx, p.Config.Client(ctx, tok))
	if err != nil {
		return nil, nil, errors.WithCode(errors.WrapPrefix(err, "oauth: "+string(p.Name)+" profile", 0), codes.Unavailable)
	}
	return tok, profile, nil
}

func (b *Broker) findOrCreate(ctx context.Context, email string, profile *Profile, link *storage.OAuthLink) (*storage.User, bool, error) {
	// A concurrent first login for the same email can win the insert, in
	// which case the second pass finds its user.
	for attempt := 0; ; attempt++ {
		user, err := b.store.FindUserByEmail(ctx, email)
		if err == nil {
			return user, false, b.linkExisting(ctx, user, link)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, errors.WrapPrefix(err, "oauth: find user", 0)
		}

		user, err = b.createUser(ctx, email, profile, link)
		if errors.Is(err, storage.ErrAlreadyExists) && attempt == 0 {
			continue
		}
		return user, err == nil, err
	}
}

func (b *Broker) createUser(ctx context.Context, email string, profile *Profile, link *storage.OAuthLink) (*storage.User, error) {
	now := b.now().UTC()
	user := &storage.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	first, last := SplitName(profile.Name)
	prof := &storage.Profile{
		ID:        uuid.NewString(),
		FirstName: first,
		LastName:  last,
		AvatarURL: profile.AvatarURL,
	}
	if err := b.store.CreateUser(ctx, user, prof, link); err != nil {
		return nil, errors.WrapPrefix(err, "oauth: create user", 0)
	}
	return user, nil
}

func (b *Broker) linkExisting(ctx context.Context, user *storage.User, link *storage.OAuthLink) error {
	existing, err := b.store.FindLink(ctx, user.ID, link.Provider)
	if errors.Is(err, storage.ErrNotFound) {
		link.UserID = user.ID
		if err := b.store.CreateLink(ctx, link); err != nil {
			return errors.WrapPrefix(err, "oauth: create link", 0)
		}
		return nil
	} else if err != nil {
		return errors.WrapPrefix(err, "oauth: find link", 0)
	}

	if existing.ProviderID != link.ProviderID {
		logging.Warnw(ctx, "oauth: provider account changed for existing link",
			"user.id", user.ID, "oauth.link_id", existing.ID)
	}

	update := storage.LinkUpdate{
		AccessToken: &link.AccessToken,
		SetExpiry:   true,
		ExpiresAt:   link.ExpiresAt,
	}
	if link.RefreshToken != "" {
		update.RefreshToken = &link.RefreshToken
	}
	if err := b.store.UpdateLink(ctx, existing.ID, update); err != nil {
		return errors.WrapPrefix(err, "oauth: update link", 0)
	}
	return nil
}

// SplitName splits a display name into a first name and the rest.
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}
