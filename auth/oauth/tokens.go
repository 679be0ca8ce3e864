package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/eventbus"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/metrics"
	"github.com/dpup/authcore/storage"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
)

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithRefreshThreshold sets how close to expiry a token is refreshed.
func WithRefreshThreshold(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.threshold = d
	}
}

// WithTimeout bounds each refresh exchange.
func WithTimeout(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.timeout = d
	}
}

// WithHTTPClient sets the client used to reach token endpoints.
func WithHTTPClient(c *http.Client) TokenOption {
	return func(m *TokenManager) {
		m.client = c
	}
}

// WithTokenClock overrides the time source used for expiry checks.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithTokenEvents publishes a RefreshFailedEvent for every failed refresh.
func WithTokenEvents(p eventbus.Publisher) TokenOption {
	return func(m *TokenManager) {
		m.events = p
	}
}

// WithTokenMetrics records refresh outcomes and durations.
func WithTokenMetrics(c *metrics.Collector) TokenOption {
	return func(m *TokenManager) {
		m.metrics = c
	}
}

// TokenManager refreshes the provider tokens stored on OAuth links.
//
// Refreshes of the same link within one process are collapsed into a single
// exchange. Across processes two refreshes may still race; the last write
// wins.
type TokenManager struct {
	store     storage.Store
	providers providerSet
	threshold time.Duration
	timeout   time.Duration
	client    *http.Client
	now       func() time.Time
	events    eventbus.Publisher
	metrics   *metrics.Collector
	group     singleflight.Group
}

// NewTokenManager returns a manager for the given providers.
func NewTokenManager(store storage.Store, providers []*Provider, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		store:     store,
		providers: newProviderSet(providers),
		threshold: DefaultRefreshThreshold,
		timeout:   DefaultTimeout,
		now:       time.Now,
		events:    eventbus.Discard,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NeedsRefresh reports whether a link's access token expires within the
// threshold. Only tokens more than the threshold from expiry are fresh. Links
// without an expiry never need one.
func (m *TokenManager) NeedsRefresh(link *storage.OAuthLink) bool {
	if link.ExpiresAt == nil {
		return false
	}
	return link.ExpiresAt.Sub(m.now()) <= m.threshold
}

// RefreshIfNeeded refreshes the user's token for provider when it is near
// expiry. Users without a link for the provider are ignored.
func (m *TokenManager) RefreshIfNeeded(ctx context.Context, userID string, provider storage.Provider) error {
	link, err := m.store.FindLink(ctx, userID, provider)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	} else if err != nil {
		return errors.WrapPrefix(err, "oauth: find link", 0)
	}
	if !m.NeedsRefresh(link) {
		return nil
	}
	return m.Refresh(ctx, userID, provider)
}

// Refresh exchanges the link's refresh token for a new access token.
//
// On success the access token and expiry are replaced; the refresh token only
// when the provider issued a new one. A provider that reports no lifetime
// leaves the link without an expiry. On failure the link is marked expired so
// the next check retries, and a *RefreshError is returned.
func (m *TokenManager) Refresh(ctx context.Context, userID string, provider storage.Provider) error {
	key := userID + "/" + string(provider)
	_, err, _ := m.group.Do(key, func() (any, error) {
		return nil, m.refresh(ctx, userID, provider)
	})
	return err
}

func (m *TokenManager) refresh(ctx context.Context, userID string, provider storage.Provider) error {
	p, err := m.providers.get(provider)
	if err != nil {
		return err
	}

	link, err := m.store.FindLink(ctx, userID, provider)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Mark(ErrNoRefreshToken, 0)
	} else if err != nil {
		return errors.WrapPrefix(err, "oauth: find link", 0)
	}
	if link.RefreshToken == "" {
		return errors.Mark(ErrNoRefreshToken, 0)
	}

	ctx = logging.With(ctx, logging.FromContext(ctx).Named("oauth").With("oauth.provider", string(provider)))
	start := m.now()

	tok, err := m.exchangeRefreshToken(ctx, p, link.RefreshToken)
	if err != nil {
		m.metrics.RecordRefresh(string(provider), "failure", m.now().Sub(start))
		return m.markExpired(ctx, link, err)
	}
	m.metrics.RecordRefresh(string(provider), "success", m.now().Sub(start))

	update := storage.LinkUpdate{
		AccessToken: &tok.AccessToken,
		SetExpiry:   true,
	}
	if tok.RefreshToken != "" && tok.RefreshToken != link.RefreshToken {
		update.RefreshToken = &tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		update.ExpiresAt = &exp
	}
	if err := m.store.UpdateLink(ctx, link.ID, update); err != nil {
		return errors.WrapPrefix(err, "oauth: save refreshed token", 0)
	}

	logging.Infow(ctx, "oauth: refreshed token",
		"user.id", userID,
		"oauth.rotated", update.RefreshToken != nil,
		"oauth.expires", update.ExpiresAt != nil)
	return nil
}

func (m *TokenManager) exchangeRefreshToken(ctx context.Context, p *Provider, refreshToken string) (*oauth2.Token, error) {
	// Provider calls outlive the inbound request, but not the timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	src := p.Config.TokenSource(withClient(ctx, m.client), &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

func (m *TokenManager) markExpired(ctx context.Context, link *storage.OAuthLink, cause error) error {
	now := m.now().UTC()
	if err := m.store.UpdateLink(ctx, link.ID, storage.LinkUpdate{SetExpiry: true, ExpiresAt: &now}); err != nil {
		logging.Errorw(ctx, "oauth: failed to mark link expired", "error", err, "oauth.link_id", link.ID)
	}

	rerr := &RefreshError{Provider: link.Provider, Err: cause}
	logging.Warnw(ctx, "oauth: refresh failed", "user.id", link.UserID, "error", cause)
	m.events.Publish(eventbus.TopicRefreshFailed, eventbus.RefreshFailedEvent{
		UserID:   link.UserID,
		Provider: string(link.Provider),
		Err:      rerr,
		At:       now,
	})
	return errors.WithCode(rerr, codes.Unavailable)
}

// RefreshAll runs RefreshIfNeeded for every configured provider
// concurrently. Each provider is attempted regardless of the others; the
// returned error joins every failure.
func (m *TokenManager) RefreshAll(ctx context.Context, userID string) error {
	names := make([]storage.Provider, 0, len(m.providers))
	for _, name := range storage.Providers {
		if _, ok := m.providers[name]; ok {
			names = append(names, name)
		}
	}

	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			errs[i] = m.RefreshIfNeeded(ctx, userID, name)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Middleware eagerly refreshes tokens for requests made with a session, so
// handlers calling provider APIs see a current token. Failures are logged and
// the request proceeds.
func (m *TokenManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if ok && p.Kind == auth.CredentialSession && p.UserID != "" {
			if err := m.RefreshAll(context.WithoutCancel(r.Context()), p.UserID); err != nil {
				if errors.Is(err, ErrNoRefreshToken) {
					logging.Debugw(r.Context(), "oauth: eager refresh skipped", "error", err)
				} else {
					logging.Warnw(r.Context(), "oauth: eager refresh failed", "error", err)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
