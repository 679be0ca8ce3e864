// Package oauth links users to Google and GitHub accounts and keeps the
// provider tokens on those links usable.
//
// The Broker completes the authorization code flow: it exchanges the code,
// fetches the provider profile and maps it onto a local user by email. The
// TokenManager refreshes access tokens that are close to expiry, either on
// demand or eagerly for every request made with a session.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"google.golang.org/grpc/codes"
)

const (
	// DefaultRefreshThreshold is how close to expiry a token gets refreshed.
	DefaultRefreshThreshold = 5 * time.Minute

	// DefaultTimeout bounds every call to a provider.
	DefaultTimeout = 10 * time.Second
)

var (
	// Returned for providers that are unknown or not configured.
	ErrUnknownProvider = errors.NewC("oauth: unknown provider", codes.InvalidArgument).WithPublicMessage("unknown provider")

	// Returned when a link has no refresh token to exchange.
	ErrNoRefreshToken = errors.NewC("oauth: no refresh token", codes.FailedPrecondition)

	// Returned when the provider profile has no usable email.
	ErrNoEmail = errors.NewC("oauth: provider did not return an email address", codes.FailedPrecondition)

	// Returned when the callback lacks an authorization code.
	ErrMissingCode = errors.NewC("oauth: missing authorization code", codes.InvalidArgument)
)

// Profile is the subset of a provider's user profile authcore needs.
type Profile struct {
	// The provider's stable id for the account.
	ProviderID string
	Email      string
	Name       string
	AvatarURL  string
}

// ProfileFetcher loads the profile of the account a token belongs to. client
// already authenticates as that account.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, client *http.Client) (*Profile, error)
}

// Provider binds an OAuth client configuration to the way its profiles are
// fetched.
type Provider struct {
	Name     storage.Provider
	Config   *oauth2.Config
	Profiles ProfileFetcher

	// Extra parameters for the consent screen URL.
	AuthCodeOptions []oauth2.AuthCodeOption
}

// NewGoogleProvider returns a Google provider that requests offline access so
// that Google issues a refresh token.
func NewGoogleProvider(clientID, clientSecret, redirectURL string, profiles ProfileFetcher) *Provider {
	return &Provider{
		Name: storage.ProviderGoogle,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
		Profiles: profiles,
		AuthCodeOptions: []oauth2.AuthCodeOption{
			oauth2.AccessTypeOffline,
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
	}
}

// NewGitHubProvider returns a GitHub provider. GitHub only issues refresh
// tokens, and expiring access tokens, to apps that opt in.
func NewGitHubProvider(clientID, clientSecret, redirectURL string, profiles ProfileFetcher) *Provider {
	return &Provider{
		Name: storage.ProviderGitHub,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     githubEndpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user:email", "read:user"},
		},
		Profiles: profiles,
	}
}

// githubEndpoint sends client credentials in the form body. Left on
// auto-detect, x/oauth2 retries a rejected exchange with the other style.
var githubEndpoint = oauth2.Endpoint{
	AuthURL:       github.Endpoint.AuthURL,
	TokenURL:      github.Endpoint.TokenURL,
	DeviceAuthURL: github.Endpoint.DeviceAuthURL,
	AuthStyle:     oauth2.AuthStyleInParams,
}

// RefreshError reports that a provider rejected a refresh, or could not be
// reached.
type RefreshError struct {
	Provider storage.Provider
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to refresh %s token: %v", e.Provider.DisplayName(), e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// providerSet indexes configured providers by name.
type providerSet map[storage.Provider]*Provider

func newProviderSet(providers []*Provider) providerSet {
	ps := providerSet{}
	for _, p := range providers {
		if p != nil && p.Config != nil {
			ps[p.Name] = p
		}
	}
	return ps
}

func (ps providerSet) get(name storage.Provider) (*Provider, error) {
	if p, ok := ps[name]; ok {
		return p, nil
	}
	return nil, errors.Mark(ErrUnknownProvider, 1)
}

// withClient makes x/oauth2 use client for token requests.
func withClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}
