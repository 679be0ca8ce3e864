// Package google fetches Google account profiles for the OAuth login flow.
package google

import (
	"context"
	"net/http"
	"strings"

	"github.com/dpup/authcore/auth/oauth"
	"github.com/dpup/authcore/errors"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// Returned when Google has not verified the account's email. Emails are how
// accounts are joined, so an unverified one can't be trusted.
var ErrUnverifiedEmail = errors.NewC("google: email address is not verified", codes.PermissionDenied)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(f *Fetcher) {
		f.endpoint = endpoint
	}
}

// Fetcher reads the userinfo endpoint.
type Fetcher struct {
	endpoint string
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchProfile implements oauth.ProfileFetcher.
func (f *Fetcher) FetchProfile(ctx context.Context, client *http.Client) (*oauth.Profile, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if f.endpoint != "" {
		opts = append(opts, option.WithEndpoint(f.endpoint))
	}
	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.WrapPrefix(err, "google: create userinfo client", 0)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, errors.WrapPrefix(err, "google: fetch userinfo", 0)
	}
	if info.Id == "" {
		return nil, errors.NewC("google: userinfo is missing an id", codes.Internal)
	}
	if info.Email != "" && info.VerifiedEmail != nil && !*info.VerifiedEmail {
		return nil, errors.Mark(ErrUnverifiedEmail, 0)
	}

	name := info.Name
	if name == "" {
		name = strings.TrimSpace(info.GivenName + " " + info.FamilyName)
	}
	return &oauth.Profile{
		ProviderID: info.Id,
		Email:      info.Email,
		Name:       name,
		AvatarURL:  info.Picture,
	}, nil
}
