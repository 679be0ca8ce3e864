// Package github fetches GitHub account profiles for the OAuth login flow.
//
// GitHub profiles only carry an email when the user made one public, so the
// fetcher falls back to the user's email list and picks the primary entry.
package github

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dpup/authcore/auth/oauth"
	"github.com/dpup/authcore/errors"
	gh "github.com/google/go-github/v74/github"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBaseURL points the fetcher at a GitHub Enterprise or test server. The
// URL must end in a slash.
func WithBaseURL(u *url.URL) Option {
	return func(f *Fetcher) {
		f.baseURL = u
	}
}

// Fetcher reads the authenticated user's profile.
type Fetcher struct {
	baseURL *url.URL
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
	c := gh.NewClient(client)
	if f.baseURL != nil {
		c.BaseURL = f.baseURL
	}

	user, _, err := c.Users.Get(ctx, "")
	if err != nil {
		return nil, errors.WrapPrefix(err, "github: fetch user", 0)
	}
	if user.GetID() == 0 {
		return nil, errors.New("github: user is missing an id")
	}

	email := user.GetEmail()
	if email == "" {
		email, err = primaryEmail(ctx, c)
		if err != nil {
			return nil, err
		}
	}

	name := user.GetName()
	if name == "" {
		name = user.GetLogin()
	}
	return &oauth.Profile{
		ProviderID: strconv.FormatInt(user.GetID(), 10),
		Email:      email,
		Name:       name,
		AvatarURL:  user.GetAvatarURL(),
	}, nil
}

// primaryEmail returns the user's verified primary email, or "" if there is
// none.
func primaryEmail(ctx context.Context, c *gh.Client) (string, error) {
	opts := &gh.ListOptions{PerPage: 100}
	for {
		emails, resp, err := c.Users.ListEmails(ctx, opts)
		if err != nil {
			return "", errors.WrapPrefix(err, "github: list emails", 0)
		}
		for _, e := range emails {
			if e.GetPrimary() && e.GetVerified() {
				return e.GetEmail(), nil
			}
		}
		if resp.NextPage == 0 {
			return "", nil
		}
		opts.Page = resp.NextPage
	}
}
