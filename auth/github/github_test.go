package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, user, emails string) (*Fetcher, *atomic.Int32) {
	t.Helper()
	var emailCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(user))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, _ *http.Request) {
		emailCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(emails))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	return NewFetcher(WithBaseURL(u)), &emailCalls
}

func TestFetchProfile_PublicEmail(t *testing.T) {
	f, emailCalls := newServer(t,
		`{"id": 583231, "login": "octocat", "name": "The Octocat", "email": "octocat@github.com", "avatar_url": "https://avatars.githubusercontent.com/u/583231"}`,
		`[]`)

	p, err := f.FetchProfile(context.Background(), http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, "583231", p.ProviderID)
	assert.Equal(t, "octocat@github.com", p.Email)
	assert.Equal(t, "The Octocat", p.Name)
	assert.Equal(t, "https://avatars.githubusercontent.com/u/583231", p.AvatarURL)
	assert.Zero(t, emailCalls.Load(), "public email should not need the email list")
}

func TestFetchProfile_PrimaryEmailFallback(t *testing.T) {
	f, emailCalls := newServer(t,
		`{"id": 1, "login": "octocat", "email": null}`,
		`[
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "octo@example.com", "primary": true, "verified": true}
		]`)

	p, err := f.FetchProfile(context.Background(), http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, "octo@example.com", p.Email)
	assert.Equal(t, "octocat", p.Name, "login stands in for a missing name")
	assert.EqualValues(t, 1, emailCalls.Load())
}

func TestFetchProfile_NoUsableEmail(t *testing.T) {
	f, _ := newServer(t,
		`{"id": 1, "login": "octocat"}`,
		`[{"email": "octo@example.com", "primary": true, "verified": false}]`)

	p, err := f.FetchProfile(context.Background(), http.DefaultClient)
	require.NoError(t, err)
	assert.Empty(t, p.Email, "unverified addresses are ignored")
}

func TestFetchProfile_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL + "/")

	_, err := NewFetcher(WithBaseURL(u)).FetchProfile(context.Background(), http.DefaultClient)
	assert.Error(t, err)
}
