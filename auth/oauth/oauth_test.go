package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dpup/authcore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeProvider is a token endpoint plus a canned profile.
type fakeProvider struct {
	*httptest.Server

	mu       sync.Mutex
	requests []map[string]string
	respond  func(form map[string]string) (int, map[string]any)
	delay    time.Duration

	profile    *Profile
	profileErr error
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{
		respond: func(map[string]string) (int, map[string]any) {
			return http.StatusOK, map[string]any{
				"access_token": "new-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			}
		},
		profile: &Profile{ProviderID: "p-123", Email: "ada@example.com", Name: "Ada King Lovelace"},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serveToken))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	f.mu.Lock()
	f.requests = append(f.requests, form)
	respond := f.respond
	f.mu.Unlock()

	status, body := respond(form)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeProvider) setRespond(fn func(form map[string]string) (int, map[string]any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func (f *fakeProvider) Requests() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.requests...)
}

func (f *fakeProvider) FetchProfile(context.Context, *http.Client) (*Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeProvider) Provider(name storage.Provider) *Provider {
	return &Provider{
		Name: name,
		Config: &oauth2.Config{
			ClientID:     "client-" + string(name),
			ClientSecret: "secret-" + string(name),
			RedirectURL:  "http://localhost:8000/api/auth/" + string(name) + "/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:   f.URL + "/authorize",
				TokenURL:  f.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		Profiles: f,
	}
}

type events struct {
	mu     sync.Mutex
	topics []string
	data   []any
}

func (e *events) Publish(topic string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics = append(e.topics, topic)
	e.data = append(e.data, data)
}

func (e *events) Topics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.topics...)
}

func seedUser(t *testing.T, s storage.Store, id string, link *storage.OAuthLink) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateUser(context.Background(), &storage.User{
		ID: id, Email: id + "@example.com", CreatedAt: now, UpdatedAt: now,
	}, &storage.Profile{ID: "profile-" + id}, link))
}

func ptr[T any](v T) *T {
	return &v
}

// tokenRequest records how a client authenticated to the token endpoint.
type tokenRequest struct {
	BasicAuth   bool
	FormClient  string
	ContentType string
}

// rejectingTokenEndpoint answers every token request with 401.
func rejectingTokenEndpoint(t *testing.T) (*httptest.Server, func() []tokenRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []tokenRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, basic := r.BasicAuth()
		_ = r.ParseForm()
		mu.Lock()
		reqs = append(reqs, tokenRequest{
			BasicAuth:   basic,
			FormClient:  r.PostForm.Get("client_id"),
			ContentType: r.Header.Get("Content-Type"),
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_refresh_token"})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []tokenRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]tokenRequest(nil), reqs...)
	}
}

// newGitHubProviderAt is the production GitHub provider with only the token
// URL moved.
func newGitHubProviderAt(tokenURL string, profiles ProfileFetcher) *Provider {
	p := NewGitHubProvider("gh-client", "gh-secret", "http://localhost:8000/api/auth/github/callback", profiles)
	p.Config.Endpoint.TokenURL = tokenURL
	return p
}

func assertSingleFormRequest(t *testing.T, reqs []tokenRequest) {
	t.Helper()
	require.Len(t, reqs, 1, "a rejected exchange must not be retried")
	assert.False(t, reqs[0].BasicAuth)
	assert.Equal(t, "gh-client", reqs[0].FormClient)
	assert.Equal(t, "application/x-www-form-urlencoded", reqs[0].ContentType)
}
