package authcore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/auth/apikey"
	"github.com/dpup/authcore/auth/pwdauth"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/serverutil"
	"github.com/dpup/authcore/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	t   *testing.T
	app *App
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	app, err := New(context.Background(),
		WithStore(memstore.New()),
		WithLogger(logging.NewNopLogger()),
		WithSigningKey([]byte("test-signing-key")),
		WithPasswordHasher(pwdauth.TestHasher),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return &testApp{t: t, app: app}
}

type reqOpt func(*http.Request)

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withAPIKey(key string) reqOpt {
	return func(r *http.Request) { r.Header.Set(auth.APIKeyHeader, key) }
}

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func (a *testApp) do(method, path, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for _, opt := range opts {
		opt(r)
	}
	rec := httptest.NewRecorder()
	a.app.Handler().ServeHTTP(rec, r)
	return rec
}

func (a *testApp) register(email string) *http.Cookie {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/register", `{"email":"`+email+`","password":"password1","name":"Ada Lovelace"}`)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	a.t.Fatal("no session cookie")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestApp_Me(t *testing.T) {
	a := newTestApp(t)
	cookie := a.register("ada@example.com")

	rec := a.do(http.MethodGet, "/api/me", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[MeResponse](t, rec)
	assert.Equal(t, "ada@example.com", me.Email)
	assert.Equal(t, "session", me.Kind)
	assert.Equal(t, "Ada", me.FirstName)

	rec = a.do(http.MethodGet, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication required", decode[serverutil.ErrorResponse](t, rec).Message)
}

func TestApp_APIKeyLifecycle(t *testing.T) {
	a := newTestApp(t)
	cookie := a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/keys", `{"name":"ci"}`, withCookie(cookie))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[apikey.CreatedKey](t, rec)
	require.NotEmpty(t, created.Key)

	rec = a.do(http.MethodGet, "/api/keys", "", withAPIKey(created.Key))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), created.Key, "listing must never include key material")
	list := decode[apikey.ListResponse](t, rec)
	require.Len(t, list.Keys, 1)
	assert.Equal(t, created.ID, list.Keys[0].ID)

	rec = a.do(http.MethodGet, "/api/me", "", withAPIKey(created.Key))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "apikey", decode[MeResponse](t, rec).Kind)

	rec = a.do(http.MethodGet, "/api/me", "", withAPIKey(created.Key+"x"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodDelete, "/api/keys/"+created.ID, "", withAPIKey(created.Key))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/api/me", "", withAPIKey(created.Key))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked keys no longer authenticate")
}

func TestApp_RevokeOtherUsersKey(t *testing.T) {
	a := newTestApp(t)
	ada := a.register("ada@example.com")
	bob := a.register("bob@example.com")

	rec := a.do(http.MethodPost, "/api/keys", `{"name":"mine"}`, withCookie(ada))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[apikey.CreatedKey](t, rec)

	notOwned := a.do(http.MethodDelete, "/api/keys/"+created.ID, "", withCookie(bob))
	missing := a.do(http.MethodDelete, "/api/keys/does-not-exist", "", withCookie(bob))
	assert.Equal(t, http.StatusForbidden, notOwned.Code)
	assert.Equal(t, missing.Code, notOwned.Code)
	assert.Equal(t, decode[serverutil.ErrorResponse](t, missing), decode[serverutil.ErrorResponse](t, notOwned))

	rec = a.do(http.MethodGet, "/api/me", "", withAPIKey(created.Key))
	assert.Equal(t, http.StatusOK, rec.Code, "the key must survive")
}

func TestApp_InvalidKeyName(t *testing.T) {
	a := newTestApp(t)
	cookie := a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/keys", `{"name":"  "}`, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/keys", `{"name":"ci"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApp_TokenAndLogout(t *testing.T) {
	a := newTestApp(t)
	cookie := a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/auth/token", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tok := decode[TokenResponse](t, rec)
	assert.Equal(t, "Bearer", tok.TokenType)

	rec = a.do(http.MethodGet, "/api/me", "", withBearer(tok.Token))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/api/keys", `{"name":"ci"}`, withCookie(cookie))
	require.Equal(t, http.StatusCreated, rec.Code)
	key := decode[apikey.CreatedKey](t, rec).Key
	rec = a.do(http.MethodPost, "/api/auth/token", "", withAPIKey(key))
	assert.Equal(t, http.StatusForbidden, rec.Code, "api keys can't mint sessions")

	rec = a.do(http.MethodPost, "/api/auth/logout", "", withCookie(cookie))
	require.Equal(t, http.StatusNoContent, rec.Code)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)

	rec = a.do(http.MethodGet, "/api/me", "", withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "signed out sessions are rejected")

	rec = a.do(http.MethodGet, "/api/me", "", withBearer(tok.Token))
	assert.Equal(t, http.StatusOK, rec.Code, "bearer tokens are revoked separately")
}

func TestApp_Login(t *testing.T) {
	a := newTestApp(t)
	a.register("ada@example.com")

	rec := a.do(http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"password1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/login", `{"email":"ada@example.com","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApp_RateLimit(t *testing.T) {
	a := newTestApp(t)
	cookie := a.register("ada@example.com")

	for i := range 10 {
		rec := a.do(http.MethodPost, "/api/keys", `{"name":"k"}`, withCookie(cookie))
		require.Equal(t, http.StatusCreated, rec.Code, "request %d", i)
	}
	rec := a.do(http.MethodPost, "/api/keys", `{"name":"k"}`, withCookie(cookie))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = a.do(http.MethodGet, "/api/keys", "", withCookie(cookie))
	assert.Equal(t, http.StatusOK, rec.Code, "routes have separate budgets")
}

func TestApp_PublicRoutes(t *testing.T) {
	a := newTestApp(t)

	rec := a.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authcore_gate_decisions_total")

	rec = a.do(http.MethodGet, "/api/auth/github", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "github is not configured")

	rec = a.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
