package authcore

import (
	"net/http"
	"strings"
	"time"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/auth/oauth"
	"github.com/dpup/authcore/auth/pwdauth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/serverutil"
	"github.com/dpup/authcore/storage"
	"github.com/julienschmidt/httprouter"
	"google.golang.org/grpc/codes"
)

var errRouteNotFound = errors.NewC("route not found", codes.NotFound).WithPublicMessage("not found")

type budget struct {
	points int
	window time.Duration
}

func perMinute(n int) *budget {
	return &budget{points: n, window: time.Minute}
}

func (a *App) routes(states *oauth.StateCodec) http.Handler {
	router := httprouter.New()
	router.NotFound = logging.Middleware("notfound", a.logger)(serverutil.Handle(func(*http.Request) (any, error) {
		return nil, errors.Mark(errRouteNotFound, 0)
	}))

	oauthHandlers := &oauth.Handlers{
		Broker:          a.Broker,
		States:          states,
		Sessions:        a.Signer,
		SessionTTL:      a.sessionTTL,
		SuccessRedirect: a.successRedirect,
		FailureRedirect: a.failureRedirect,
		SecureCookies:   a.secureCookies,
	}
	pwdHandlers := &pwdauth.Handlers{
		Service:       a.Passwords,
		Sessions:      a.Signer,
		SessionTTL:    a.sessionTTL,
		SecureCookies: a.secureCookies,
	}

	a.handle(router, http.MethodPost, "/api/keys", a.Keys.CreateHandler(), perMinute(10))
	a.handle(router, http.MethodGet, "/api/keys", a.Keys.ListHandler(), perMinute(30))
	a.handle(router, http.MethodDelete, "/api/keys/:keyID", a.Keys.RevokeHandler(), perMinute(10))

	a.handle(router, http.MethodGet, "/api/auth/:provider", oauthHandlers.Start(), nil)
	a.handle(router, http.MethodGet, "/api/auth/:provider/callback", oauthHandlers.Callback(), nil)
	a.handle(router, http.MethodPost, "/api/auth/register", pwdHandlers.Register(), perMinute(5))
	a.handle(router, http.MethodPost, "/api/auth/login", pwdHandlers.Login(), perMinute(10))
	a.handle(router, http.MethodPost, "/api/auth/token", a.tokenHandler(), perMinute(30))
	a.handle(router, http.MethodPost, "/api/auth/logout", a.logoutHandler(), nil)

	a.handle(router, http.MethodGet, "/api/me", a.meHandler(), nil)
	a.handle(router, http.MethodGet, "/healthz", serverutil.Handle(func(*http.Request) (any, error) {
		return map[string]string{"status": "ok"}, nil
	}), nil)
	router.Handler(http.MethodGet, "/metrics", a.Gate.Middleware(a.Metrics.Handler()))

	return router
}

// handle registers h behind the request pipeline: logging, metrics, the
// authentication gate, eager token refresh and, when b is set, a rate limit.
func (a *App) handle(router *httprouter.Router, method, path string, h http.Handler, b *budget) {
	name := method + " " + path
	if b != nil {
		h = a.Limiter.Limit(name, b.points, b.window)(h)
	}
	h = a.Tokens.Middleware(h)
	h = a.Gate.Middleware(h)
	h = a.Metrics.Middleware(name)(h)
	h = logging.Middleware(name, a.logger)(h)
	router.Handler(method, path, h)
}

// TokenResponse is the body of POST /api/auth/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// tokenHandler exchanges a session for a short lived bearer token, for clients
// that can't hold cookies.
func (a *App) tokenHandler() http.Handler {
	return serverutil.Handle(func(r *http.Request) (any, error) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			return nil, err
		}
		if p.Kind != auth.CredentialSession {
			return nil, errors.Mark(auth.ErrWrongCredential, 0).WithPublicMessage("bearer tokens can only be issued to sessions")
		}
		tok, err := a.Signer.Sign(auth.Session{UserID: p.UserID, Email: p.Email, AuthTime: p.AuthTime}, a.tokenTTL)
		if err != nil {
			return nil, err
		}
		return TokenResponse{Token: tok, TokenType: "Bearer", ExpiresAt: a.now().Add(a.tokenTTL).UTC()}, nil
	})
}

// logoutHandler revokes the presented session and clears the cookie. It
// succeeds even when there was nothing to revoke.
func (a *App) logoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var tokens []string
		if c, err := r.Cookie(auth.SessionCookie); err == nil && c.Value != "" {
			tokens = append(tokens, c.Value)
		}
		if tok, ok := bearer(r); ok {
			tokens = append(tokens, tok)
		}
		for _, tok := range tokens {
			if err := a.Signer.Revoke(ctx, tok); err != nil {
				serverutil.WriteError(w, r, err)
				return
			}
		}
		auth.ClearSessionCookie(w, a.secureCookies)
		w.WriteHeader(http.StatusNoContent)
	})
}

func bearer(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", false
	}
	return strings.TrimSpace(tok), true
}

// MeResponse is the body of GET /api/me.
type MeResponse struct {
	UserID    string   `json:"userId"`
	Email     string   `json:"email"`
	Kind      string   `json:"kind"`
	KeyID     string   `json:"keyId,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
}

func (a *App) meHandler() http.Handler {
	return serverutil.Handle(func(r *http.Request) (any, error) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			return nil, err
		}
		resp := MeResponse{
			UserID: p.UserID,
			Email:  p.Email,
			Kind:   string(p.Kind),
			KeyID:  p.KeyID,
			Scopes: p.Scopes,
		}

		profile, err := a.Store.FindProfile(r.Context(), p.UserID)
		switch {
		case err == nil:
			resp.FirstName = profile.FirstName
			resp.LastName = profile.LastName
			resp.AvatarURL = profile.AvatarURL
		case !errors.Is(err, storage.ErrNotFound):
			return nil, errors.WrapPrefix(err, "authcore: find profile", 0)
		}
		return resp, nil
	})
}
