package oauth

import (
	"net/http"
	"strings"
	"time"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/serverutil"
	"github.com/dpup/authcore/storage"
	"github.com/julienschmidt/httprouter"
	"google.golang.org/grpc/codes"
)

const nonceCookie = "ac-oauth-nonce"

// SessionIssuer mints session tokens.
type SessionIssuer interface {
	Sign(session auth.Session, ttl time.Duration) (string, error)
}

// Handlers serve the browser side of the login flow:
//
//	GET /api/auth/:provider           redirect to the provider's consent screen
//	GET /api/auth/:provider/callback  complete the login and set the session cookie
type Handlers struct {
	Broker     *Broker
	States     *StateCodec
	Sessions   SessionIssuer
	SessionTTL time.Duration

	SuccessRedirect string
	FailureRedirect string
	SecureCookies   bool
}

// Start redirects to the provider named in the route. A local "redirect"
// query parameter is where the user lands after logging in.
func (h *Handlers) Start() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := storage.Provider(httprouter.ParamsFromContext(r.Context()).ByName("provider"))
		if !h.Broker.Configured(provider) {
			serverutil.WriteError(w, r, errors.Mark(ErrUnknownProvider, 0))
			return
		}

		state, encoded := h.States.New(provider, localRedirect(r.URL.Query().Get("redirect")))
		u, err := h.Broker.AuthCodeURL(provider, encoded)
		if err != nil {
			serverutil.WriteError(w, r, err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     nonceCookie,
			Value:    state.Nonce,
			Path:     "/api/auth/",
			MaxAge:   int(stateExpiration.Seconds()),
			HttpOnly: true,
			Secure:   h.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		logging.Track(r.Context(), "oauth.provider", string(provider))
		http.Redirect(w, r, u, http.StatusFound)
	})
}

// Callback completes a login. Every failure sends the user to the failure
// redirect; the cause is only logged.
func (h *Handlers) Callback() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		provider := storage.Provider(httprouter.ParamsFromContext(ctx).ByName("provider"))
		logging.Track(ctx, "oauth.provider", string(provider))

		dest, err := h.complete(w, r, provider)
		h.clearNonce(w)
		if err != nil {
			logging.TrackError(ctx, err)
			logging.Errorw(ctx, "oauth: login failed", "error", err)
			http.Redirect(w, r, h.FailureRedirect, http.StatusFound)
			return
		}
		http.Redirect(w, r, dest, http.StatusFound)
	})
}

func (h *Handlers) complete(w http.ResponseWriter, r *http.Request, provider storage.Provider) (string, error) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		return "", errors.Codef(codes.PermissionDenied, "oauth: provider returned error %q", e)
	}

	state, err := h.States.Parse(q.Get("state"), provider)
	if err != nil {
		return "", err
	}
	c, err := r.Cookie(nonceCookie)
	if err != nil || c.Value != state.Nonce {
		return "", errors.Mark(errInvalidState, 0).WithPublicMessage("state does not belong to this browser")
	}

	user, err := h.Broker.CompleteLogin(r.Context(), provider, q.Get("code"))
	if err != nil {
		return "", err
	}

	tok, err := h.Sessions.Sign(auth.Session{UserID: user.ID, Email: user.Email}, h.SessionTTL)
	if err != nil {
		return "", err
	}
	auth.SetSessionCookie(w, tok, time.Now().Add(h.SessionTTL), h.SecureCookies)
	logging.Track(r.Context(), "user.id", user.ID)

	if state.Redirect != "" {
		return state.Redirect, nil
	}
	return h.SuccessRedirect, nil
}

func (h *Handlers) clearNonce(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookie,
		Path:     "/api/auth/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// localRedirect only accepts paths on this host.
func localRedirect(dest string) string {
	if !strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "//") || strings.HasPrefix(dest, "/\\") {
		return ""
	}
	return dest
}
