package pwdauth

import (
	"net/http"
	"time"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/auth/oauth"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/serverutil"
	"github.com/dpup/authcore/storage"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned after registering or logging in. The token is
// also set as the session cookie.
type SessionResponse struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Handlers serve registration and login over HTTP.
type Handlers struct {
	Service       *Service
	Sessions      oauth.SessionIssuer
	SessionTTL    time.Duration
	SecureCookies bool
}

// Register serves POST /api/auth/register.
func (h *Handlers) Register() http.Handler {
	return serverutil.Handle(func(r *http.Request) (any, error) {
		var req Registration
		if err := serverutil.DecodeJSON(r, &req); err != nil {
			return nil, err
		}
		user, err := h.Service.Register(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return h.session(r, user, http.StatusCreated)
	})
}

// Login serves POST /api/auth/login.
func (h *Handlers) Login() http.Handler {
	return serverutil.Handle(func(r *http.Request) (any, error) {
		var req LoginRequest
		if err := serverutil.DecodeJSON(r, &req); err != nil {
			return nil, err
		}
		user, err := h.Service.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			return nil, err
		}
		return h.session(r, user, http.StatusOK)
	})
}

func (h *Handlers) session(r *http.Request, user *storage.User, status int) (any, error) {
	tok, err := h.Sessions.Sign(auth.Session{UserID: user.ID, Email: user.Email}, h.SessionTTL)
	if err != nil {
		return nil, err
	}
	logging.Track(r.Context(), "user.id", user.ID)

	expires := time.Now().Add(h.SessionTTL)
	return serverutil.Response{
		Status: status,
		Body: SessionResponse{
			UserID:    user.ID,
			Email:     user.Email,
			Token:     tok,
			ExpiresAt: expires,
		},
		Cookies: []*http.Cookie{auth.NewSessionCookie(tok, expires, h.SecureCookies)},
	}, nil
}
