package apikey

import (
	"net/http"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/serverutil"
	"github.com/julienschmidt/httprouter"
	"google.golang.org/grpc/codes"
)

// Scopes checked when an API key manages keys. Sessions carry every scope.
const (
	ScopeRead  = "keys:read"
	ScopeWrite = "keys:write"
)

var errMissingScope = errors.NewC("credential lacks the required scope", codes.PermissionDenied)

// CreateRequest is the body of POST /api/keys.
type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes,omitempty"`
}

// ListResponse is the body of GET /api/keys.
type ListResponse struct {
	Keys []KeyInfo `json:"keys"`
}

// CreateHandler serves POST /api/keys.
func (m *Manager) CreateHandler() http.Handler {
	return serverutil.Handle(func(r *http.Request) (any, error) {
		p, err := principal(r, ScopeWrite)
		if err != nil {
			return nil, err
		}
		var req CreateRequest
		if err := serverutil.DecodeJSON(r, &req); err != nil {
			return nil, err
		}
		key, err := m.Generate(r.Context(), p.UserID, req.Name, req.Scopes)
		if err != nil {
			return nil, err
		}
		return serverutil.Response{Status: http.StatusCreated, Body: key}, nil
	})
}

// ListHandler serves GET /api/keys.
func (m *Manager) ListHandler() http.Handler {
	return serverutil.Handle(func(r *http.Request) (any, error) {
		p, err := principal(r, ScopeRead)
		if err != nil {
			return nil, err
		}
		keys, err := m.List(r.Context(), p.UserID)
		if err != nil {
			return nil, err
		}
		return ListResponse{Keys: keys}, nil
	})
}

// RevokeHandler serves DELETE /api/keys/:keyID.
func (m *Manager) RevokeHandler() http.Handler {
	return serverutil.Handle(func(r *http.Request) (any, error) {
		p, err := principal(r, ScopeWrite)
		if err != nil {
			return nil, err
		}
		keyID := httprouter.ParamsFromContext(r.Context()).ByName("keyID")
		if keyID == "" {
			return nil, errors.Mark(ErrKeyNotFound, 0)
		}
		if err := m.Revoke(r.Context(), p.UserID, keyID); err != nil {
			return nil, err
		}
		return serverutil.Response{Status: http.StatusNoContent}, nil
	})
}

func principal(r *http.Request, scope string) (auth.Principal, error) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		return p, err
	}
	if !p.HasScope(scope) {
		return p, errors.Mark(errMissingScope, 0).WithPublicMessage("api key is missing scope " + scope)
	}
	return p, nil
}
