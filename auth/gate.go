package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/serverutil"
	"google.golang.org/grpc/codes"
)

// APIKeyHeader carries API keys.
const APIKeyHeader = "X-API-Key"

// KeyValidator resolves API keys. A nil principal with a nil error means the
// key is unknown.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*Principal, error)
}

// SessionVerifier resolves signed session tokens.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// Outcome is the terminal state of a gate decision.
type Outcome string

const (
	Authenticated Outcome = "authenticated"
	Rejected      Outcome = "rejected"
)

// Reason explains a decision. Reasons are for logs and metrics, callers only
// ever see a uniform rejection.
type Reason string

const (
	ReasonBypass        Reason = "bypass"
	ReasonAPIKey        Reason = "api_key"
	ReasonBearer        Reason = "bearer"
	ReasonCookie        Reason = "cookie"
	ReasonNoCredentials Reason = "no_credentials"
	ReasonInvalidToken  Reason = "invalid_token"
	ReasonLookupFailed  Reason = "lookup_failed"
)

// Decision is the result of authenticating one request.
type Decision struct {
	Outcome   Outcome
	Reason    Reason
	Principal Principal

	// Set when rejected.
	Err error
}

// DecisionObserver is notified of every decision.
type DecisionObserver func(ctx context.Context, d Decision)

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithBypassPaths lets requests for the given paths, or anything below them,
// through without credentials.
func WithBypassPaths(paths ...string) GateOption {
	return func(g *Gate) {
		for _, p := range paths {
			if p = strings.TrimSuffix(p, "/"); p != "" {
				g.bypass = append(g.bypass, p)
			}
		}
	}
}

// WithDecisionObserver registers a callback for decisions.
func WithDecisionObserver(fn DecisionObserver) GateOption {
	return func(g *Gate) {
		g.observers = append(g.observers, fn)
	}
}

// Gate authenticates requests. Checks run in a fixed order: bypass paths, the
// API key header, the bearer token, then the session cookie.
type Gate struct {
	keys      KeyValidator
	sessions  SessionVerifier
	bypass    []string
	observers []DecisionObserver
}

// NewGate returns a gate. Either collaborator may be nil, which disables that
// credential type.
func NewGate(keys KeyValidator, sessions SessionVerifier, opts ...GateOption) *Gate {
	g := &Gate{keys: keys, sessions: sessions}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate decides whether a request may proceed.
func (g *Gate) Authenticate(r *http.Request) Decision {
	d := g.decide(r)
	for _, fn := range g.observers {
		fn(r.Context(), d)
	}
	return d
}

func (g *Gate) decide(r *http.Request) Decision {
	ctx := r.Context()

	if g.bypassed(r.URL.Path) {
		return Decision{
			Outcome:   Authenticated,
			Reason:    ReasonBypass,
			Principal: Principal{Kind: CredentialAnonymous},
		}
	}

	if key := r.Header.Get(APIKeyHeader); key != "" && g.keys != nil {
		p, err := g.keys.Validate(ctx, key)
		if err != nil {
			return lookupFailed(err)
		}
		if p != nil {
			return authenticated(ReasonAPIKey, p)
		}
		logging.Debugw(ctx, "auth: api key did not match, trying other credentials")
	}

	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := bearerToken(header)
		if !ok || g.sessions == nil {
			return rejected(ReasonInvalidToken, errors.Mark(ErrInvalidToken, 0))
		}
		return g.verify(ctx, ReasonBearer, token)
	}

	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" && g.sessions != nil {
		return g.verify(ctx, ReasonCookie, c.Value)
	}

	return rejected(ReasonNoCredentials, errors.Mark(ErrNoCredentials, 0))
}

func (g *Gate) verify(ctx context.Context, reason Reason, token string) Decision {
	p, err := g.sessions.Verify(ctx, token)
	if err != nil {
		if errors.Code(err) == codes.Unauthenticated {
			return rejected(ReasonInvalidToken, err)
		}
		return lookupFailed(err)
	}
	return authenticated(reason, p)
}

func (g *Gate) bypassed(path string) bool {
	for _, b := range g.bypass {
		if path == b || strings.HasPrefix(path, b+"/") {
			return true
		}
	}
	return false
}

// Middleware rejects unauthenticated requests and attaches the principal to
// the context of the rest.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Authenticate(r)
		ctx := r.Context()
		logging.Track(ctx, "auth.reason", string(d.Reason))

		if d.Outcome == Rejected {
			serverutil.WriteError(w, r, d.Err)
			return
		}

		if !d.Principal.Anonymous() {
			logging.Track(ctx, "auth.user_id", d.Principal.UserID)
			logging.Track(ctx, "auth.kind", string(d.Principal.Kind))
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, d.Principal)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func authenticated(reason Reason, p *Principal) Decision {
	return Decision{Outcome: Authenticated, Reason: reason, Principal: *p}
}

func rejected(reason Reason, err error) Decision {
	return Decision{Outcome: Rejected, Reason: reason, Err: err}
}

func lookupFailed(err error) Decision {
	return Decision{
		Outcome: Rejected,
		Reason:  ReasonLookupFailed,
		Err:     errors.WithCode(errors.WrapPrefix(err, "auth: credential lookup failed", 0), codes.Internal),
	}
}
