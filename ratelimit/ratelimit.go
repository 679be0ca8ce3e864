// Package ratelimit applies per-route request budgets. Requests are counted per
// authenticated user, then per client IP, and finally in one shared bucket
// when neither is known.
package ratelimit

import (
	"net/http"
	"time"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/metrics"
	"github.com/dpup/authcore/serverutil"
	"github.com/go-chi/httprate"
	"google.golang.org/grpc/codes"
)

// AnonymousKey is the bucket shared by requests with neither a user nor an IP.
const AnonymousKey = "anonymous"

var ErrRateLimited = errors.NewC("ratelimit: limit exceeded", codes.ResourceExhausted).WithPublicMessage("too many requests")

// Option configures a Limiter.
type Option func(*Limiter)

// WithTrustProxy keys on X-Forwarded-For, X-Real-IP or True-Client-IP. Only
// enable it behind a proxy that sets those headers.
func WithTrustProxy(trust bool) Option {
	return func(l *Limiter) {
		l.trustProxy = trust
	}
}

// WithMetrics counts rejected requests.
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Limiter) {
		l.metrics = c
	}
}

// Limiter builds rate limiting middleware. Each call to Limit owns its own
// counters, so budgets are per route.
type Limiter struct {
	trustProxy bool
	metrics    *metrics.Collector
}

func New(opts ...Option) *Limiter {
	l := &Limiter{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit allows points requests per window for each key. Requests over budget
// get a 429 with Retry-After set.
func (l *Limiter) Limit(route string, points int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(points, window,
		httprate.WithKeyFuncs(l.Key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			l.metrics.RecordRateLimited(route)
			logging.Track(r.Context(), "ratelimit.route", route)
			serverutil.WriteError(w, r, errors.Mark(ErrRateLimited, 0))
		}),
	)
}

// Key returns the bucket for a request.
func (l *Limiter) Key(r *http.Request) (string, error) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && !p.Anonymous() && p.UserID != "" {
		return "user:" + p.UserID, nil
	}

	keyFn := httprate.KeyByIP
	if l.trustProxy {
		keyFn = httprate.KeyByRealIP
	}
	if ip, err := keyFn(r); err == nil && ip != "" {
		return "ip:" + ip, nil
	}

	logging.Debugw(r.Context(), "ratelimit: no user or address, using shared bucket")
	return AnonymousKey, nil
}
