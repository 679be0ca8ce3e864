package server

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/serverutil"
	"google.golang.org/grpc/codes"
)

type XFrameOptions string

const (
	XFrameOptionsNone       XFrameOptions = ""
	XFrameOptionsDeny       XFrameOptions = "DENY"
	XFrameOptionsSameOrigin XFrameOptions = "SAMEORIGIN"
)

// HSTS preload requires a max-age of at least a year.
var ErrBadHSTSExpiration = errors.NewC("server: HSTS preload requires expiration of at least 1 year", codes.FailedPrecondition)

// SecurityHeaders are added to every response. CORS headers are only sent to
// allowed origins.
type SecurityHeaders struct {
	XFrameOptions XFrameOptions

	HSTSExpiration        time.Duration
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	CORSOrigins          []string
	CORSAllowMethods     []string
	CORSAllowHeaders     []string
	CORSExposeHeaders    []string
	CORSAllowCredentials bool
	CORSMaxAge           time.Duration

	once             sync.Once
	err              error
	static           map[string]string
	preflight        map[string]string
	allowedOrigins   map[string]bool
	exposeHeaderList string
}

// Middleware sets the headers and answers CORS preflight requests.
func (s *SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Apply(w, r); err != nil {
			serverutil.WriteError(w, r, errors.WithCode(err, codes.Internal))
			return
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Validate reports configuration errors without serving a request.
func (s *SecurityHeaders) Validate() error {
	s.once.Do(s.compute)
	return s.err
}

// Apply sets the headers for r on w.
func (s *SecurityHeaders) Apply(w http.ResponseWriter, r *http.Request) error {
	if err := s.Validate(); err != nil {
		return err
	}

	h := w.Header()
	for k, v := range s.static {
		h.Set(k, v)
	}

	origin := r.Header.Get("Origin")
	if origin == "" || !s.allowedOrigins[origin] {
		return nil
	}
	h.Set("Access-Control-Allow-Origin", origin)
	if s.CORSAllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if r.Method == http.MethodOptions {
		for k, v := range s.preflight {
			h.Set(k, v)
		}
	} else if s.exposeHeaderList != "" {
		h.Set("Access-Control-Expose-Headers", s.exposeHeaderList)
	}
	return nil
}

func (s *SecurityHeaders) compute() {
	s.static = map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	if s.XFrameOptions != XFrameOptionsNone {
		s.static["X-Frame-Options"] = string(s.XFrameOptions)
	}

	if s.HSTSExpiration > 0 {
		v := fmt.Sprintf("max-age=%.0f", s.HSTSExpiration.Seconds())
		if s.HSTSIncludeSubdomains {
			v += "; includeSubDomains"
		}
		if s.HSTSPreload {
			if s.HSTSExpiration < 365*24*time.Hour {
				s.err = errors.Mark(ErrBadHSTSExpiration, 0)
				return
			}
			v += "; preload"
		}
		s.static["Strict-Transport-Security"] = v
	}

	if len(s.CORSOrigins) == 0 {
		return
	}
	s.static["Vary"] = "Origin"
	s.allowedOrigins = map[string]bool{}
	for _, o := range s.CORSOrigins {
		s.allowedOrigins[o] = true
	}

	methods := "GET, POST, DELETE"
	if len(s.CORSAllowMethods) > 0 {
		methods = strings.Join(s.CORSAllowMethods, ", ")
	}
	s.preflight = map[string]string{"Access-Control-Allow-Methods": methods}
	if len(s.CORSAllowHeaders) > 0 {
		s.preflight["Access-Control-Allow-Headers"] = canonicalList(s.CORSAllowHeaders)
	}
	if s.CORSMaxAge > 0 {
		s.preflight["Access-Control-Max-Age"] = fmt.Sprintf("%.0f", s.CORSMaxAge.Seconds())
	}
	s.exposeHeaderList = canonicalList(s.CORSExposeHeaders)
}

func canonicalList(headers []string) string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = textproto.CanonicalMIMEHeaderKey(h)
	}
	return strings.Join(out, ", ")
}
