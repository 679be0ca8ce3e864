// Package server runs authcore's HTTP handler with the transport concerns the
// handlers don't care about: TLS, HTTP/2, compression, security headers and
// graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc/codes"
)

const defaultShutdownTimeout = 5 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the host and port to listen on.
func WithAddress(host string, port int) Option {
	return func(s *Server) {
		s.host = host
		s.port = port
	}
}

// WithTLS serves HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithSecurityHeaders adds security and CORS headers to every response.
func WithSecurityHeaders(h *SecurityHeaders) Option {
	return func(s *Server) {
		s.headers = h
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for connections to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// WithShutdownHook registers fn to run after connections have drained. Hooks
// run in registration order.
func WithShutdownHook(fn func(context.Context) error) Option {
	return func(s *Server) {
		s.hooks = append(s.hooks, fn)
	}
}

// Server serves an http.Handler.
type Server struct {
	host            string
	port            int
	certFile        string
	keyFile         string
	headers         *SecurityHeaders
	shutdownTimeout time.Duration
	hooks           []func(context.Context) error

	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// New returns a server for handler. Nothing listens until Start or Serve.
func New(handler http.Handler, opts ...Option) *Server {
	s := &Server{
		host:            "localhost",
		port:            8000,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.wrap(handler)
	return s
}

// Addr is the host:port the server binds to.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) wrap(h http.Handler) http.Handler {
	if s.headers != nil {
		h = s.headers.Middleware(h)
	}
	return gziphandler.GzipHandler(h)
}

// Start listens on the configured address and serves until ctx is done or
// the process receives SIGINT or SIGTERM.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return errors.WrapPrefix(err, "server: listen", 0)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	tlsEnabled := s.certFile != ""
	if tlsEnabled {
		hs.Handler = s.handler
		hs.TLSConfig = safeTLSConfig()
	} else {
		hs.Handler = h2c.NewHandler(s.handler, &http2.Server{})
	}

	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		if tlsEnabled {
			logging.Infof(ctx, "server: listening on https://%s", ln.Addr())
			errc <- hs.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			logging.Infof(ctx, "server: listening on http://%s", ln.Addr())
			errc <- hs.Serve(ln)
		}
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapPrefix(err, "server: serve", 0)
	case <-ctx.Done():
		logging.Info(ctx, "server: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown drains connections then runs shutdown hooks. It is safe to call
// when the server was never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	var errs []error
	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			errs = append(errs, errors.WrapPrefix(err, "server: drain connections", 0))
		} else {
			logging.Info(ctx, "server: connections drained")
		}
	}
	for _, hook := range s.hooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.WithCode(errors.Join(errs...), codes.Internal)
	}
	return nil
}

// TLS1.2 min and support for HTTP2.
func safeTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}
