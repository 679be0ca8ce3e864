package authcore

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/authcore/auth"
	"github.com/dpup/authcore/auth/apikey"
	"github.com/dpup/authcore/auth/github"
	"github.com/dpup/authcore/auth/google"
	"github.com/dpup/authcore/auth/oauth"
	"github.com/dpup/authcore/auth/pwdauth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/eventbus"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/metrics"
	"github.com/dpup/authcore/ratelimit"
	"github.com/dpup/authcore/server"
	"github.com/dpup/authcore/storage"
	"github.com/dpup/authcore/storage/memstore"
	"github.com/dpup/authcore/storage/sqlstore"
	"google.golang.org/grpc/codes"
)

// Option customizes how an App is built. Anything not set by an option is
// read from Config.
type Option func(*builder)

// WithStore uses store instead of opening the configured one. The caller keeps
// ownership of it.
func WithStore(store storage.Store) Option {
	return func(b *builder) {
		b.store = store
	}
}

// WithLogger sets the root logger. Defaults to one built from logging.format.
func WithLogger(l logging.Logger) Option {
	return func(b *builder) {
		b.logger = l
	}
}

// WithSigningKey overrides auth.signingKey.
func WithSigningKey(key []byte) Option {
	return func(b *builder) {
		b.signingKey = key
	}
}

// WithProvider registers an OAuth provider, replacing any configured provider
// with the same name.
func WithProvider(p *oauth.Provider) Option {
	return func(b *builder) {
		b.providers = append(b.providers, p)
	}
}

// WithHTTPClient is used for calls to OAuth providers.
func WithHTTPClient(c *http.Client) Option {
	return func(b *builder) {
		b.httpClient = c
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(b *builder) {
		b.now = now
	}
}

// WithPasswordHasher replaces bcrypt at the default cost.
func WithPasswordHasher(h pwdauth.Hasher) Option {
	return func(b *builder) {
		b.hasher = h
	}
}

// WithBlocklist records signed out sessions somewhere other than memory.
func WithBlocklist(bl auth.Blocklist) Option {
	return func(b *builder) {
		b.blocklist = bl
	}
}

type builder struct {
	store      storage.Store
	logger     logging.Logger
	signingKey []byte
	providers  []*oauth.Provider
	httpClient *http.Client
	now        func() time.Time
	hasher     pwdauth.Hasher
	blocklist  auth.Blocklist
}

// App is a fully wired authcore service.
type App struct {
	Store     storage.Store
	Signer    *auth.Signer
	Keys      *apikey.Manager
	Tokens    *oauth.TokenManager
	Broker    *oauth.Broker
	Passwords *pwdauth.Service
	Gate      *auth.Gate
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Collector
	Bus       *eventbus.Bus

	logger  logging.Logger
	now     func() time.Time
	handler http.Handler
	closers []func(context.Context) error

	issuer          string
	sessionTTL      time.Duration
	tokenTTL        time.Duration
	secureCookies   bool
	successRedirect string
	failureRedirect string
}

// New builds an App from Config and opts.
func New(ctx context.Context, opts ...Option) (*App, error) {
	ApplyConfigDefaults()
	if errs := CheckConfig(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, errors.WrapPrefix(ErrInvalidConfig, strings.Join(msgs, "; "), 0)
	}

	b := &builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NewLogger(ConfigString("logging.format"))
	}
	if b.signingKey == nil {
		b.signingKey = []byte(ConfigString("auth.signingKey"))
	}
	if b.blocklist == nil {
		b.blocklist = auth.NewMemoryBlocklist()
	}
	if b.hasher == nil {
		b.hasher = pwdauth.DefaultHasher
	}
	ctx = logging.EnsureLogger(ctx, b.logger)
	return b.build(ctx)
}

func (b *builder) build(ctx context.Context) (*App, error) {
	address := strings.TrimSuffix(ConfigString("address"), "/")
	a := &App{
		logger:          b.logger,
		now:             b.now,
		issuer:          ConfigString("name"),
		sessionTTL:      ConfigDuration("auth.expiration"),
		tokenTTL:        ConfigDuration("auth.tokenExpiration"),
		secureCookies:   strings.HasPrefix(address, "https://"),
		successRedirect: ConfigString("auth.successRedirect"),
		failureRedirect: ConfigString("auth.failureRedirect"),
	}

	if b.store == nil {
		store, closer, err := openStore(ctx)
		if err != nil {
			return nil, err
		}
		b.store = store
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	a.Store = b.store

	signer, err := auth.NewSigner(b.signingKey, a.issuer, auth.WithClock(b.now), auth.WithBlocklist(b.blocklist))
	if err != nil {
		return nil, errors.WrapPrefix(err, "authcore: auth.signingKey", 0)
	}
	a.Signer = signer

	a.Metrics = metrics.NewCollector()
	a.Bus = eventbus.New(ctx, eventbus.WithWorkerPool(ConfigInt("eventbus.workers")))
	subscribeAudit(a.Bus)
	a.closers = append(a.closers, a.Bus.Shutdown)

	providers := b.configuredProviders(address)
	client := b.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := ConfigDuration("oauth.timeout")

	a.Keys = apikey.NewManager(a.Store,
		apikey.WithPrefix(ConfigString("auth.apiKeyPrefix")),
		apikey.WithClock(b.now),
		apikey.WithPublisher(a.Bus),
		apikey.WithMetrics(a.Metrics),
	)
	a.Tokens = oauth.NewTokenManager(a.Store, providers,
		oauth.WithRefreshThreshold(ConfigDuration("oauth.refreshThreshold")),
		oauth.WithTimeout(timeout),
		oauth.WithHTTPClient(client),
		oauth.WithTokenClock(b.now),
		oauth.WithTokenEvents(a.Bus),
		oauth.WithTokenMetrics(a.Metrics),
	)
	a.Broker = oauth.NewBroker(a.Store, providers,
		oauth.WithBrokerHTTPClient(client),
		oauth.WithBrokerTimeout(timeout),
		oauth.WithBrokerClock(b.now),
		oauth.WithBrokerEvents(a.Bus),
		oauth.WithBrokerMetrics(a.Metrics),
	)
	a.Passwords = pwdauth.NewService(a.Store,
		pwdauth.WithHasher(b.hasher),
		pwdauth.WithClock(b.now),
		pwdauth.WithPublisher(a.Bus),
		pwdauth.WithMetrics(a.Metrics),
	)
	a.Gate = auth.NewGate(a.Keys, a.Signer,
		auth.WithBypassPaths(ConfigStrings("auth.bypassPaths")...),
		auth.WithDecisionObserver(func(_ context.Context, d auth.Decision) {
			a.Metrics.RecordDecision(string(d.Outcome), string(d.Reason))
		}),
	)
	a.Limiter = ratelimit.New(
		ratelimit.WithTrustProxy(ConfigBool("ratelimit.trustProxy")),
		ratelimit.WithMetrics(a.Metrics),
	)

	for _, p := range providers {
		logging.Infow(ctx, "authcore: oauth provider enabled", "provider", p.Name)
	}

	a.handler = a.routes(oauth.NewStateCodec(b.signingKey))
	return a, nil
}

// configuredProviders returns providers with client credentials in Config,
// overridden by any passed as options.
func (b *builder) configuredProviders(address string) []*oauth.Provider {
	byName := map[storage.Provider]*oauth.Provider{}
	var order []storage.Provider
	add := func(p *oauth.Provider) {
		if _, ok := byName[p.Name]; !ok {
			order = append(order, p.Name)
		}
		byName[p.Name] = p
	}

	callback := func(p storage.Provider) string {
		return address + "/api/auth/" + string(p) + "/callback"
	}
	if id := ConfigString("auth.google.id"); id != "" {
		add(oauth.NewGoogleProvider(id, ConfigString("auth.google.secret"), callback(storage.ProviderGoogle), google.NewFetcher()))
	}
	if id := ConfigString("auth.github.id"); id != "" {
		add(oauth.NewGitHubProvider(id, ConfigString("auth.github.secret"), callback(storage.ProviderGitHub), github.NewFetcher()))
	}
	for _, p := range b.providers {
		add(p)
	}

	out := make([]*oauth.Provider, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// OpenStore opens the store named by storage.driver. The returned closer is
// nil for the in-memory store.
func OpenStore(ctx context.Context, opts ...sqlstore.Option) (storage.Store, func(context.Context) error, error) {
	return openStore(ctx, opts...)
}

func openStore(ctx context.Context, opts ...sqlstore.Option) (storage.Store, func(context.Context) error, error) {
	driver := ConfigString("storage.driver")
	var dialect sqlstore.Dialect
	switch driver {
	case "", "memory":
		logging.Warnw(ctx, "authcore: using in-memory storage, credentials are lost on restart")
		return memstore.New(), nil, nil
	case "sqlite", "sqlite3":
		dialect = sqlstore.DialectSQLite
	case "postgres", "postgresql":
		dialect = sqlstore.DialectPostgres
	default:
		return nil, nil, errors.Codef(codes.InvalidArgument, "authcore: unknown storage.driver %q", driver)
	}

	dsn := ConfigString("storage.dsn")
	if dsn == "" {
		return nil, nil, errors.Codef(codes.InvalidArgument, "authcore: storage.dsn is required for %s", driver)
	}
	store, err := sqlstore.Open(ctx, dialect, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}
	return store, func(context.Context) error { return store.Close() }, nil
}

// Handler serves the authcore API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Server wraps the handler in a server configured from Config. Closing the
// server closes the App.
func (a *App) Server(opts ...server.Option) (*server.Server, error) {
	headers := &server.SecurityHeaders{
		XFrameOptions:        server.XFrameOptions(ConfigString("server.security.xFrameOptions")),
		HSTSExpiration:       ConfigDuration("server.security.hstsExpiration"),
		HSTSPreload:          ConfigBool("server.security.hstsPreload"),
		CORSOrigins:          ConfigStrings("server.security.corsOrigins"),
		CORSAllowHeaders:     ConfigStrings("server.security.corsAllowHeaders"),
		CORSExposeHeaders:    ConfigStrings("server.security.corsExposeHeaders"),
		CORSAllowCredentials: ConfigBool("server.security.corsAllowCredentials"),
		CORSMaxAge:           ConfigDuration("server.security.corsMaxAge"),
	}
	if err := headers.Validate(); err != nil {
		return nil, err
	}

	base := []server.Option{
		server.WithAddress(ConfigString("server.host"), ConfigInt("server.port")),
		server.WithSecurityHeaders(headers),
		server.WithShutdownTimeout(ConfigDuration("server.shutdownTimeout")),
		server.WithShutdownHook(a.Close),
	}
	if cert := ConfigString("server.tls.certFile"); cert != "" {
		base = append(base, server.WithTLS(cert, ConfigString("server.tls.keyFile")))
	}
	return server.New(a.handler, append(base, opts...)...), nil
}

// Close flushes pending events and closes the store if the App opened it.
func (a *App) Close(ctx context.Context) error {
	var errs error
	for _, c := range a.closers {
		errs = errors.Append(errs, c(ctx))
	}
	return errs
}
