// Package pwdauth provides explicit registration and email/password login for
// users that don't sign in through an OAuth provider.
package pwdauth

import (
	"context"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/dpup/authcore/auth/oauth"
	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/eventbus"
	"github.com/dpup/authcore/logging"
	"github.com/dpup/authcore/metrics"
	"github.com/dpup/authcore/storage"
	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
)

// Name used for the provider label on login events and metrics.
const ProviderName = "password"

const (
	minPasswordLength = 8

	// bcrypt ignores anything past 72 bytes.
	maxPasswordLength = 72
)

var (
	// Returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.NewC("pwdauth: invalid credentials", codes.Unauthenticated).WithPublicMessage("invalid email or password")

	ErrEmailTaken = errors.NewC("pwdauth: email already registered", codes.AlreadyExists).WithPublicMessage("email is already registered")

	ErrInvalidInput = errors.NewC("pwdauth: invalid registration", codes.InvalidArgument)
)

// Option configures a Service.
type Option func(*Service)

// WithHasher replaces DefaultHasher.
func WithHasher(h Hasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

// WithClock overrides the time source for new users.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithPublisher publishes a LoginEvent for registrations and logins.
func WithPublisher(p eventbus.Publisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// WithMetrics counts logins.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = c
	}
}

// Service registers and authenticates password users.
type Service struct {
	store   storage.Store
	hasher  Hasher
	now     func() time.Time
	events  eventbus.Publisher
	metrics *metrics.Collector

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		hasher: DefaultHasher,
		now:    time.Now,
		events: eventbus.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registration is the input to Register.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Register creates a user with a password and a profile.
func (s *Service) Register(ctx context.Context, reg Registration) (*storage.User, error) {
	email, err := normalizeEmail(reg.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(reg.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Generate([]byte(reg.Password))
	if err != nil {
		return nil, errors.WrapPrefix(err, "pwdauth: hash password", 0)
	}

	now := s.now().UTC()
	user := &storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	first, last := oauth.SplitName(reg.Name)
	profile := &storage.Profile{ID: uuid.NewString(), FirstName: first, LastName: last}

	if err := s.store.CreateUser(ctx, user, profile, nil); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, errors.Mark(ErrEmailTaken, 0)
		}
		return nil, errors.WrapPrefix(err, "pwdauth: create user", 0)
	}

	logging.Infow(ctx, "pwdauth: registered", "user.id", user.ID)
	s.published(user, true)
	return user, nil
}

// Login checks an email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.WrapPrefix(err, "pwdauth: find user", 0)
	}

	if user == nil || user.PasswordHash == "" {
		// Compare anyway so unknown emails take as long as wrong passwords.
		_ = s.hasher.Compare(s.dummy(), []byte(password))
		return nil, errors.Mark(ErrInvalidCredentials, 0)
	}
	if err := s.hasher.Compare([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.Mark(ErrInvalidCredentials, 0)
	}

	s.published(user, false)
	return user, nil
}

func (s *Service) published(user *storage.User, created bool) {
	s.metrics.RecordLogin(ProviderName, created)
	s.events.Publish(eventbus.TopicLogin, eventbus.LoginEvent{
		UserID:   user.ID,
		Email:    user.Email,
		Provider: ProviderName,
		NewUser:  created,
		At:       s.now().UTC(),
	})
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Generate([]byte("authcore-dummy-password"))
	})
	return s.dummyHash
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "a valid email address is required")
	}
	return email, nil
}

func validatePassword(pw string) error {
	switch {
	case len(pw) < minPasswordLength:
		return invalid("password", "password must be at least 8 characters")
	case len(pw) > maxPasswordLength:
		return invalid("password", "password must be at most 72 bytes")
	}
	return nil
}

func invalid(field, desc string) error {
	return errors.Mark(ErrInvalidInput, 1).
		WithPublicMessage(desc).
		WithDetails(&errdetails.BadRequest{
			FieldViolations: []*errdetails.BadRequest_FieldViolation{
				{Field: field, Description: desc},
			},
		})
}
